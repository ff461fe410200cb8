package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.transfers.Items())
}

func (s *Server) handleTransferAction(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var err error
	switch payload.Action {
	case "pause":
		err = s.transfers.Pause(itemID)
	case "resume":
		err = s.transfers.Resume(itemID)
	case "cancel":
		err = s.transfers.Cancel(itemID)
	default:
		RespondWithError(w, http.StatusBadRequest, "Unknown action")
		return
	}
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			RespondWithError(w, http.StatusNotFound, err.Error())
		} else {
			RespondWithError(w, http.StatusConflict, err.Error())
		}
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Action applied."})
}
