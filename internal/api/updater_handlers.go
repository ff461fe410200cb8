package api

import "net/http"

func (s *Server) handleGetUpdaterStatus(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":              s.updater.Status().String(),
		"status_text":         s.updater.StatusText(),
		"progress":            s.updater.Progress(),
		"active_subscription": s.updater.ActiveSubscription(),
	})
}

func (s *Server) handleCancelUpdates(w http.ResponseWriter, r *http.Request) {
	s.updater.Cancel()
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Update queue canceled."})
}
