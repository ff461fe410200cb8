package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.plugins.Manifests())
}

func (s *Server) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	if err := s.plugins.LoadPlugins(); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to reload plugins")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Plugins reloaded."})
}

func (s *Server) handleUnloadPlugin(w http.ResponseWriter, r *http.Request) {
	s.plugins.Unload(chi.URLParam(r, "pluginID"))
	w.WriteHeader(http.StatusNoContent)
}
