package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"studiumai/internal/app"
)

func (s *Server) handleListNotebooks(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	notebooks, err := s.app.ListNotebooks(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebooks": notebooks})
}

func (s *Server) handleGetNotebook(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	nb, err := s.app.GetNotebook(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebook": nb})
}

func (s *Server) handleCreateNotebook(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	var req app.CreateNotebookInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	nb, err := s.app.CreateNotebook(r.Context(), user, req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"notebook": nb})
}

func (s *Server) handleUpdateNotebook(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	var req app.UpdateNotebookInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	nb, err := s.app.UpdateNotebook(r.Context(), user, chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notebook": nb})
}

func (s *Server) handleDeleteNotebook(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	if err := s.app.DeleteNotebook(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Notebook deleted successfully")
}
