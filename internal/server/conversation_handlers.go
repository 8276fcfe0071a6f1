package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"studiumai/internal/app"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	conv, err := s.app.CreateConversation(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	convs, err := s.app.ListConversations(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	msgs, err := s.app.GetMessages(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	var req app.SendMessageInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	userMsg, assistantMsg, err := s.app.SendMessage(r.Context(), user, chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userMessage":      userMsg,
		"assistantMessage": assistantMsg,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	if err := s.app.DeleteConversation(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Conversation deleted successfully")
}
