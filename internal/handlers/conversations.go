package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatsync/internal/models"
)

// ConversationListResponse represents the session user's conversations.
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// ListConversations handles listing the session user's conversation index.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	list, err := h.index.List(r.Context(), s.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.ConversationSummary{}
	}

	h.JSON(w, http.StatusOK, ConversationListResponse{Conversations: list})
}

// ReadResponse reports what a mark-read request changed.
type ReadResponse struct {
	Updated int `json:"updated"`
}

// MarkConversationRead flags the latest message of the conversation with
// the given peer as read in the session user's index.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	peer := strings.TrimSpace(chi.URLParam(r, "peer"))

	found, err := h.index.MarkRead(r.Context(), s.Email, peer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	h.JSON(w, http.StatusOK, ReadResponse{Updated: 1})
}
