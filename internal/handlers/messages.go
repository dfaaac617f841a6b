package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/models"
)

// MessageListResponse represents a page of a conversation's message log.
type MessageListResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Total          int              `json:"total"`
	HasMore        bool             `json:"has_more"`
}

// conversationID returns the conversation named in the URL if the session
// user takes part in it.
func (h *Handler) conversationID(w http.ResponseWriter, r *http.Request) (string, identity.Session, bool) {
	s, ok := h.session(w, r)
	if !ok {
		return "", s, false
	}
	id := chi.URLParam(r, "id")

	member, err := h.isParticipant(r.Context(), id, s.Email)
	if err != nil {
		h.fail(w, r, err)
		return "", s, false
	}
	if !member {
		h.Error(w, http.StatusForbidden, "not a participant of this conversation")
		return "", s, false
	}
	return id, s, true
}

// isParticipant reports whether email is one of the two users of id. The
// other user must be a peer in email's index or a registered user, so a
// key that merely prefixes another user's key does not match.
func (h *Handler) isParticipant(ctx context.Context, id, email string) (bool, error) {
	if len(identity.PeerKeys(id, email)) == 0 {
		return false, nil
	}

	summaries, err := h.index.List(ctx, email)
	if err != nil {
		return false, err
	}
	for _, c := range summaries {
		if identity.ConversationID(email, c.PeerEmail) == id {
			return true, nil
		}
	}

	users, err := h.directory.List(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if identity.ConversationID(email, u.Email) == id {
			return true, nil
		}
	}
	return false, nil
}

// GetMessages handles reading a conversation's message log in order.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.conversationID(w, r)
	if !ok {
		return
	}
	limit, offset := page(r, 100, 500)

	list, err := h.log.List(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	selected, more := window(list, limit, offset)
	h.JSON(w, http.StatusOK, MessageListResponse{
		ConversationID: id,
		Messages:       selected,
		Total:          len(list),
		HasMore:        more,
	})
}

// MarkMessagesRead flags every message the session user received in the
// conversation as read.
func (h *Handler) MarkMessagesRead(w http.ResponseWriter, r *http.Request) {
	id, s, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	n, err := h.log.MarkRead(r.Context(), id, s.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, ReadResponse{Updated: n})
}
