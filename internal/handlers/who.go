package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/models"
)

// UserListResponse represents the directory listing.
type UserListResponse struct {
	Users   []models.User `json:"users"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}

// ListUsers handles listing the directory.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r, 20, 100)

	users, err := h.directory.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	selected, more := window(users, limit, offset)
	h.JSON(w, http.StatusOK, UserListResponse{
		Users:   selected,
		Total:   len(users),
		HasMore: more,
	})
}

// Who handles user lookup by email.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(chi.URLParam(r, "email"))
	if !directory.IsValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	name, ok, err := h.directory.FindDisplayName(r.Context(), email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, models.User{Email: email, DisplayName: name})
}

// RenameRequest represents the rename request body.
type RenameRequest struct {
	Name string `json:"name" validate:"required"`
}

// Rename changes the session user's display name.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}

	found, err := h.directory.Rename(r.Context(), s.Email, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, models.User{Email: s.Email, DisplayName: directory.SanitizeName(req.Name)})
}
