package handlers

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/models"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"required"`
}

// Register handles user registration. Registering an email that is already
// in the directory returns the existing entry.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)

	// Check if already registered (idempotent registration)
	if name, ok, err := h.directory.FindDisplayName(r.Context(), email); err != nil {
		h.fail(w, r, err)
		return
	} else if ok {
		h.JSON(w, http.StatusOK, models.User{Email: email, DisplayName: name})
		return
	}

	if err := h.directory.Register(r.Context(), email, req.Name); err != nil {
		h.fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusCreated, models.User{Email: email, DisplayName: directory.SanitizeName(req.Name)})
}
