package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/api/middleware"
	"github.com/eldtechnologies/chatsync/internal/codec"
	"github.com/eldtechnologies/chatsync/internal/conversations"
	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/messages"
	"github.com/eldtechnologies/chatsync/internal/orchestrator"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

var validate = codec.NewValidator()

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store        tree.Store
	directory    *directory.Directory
	index        *conversations.Index
	log          *messages.Log
	orchestrator *orchestrator.Orchestrator
	attempts     *attemptCache
	backend      string
	logger       zerolog.Logger
}

// Deps are the services the handlers run on.
type Deps struct {
	Store        tree.Store
	Backend      string // name reported by the health check
	Directory    *directory.Directory
	Index        *conversations.Index
	Log          *messages.Log
	Orchestrator *orchestrator.Orchestrator
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		store:        deps.Store,
		directory:    deps.Directory,
		index:        deps.Index,
		log:          deps.Log,
		orchestrator: deps.Orchestrator,
		attempts:     newAttemptCache(maxCachedAttempts),
		backend:      deps.Backend,
		logger:       logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error from the sync core to an HTTP status.
func StatusFor(err error) int {
	var sendErr *orchestrator.SendError
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrNoSession):
		return http.StatusUnauthorized
	case errors.As(err, &sendErr):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status it maps to. Server-side failures are
// logged; their detail is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
		h.Error(w, status, http.StatusText(status))
		return
	}
	h.Error(w, status, err.Error())
}

// decode reads a JSON body into v and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			h.Error(w, http.StatusBadRequest, verrs[0].Field()+" is "+describeTag(verrs[0].Tag()))
			return false
		}
		h.Error(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "not a valid email"
	case "max":
		return "too long"
	default:
		return "invalid"
	}
}

// session returns the request's session. Routes that call it are mounted
// behind middleware.RequireSession.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (identity.Session, bool) {
	s, ok := middleware.GetSessionFromContext(r.Context())
	if !ok || !s.Valid() {
		h.Error(w, http.StatusUnauthorized, "session required")
		return identity.Session{}, false
	}
	return s, true
}

// page parses limit and offset query parameters.
func page(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// window returns the slice of items selected by limit and offset, and
// whether more items follow.
func window[T any](items []T, limit, offset int) ([]T, bool) {
	if offset >= len(items) {
		return []T{}, false
	}
	end := offset + limit
	if end >= len(items) {
		return items[offset:], false
	}
	return items[offset:end], true
}
