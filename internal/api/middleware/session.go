package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/identity"
)

type contextKey string

const SessionContextKey contextKey = "session"

// SessionHeader carries the email of the user a request acts for.
const SessionHeader = "X-Chat-Email"

// Directory resolves registered users.
type Directory interface {
	FindDisplayName(ctx context.Context, email string) (string, bool, error)
}

// SessionMiddleware turns the session header into an identity.Session.
type SessionMiddleware struct {
	directory Directory
	logger    zerolog.Logger
}

// NewSessionMiddleware creates a new session middleware.
func NewSessionMiddleware(directory Directory, logger zerolog.Logger) *SessionMiddleware {
	return &SessionMiddleware{directory: directory, logger: logger}
}

// RequireSession rejects requests whose session header does not name a
// registered user.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.Header.Get(SessionHeader))
		if email == "" {
			jsonError(w, http.StatusUnauthorized, "missing "+SessionHeader+" header")
			return
		}

		name, ok, err := m.directory.FindDisplayName(r.Context(), email)
		if err != nil {
			m.logger.Error().Err(err).Str("email", email).Msg("session lookup failed")
			jsonError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		if !ok {
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := WithSession(r.Context(), identity.NewSession(email, name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetSessionFromContext retrieves the request's session.
func GetSessionFromContext(ctx context.Context) (identity.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(identity.Session)
	return s, ok
}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s identity.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}
