package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/api/middleware"
	"github.com/eldtechnologies/chatsync/internal/handlers"
)

// Options configures the router.
type Options struct {
	RateLimit middleware.RateLimiterConfig
	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes fits a send of the longest allowed text (4096 runes)
// even when the client escapes every rune as a surrogate pair.
const DefaultMaxBodyBytes = 64 * 1024

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, sessions middleware.Directory, opts Options) *chi.Mux {
	r := chi.NewRouter()

	maxBody := opts.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBody))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(logger, opts.RateLimit)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.SessionHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	session := middleware.NewSessionMiddleware(sessions, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no session required)
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Post("/users", h.Register)
	r.Get("/users", h.ListUsers)
	r.Get("/users/{email}", h.Who)

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(session.RequireSession)
		r.Use(limiter.PerUser)

		r.Put("/me/name", h.Rename)
		r.Get("/me/conversations", h.ListConversations)
		r.Post("/me/conversations/{peer}/read", h.MarkConversationRead)

		r.Post("/messages", h.SendMessage)
		r.Post("/attempts/{id}/resume", h.ResumeAttempt)

		r.Get("/conversations/{id}/messages", h.GetMessages)
		r.Post("/conversations/{id}/read", h.MarkMessagesRead)

		r.Get("/ws/conversations", h.WatchConversations)
		r.Get("/ws/conversations/{id}/messages", h.WatchMessages)
	})

	return r
}
