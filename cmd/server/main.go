package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/api"
	"github.com/eldtechnologies/chatsync/internal/api/middleware"
	"github.com/eldtechnologies/chatsync/internal/config"
	"github.com/eldtechnologies/chatsync/internal/conversations"
	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/events"
	"github.com/eldtechnologies/chatsync/internal/handlers"
	"github.com/eldtechnologies/chatsync/internal/messages"
	"github.com/eldtechnologies/chatsync/internal/orchestrator"
	"github.com/eldtechnologies/chatsync/internal/store"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}

	mode, err := cfg.Mode()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid write mode")
	}

	ctx := context.Background()

	// Open the tree store
	docs, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store connection failed")
	}
	defer docs.Close()

	// Publish sent messages to NATS when configured
	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(ctx, cfg.NATSURL, cfg.NATSStream, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		defer p.Close()
		publisher = p
		logger.Info().Str("stream", cfg.NATSStream).Msg("connected to NATS")
	}

	dir := directory.New(docs, mode, logger)
	index := conversations.New(docs, mode, logger)
	log := messages.New(docs, messages.Options{Mode: mode, DedupByMessageID: cfg.DedupMessageIDs}, logger)
	orch := orchestrator.New(index, log, dir, publisher, logger)

	h := handlers.NewHandler(handlers.Deps{
		Store:        docs,
		Backend:      cfg.StoreBackend,
		Directory:    dir,
		Index:        index,
		Log:          log,
		Orchestrator: orch,
	}, logger)

	limits := middleware.RateLimiterConfig{
		RPS:       cfg.RateLimitRPS,
		Burst:     cfg.RateLimitBurst,
		Whitelist: cfg.RateLimitWhitelist,
	}
	// Share rate limit counters through Redis when it backs the store
	if rb, ok := docs.Backend().(*store.RedisBackend); ok {
		limits.Redis = rb.Client()
	}

	// Create router
	router := api.NewRouter(logger, h, dir, api.Options{RateLimit: limits})

	// Create server. Websocket streams outlive WriteTimeout, so it is unset.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("backend", cfg.StoreBackend).
			Stringer("write_mode", mode).
			Msg("starting chatsync server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
