// Package store provides the persistent backends the tree store runs on.
//
// Every backend keeps one encoded JSON document per root key together with
// a version counter, which is what tree.DocStore needs for compare-and-set
// writes. Redis and PostgreSQL also implement tree.Watcher so observers see
// changes made by other server processes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/config"
	"github.com/eldtechnologies/chatsync/internal/metrics"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// changesChannel is the Redis channel and PostgreSQL notification channel
// prefix carrying root keys of changed documents.
const changesChannel = "chatsync_changes"

// Open creates the tree store selected by cfg.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*tree.DocStore, error) {
	var (
		b   tree.Backend
		err error
	)
	switch cfg.StoreBackend {
	case config.BackendMemory:
		b = tree.NewMemoryBackend()
	case config.BackendRedis:
		b, err = NewRedisBackend(ctx, cfg.RedisURL)
	case config.BackendPostgres:
		b, err = NewPostgresBackend(ctx, cfg.DatabaseURL)
	case config.BackendSQLite:
		b, err = NewSQLiteBackend(ctx, cfg.SQLitePath)
	case config.BackendPebble:
		b, err = NewPebbleBackend(cfg.PebblePath, nil)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}

	logger.Info().Str("backend", cfg.StoreBackend).Msg("tree store ready")
	return tree.NewDocStore(b), nil
}

// observe records the latency of one backend operation.
func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// signal delivers a coalesced change notification.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
