package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tree_docs (
	root       TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	version    BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresBackend stores root documents as JSONB rows and announces writes
// with NOTIFY.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a new PostgreSQL backend with a connection pool
// and makes sure its table exists.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

// Close closes the database connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Ping checks the database connection.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Get(ctx context.Context, root string) ([]byte, tree.Version, error) {
	defer observe("postgres", "get", time.Now())

	var (
		doc []byte
		ver int64
	)
	err := b.pool.QueryRow(ctx, `
		SELECT doc::text, version FROM tree_docs WHERE root = $1
	`, root).Scan(&doc, &ver)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return doc, tree.Version(ver), nil
}

func (b *PostgresBackend) Put(ctx context.Context, root string, doc []byte, expect tree.Version, conditional bool) (tree.Version, error) {
	defer observe("postgres", "put", time.Now())

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	next, err := putRow(ctx, tx, root, doc, expect, conditional)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, root); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return next, nil
}

func putRow(ctx context.Context, tx pgx.Tx, root string, doc []byte, expect tree.Version, conditional bool) (tree.Version, error) {
	if doc == nil {
		tag, err := tx.Exec(ctx, `
			DELETE FROM tree_docs WHERE root = $1 AND ($2 = false OR version = $3)
		`, root, conditional, int64(expect))
		if err != nil {
			return 0, err
		}
		if conditional && expect != 0 && tag.RowsAffected() == 0 {
			return 0, tree.ErrVersionConflict
		}
		return 0, nil
	}

	var ver int64
	var err error
	switch {
	case !conditional:
		err = tx.QueryRow(ctx, `
			INSERT INTO tree_docs (root, doc, version)
			VALUES ($1, $2::jsonb, 1)
			ON CONFLICT (root) DO UPDATE
			SET doc = EXCLUDED.doc, version = tree_docs.version + 1, updated_at = now()
			RETURNING version
		`, root, string(doc)).Scan(&ver)
	case expect == 0:
		err = tx.QueryRow(ctx, `
			INSERT INTO tree_docs (root, doc, version)
			VALUES ($1, $2::jsonb, 1)
			ON CONFLICT (root) DO NOTHING
			RETURNING version
		`, root, string(doc)).Scan(&ver)
	default:
		err = tx.QueryRow(ctx, `
			UPDATE tree_docs
			SET doc = $2::jsonb, version = version + 1, updated_at = now()
			WHERE root = $1 AND version = $3
			RETURNING version
		`, root, string(doc), int64(expect)).Scan(&ver)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tree.ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return tree.Version(ver), nil
}

// Watch listens for change notifications about root. Each watcher holds one
// pooled connection until ctx ends.
func (b *PostgresBackend) Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN "+changesChannel)
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return
			}
			if n.Payload == root {
				signal(out)
			}
		}
	}()
	return out, nil
}
