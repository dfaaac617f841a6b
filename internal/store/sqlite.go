package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

// sqlitePollInterval is how often a watcher checks a document's version.
const sqlitePollInterval = 250 * time.Millisecond

// SQLiteBackend stores root documents in a single SQLite table. Watchers
// poll the version column, so writes from other processes sharing the file
// are observed too.
type SQLiteBackend struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteBackend creates a new SQLite backend.
// If dbPath is empty, defaults to "./data/chatsync.db"
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = "./data/chatsync.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// One connection serializes read-then-write transactions in-process.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, pollInterval: sqlitePollInterval}

	// Initialize schema
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

// initSchema creates tables if they don't exist.
func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tree_docs (
		root TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := b.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Get(ctx context.Context, root string) ([]byte, tree.Version, error) {
	defer observe("sqlite", "get", time.Now())

	var (
		doc string
		ver int64
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT doc, version FROM tree_docs WHERE root = ?
	`, root).Scan(&doc, &ver)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return []byte(doc), tree.Version(ver), nil
}

func (b *SQLiteBackend) Put(ctx context.Context, root string, doc []byte, expect tree.Version, conditional bool) (tree.Version, error) {
	defer observe("sqlite", "put", time.Now())

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cur int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM tree_docs WHERE root = ?`, root).Scan(&cur)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if conditional && tree.Version(cur) != expect {
		return 0, tree.ErrVersionConflict
	}

	var next int64
	if doc == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM tree_docs WHERE root = ?`, root)
	} else {
		next = cur + 1
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tree_docs (root, doc, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(root) DO UPDATE SET doc = excluded.doc, version = excluded.version, updated_at = excluded.updated_at
		`, root, string(doc), next, time.Now())
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return tree.Version(next), nil
}

// Watch polls root's version and signals when it changes.
func (b *SQLiteBackend) Watch(ctx context.Context, root string) (<-chan struct{}, error) {
	last, err := b.version(ctx, root)
	if err != nil {
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ver, err := b.version(ctx, root)
				if err != nil {
					continue
				}
				if ver != last {
					last = ver
					signal(out)
				}
			}
		}
	}()
	return out, nil
}

func (b *SQLiteBackend) version(ctx context.Context, root string) (int64, error) {
	var ver int64
	err := b.db.QueryRowContext(ctx, `SELECT version FROM tree_docs WHERE root = ?`, root).Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return ver, err
}
