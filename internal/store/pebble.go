package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

const pebbleDocPrefix = "doc:"

// PebbleBackend stores root documents in an embedded Pebble database. Each
// value is the 8-byte big-endian version followed by the encoded document.
// Pebble is single-process, so change signals come from the local hub in
// tree.DocStore.
type PebbleBackend struct {
	// mu serializes read-then-write so conditional puts are atomic.
	mu sync.Mutex
	db *pebble.DB
}

// NewPebbleBackend opens the database at path. A nil fs uses the OS
// filesystem; tests pass vfs.NewMem().
func NewPebbleBackend(path string, fs vfs.FS) (*PebbleBackend, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	} else if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: db}, nil
}

func pebbleKey(root string) []byte {
	return []byte(pebbleDocPrefix + root)
}

func (b *PebbleBackend) Get(_ context.Context, root string) ([]byte, tree.Version, error) {
	defer observe("pebble", "get", time.Now())
	return b.get(root)
}

func (b *PebbleBackend) get(root string) ([]byte, tree.Version, error) {
	v, closer, err := b.db.Get(pebbleKey(root))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %q: %w", root, err)
	}
	defer closer.Close()

	if len(v) < 8 {
		return nil, 0, fmt.Errorf("corrupt entry for %q", root)
	}
	ver := tree.Version(binary.BigEndian.Uint64(v[:8]))
	// Pebble data is only valid until closer is called
	doc := make([]byte, len(v)-8)
	copy(doc, v[8:])
	return doc, ver, nil
}

func (b *PebbleBackend) Put(_ context.Context, root string, doc []byte, expect tree.Version, conditional bool) (tree.Version, error) {
	defer observe("pebble", "put", time.Now())
	b.mu.Lock()
	defer b.mu.Unlock()

	_, cur, err := b.get(root)
	if err != nil {
		return 0, err
	}
	if conditional && cur != expect {
		return 0, tree.ErrVersionConflict
	}

	if doc == nil {
		if err := b.db.Delete(pebbleKey(root), pebble.Sync); err != nil {
			return 0, err
		}
		return 0, nil
	}

	next := cur + 1
	value := make([]byte, 8+len(doc))
	binary.BigEndian.PutUint64(value[:8], uint64(next))
	copy(value[8:], doc)
	if err := b.db.Set(pebbleKey(root), value, pebble.Sync); err != nil {
		return 0, err
	}
	return next, nil
}

// Ping reports whether the database is open.
func (b *PebbleBackend) Ping(context.Context) error {
	_, _, err := b.get("__ping__")
	return err
}

func (b *PebbleBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
