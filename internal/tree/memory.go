package tree

import (
	"context"
	"sync"
)

type memEntry struct {
	raw []byte
	ver Version
}

// MemoryBackend keeps root documents in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]memEntry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]memEntry)}
}

// NewMemoryStore returns a Store backed by process memory.
func NewMemoryStore() *DocStore {
	return NewDocStore(NewMemoryBackend())
}

func (b *MemoryBackend) Get(_ context.Context, root string) ([]byte, Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.docs[root]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), e.raw...), e.ver, nil
}

func (b *MemoryBackend) Put(_ context.Context, root string, doc []byte, expect Version, conditional bool) (Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.docs[root]
	if conditional && cur.ver != expect {
		return 0, ErrVersionConflict
	}
	if doc == nil {
		delete(b.docs, root)
		return 0, nil
	}
	next := cur.ver + 1
	b.docs[root] = memEntry{raw: append([]byte(nil), doc...), ver: next}
	return next, nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
