package tree

import (
	"context"
	"errors"
	"sync"
)

// maxWriteAttempts bounds the internal retry loop for sub-path writes.
const maxWriteAttempts = 16

// Backend persists whole root documents as encoded JSON.
type Backend interface {
	// Get returns the encoded document and its version. A missing document
	// returns nil data and version 0 with no error.
	Get(ctx context.Context, root string) ([]byte, Version, error)
	// Put stores doc (nil deletes). When conditional is set the write only
	// succeeds if the current version equals expect, otherwise it returns
	// ErrVersionConflict. It returns the new version.
	Put(ctx context.Context, root string, doc []byte, expect Version, conditional bool) (Version, error)
	Ping(ctx context.Context) error
	Close() error
}

// Watcher is implemented by backends that signal changes made by any
// process. Backends without it only see changes made through this process.
type Watcher interface {
	Watch(ctx context.Context, root string) (<-chan struct{}, error)
}

// DocStore implements Store and Versioned on top of a Backend.
type DocStore struct {
	backend Backend
	hub     *hub
}

// NewDocStore wraps a backend.
func NewDocStore(b Backend) *DocStore {
	return &DocStore{backend: b, hub: newHub()}
}

// Backend returns the underlying backend.
func (s *DocStore) Backend() Backend { return s.backend }

func (s *DocStore) Read(ctx context.Context, path string) (Node, bool, error) {
	n, _, ok, err := s.ReadVersion(ctx, path)
	return n, ok, err
}

func (s *DocStore) ReadVersion(ctx context.Context, path string) (Node, Version, bool, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, 0, false, err
	}
	doc, ver, err := s.load(ctx, p.Root())
	if err != nil {
		return nil, 0, false, err
	}
	n, ok := lookup(doc, p.Rest())
	return n, ver, ok, nil
}

func (s *DocStore) Write(ctx context.Context, path string, node Node) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	value, err := Normalize(node)
	if err != nil {
		return err
	}

	if len(p.Rest()) == 0 {
		raw, err := encodeDoc(value)
		if err != nil {
			return err
		}
		if _, err := s.backend.Put(ctx, p.Root(), raw, 0, false); err != nil {
			return err
		}
		s.hub.notify(p.Root())
		return nil
	}

	// A sub-path write only replaces its own subtree, so concurrent writes
	// to sibling paths of the same root must not clobber each other.
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err = s.put(ctx, p, value, 0, false)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return err
}

func (s *DocStore) WriteIfVersion(ctx context.Context, path string, node Node, v Version) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	value, err := Normalize(node)
	if err != nil {
		return err
	}
	return s.put(ctx, p, value, v, true)
}

// put reads the root, splices value in and writes it back conditionally.
// When pinned is set the root must be at version want.
func (s *DocStore) put(ctx context.Context, p Path, value Node, want Version, pinned bool) error {
	doc, ver, err := s.load(ctx, p.Root())
	if err != nil {
		return err
	}
	if pinned && ver != want {
		return ErrVersionConflict
	}
	raw, err := encodeDoc(setIn(doc, p.Rest(), value))
	if err != nil {
		return err
	}
	if _, err := s.backend.Put(ctx, p.Root(), raw, ver, true); err != nil {
		return err
	}
	s.hub.notify(p.Root())
	return nil
}

func (s *DocStore) load(ctx context.Context, root string) (Node, Version, error) {
	raw, ver, err := s.backend.Get(ctx, root)
	if err != nil {
		return nil, 0, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, 0, err
	}
	return doc, ver, nil
}

func (s *DocStore) Observe(ctx context.Context, path string) (<-chan Node, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	var signals <-chan struct{}
	if w, ok := s.backend.(Watcher); ok {
		signals, err = w.Watch(ctx, p.Root())
		if err != nil {
			return nil, err
		}
	} else {
		signals = s.hub.subscribe(ctx, p.Root())
	}

	out := make(chan Node)
	go func() {
		defer close(out)
		for {
			if node, _, _, err := s.ReadVersion(ctx, path); err == nil {
				select {
				case out <- node:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *DocStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *DocStore) Close() error {
	return s.backend.Close()
}

// hub fans local change signals out to observers of a root document.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *hub) subscribe(ctx context.Context, root string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.subs[root] == nil {
		h.subs[root] = make(map[chan struct{}]struct{})
	}
	h.subs[root][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[root], ch)
		if len(h.subs[root]) == 0 {
			delete(h.subs, root)
		}
		h.mu.Unlock()
	}()
	return ch
}

// notify coalesces: an observer that has not consumed the previous signal
// still re-reads the latest document once.
func (h *hub) notify(root string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[root] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Notify lets backends with their own change feed reuse the local fan-out.
func (s *DocStore) Notify(root string) {
	s.hub.notify(root)
}
