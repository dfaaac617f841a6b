// Package treetest provides tree.Store wrappers for tests: failure
// injection and hooks that let a test interleave concurrent writers.
package treetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/eldtechnologies/chatsync/internal/tree"
)

// ErrInjected is returned by operations failed by a Store.
var ErrInjected = errors.New("treetest: injected failure")

// Store wraps a tree.DocStore, failing or intercepting chosen operations.
type Store struct {
	*tree.DocStore

	mu         sync.Mutex
	failRead   map[string]bool
	failWrite  map[string]bool
	afterRead  func(path string)
	writeCount map[string]int
}

// New wraps a fresh in-memory store.
func New() *Store {
	return Wrap(tree.NewMemoryStore())
}

// Wrap wraps an existing DocStore.
func Wrap(s *tree.DocStore) *Store {
	return &Store{
		DocStore:   s,
		failRead:   make(map[string]bool),
		failWrite:  make(map[string]bool),
		writeCount: make(map[string]int),
	}
}

// FailReads makes reads of every path under root fail.
func (s *Store) FailReads(root string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRead[root] = fail
}

// FailWrites makes writes of every path under root fail.
func (s *Store) FailWrites(root string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite[root] = fail
}

// AfterRead installs a hook run after each successful read. The hook runs
// once per read, outside of any lock, and may itself use the store.
func (s *Store) AfterRead(fn func(path string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterRead = fn
}

// Writes returns how many writes reached root.
func (s *Store) Writes(root string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCount[root]
}

func rootOf(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

func (s *Store) readHook(path string) (func(string), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRead[rootOf(path)] {
		return nil, ErrInjected
	}
	return s.afterRead, nil
}

func (s *Store) writeCheck(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite[rootOf(path)] {
		return ErrInjected
	}
	s.writeCount[rootOf(path)]++
	return nil
}

func (s *Store) Read(ctx context.Context, path string) (tree.Node, bool, error) {
	hook, err := s.readHook(path)
	if err != nil {
		return nil, false, err
	}
	n, ok, err := s.DocStore.Read(ctx, path)
	if err == nil && hook != nil {
		hook(path)
	}
	return n, ok, err
}

func (s *Store) ReadVersion(ctx context.Context, path string) (tree.Node, tree.Version, bool, error) {
	hook, err := s.readHook(path)
	if err != nil {
		return nil, 0, false, err
	}
	n, v, ok, err := s.DocStore.ReadVersion(ctx, path)
	if err == nil && hook != nil {
		hook(path)
	}
	return n, v, ok, err
}

func (s *Store) Write(ctx context.Context, path string, node tree.Node) error {
	if err := s.writeCheck(path); err != nil {
		return err
	}
	return s.DocStore.Write(ctx, path, node)
}

func (s *Store) WriteIfVersion(ctx context.Context, path string, node tree.Node, v tree.Version) error {
	if err := s.writeCheck(path); err != nil {
		return err
	}
	return s.DocStore.WriteIfVersion(ctx, path, node, v)
}

// Once wraps fn so it runs only the first time it is called. Unlike
// sync.Once, fn may re-enter the wrapper (through the store) without
// blocking.
func Once(fn func(path string)) func(path string) {
	var mu sync.Mutex
	done := false
	return func(path string) {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		mu.Unlock()
		fn(path)
	}
}
