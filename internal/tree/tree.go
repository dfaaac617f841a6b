// Package tree defines the hierarchical key-path store the sync core runs on.
//
// A store holds root documents addressed by the first path segment; deeper
// segments navigate maps inside that document. Values are JSON-shaped:
// map[string]any, []any, string, float64, bool or nil.
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Node is a JSON-shaped value stored at a path.
type Node = any

// Version identifies the state of a root document. Zero means the document
// does not exist.
type Version uint64

var (
	ErrInvalidPath     = errors.New("tree: invalid path")
	ErrVersionConflict = errors.New("tree: version conflict")
	ErrUnversioned     = errors.New("tree: store does not support versioned writes")
)

// Store is the minimal contract the sync core needs from a backing store.
type Store interface {
	// Read returns the node at path. ok is false when nothing is stored there.
	Read(ctx context.Context, path string) (node Node, ok bool, err error)
	// Write replaces the subtree at path. A nil node deletes it.
	Write(ctx context.Context, path string, node Node) error
	// Observe delivers the current node at path, then the full node again
	// after every change to its root document. A nil delivery means the path
	// is absent. The channel is closed when ctx ends; observing again
	// restarts the sequence.
	Observe(ctx context.Context, path string) (<-chan Node, error)
	Ping(ctx context.Context) error
	Close() error
}

// Versioned is implemented by stores that support compare-and-set writes.
type Versioned interface {
	ReadVersion(ctx context.Context, path string) (Node, Version, bool, error)
	// WriteIfVersion writes node at path only if the root document is still
	// at version v. It returns ErrVersionConflict otherwise.
	WriteIfVersion(ctx context.Context, path string, node Node, v Version) error
}

// Path is a parsed, validated store path.
type Path []string

// ParsePath splits a "/"-delimited path and validates each segment.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segs := strings.Split(s, "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, s)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return nil, fmt.Errorf("%w: illegal character in segment %q", ErrInvalidPath, seg)
		}
	}
	return Path(segs), nil
}

// Join builds a path from segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// Root returns the root document key.
func (p Path) Root() string { return p[0] }

// Rest returns the segments below the root document.
func (p Path) Rest() []string { return p[1:] }

func (p Path) String() string { return strings.Join(p, "/") }
