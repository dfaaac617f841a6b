package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eldtechnologies/chatsync/internal/errs"
)

// Mode selects how Update writes back a modified node.
type Mode int

const (
	// ModeOverwrite reads, modifies and writes with no version check. The
	// last writer of the node wins and concurrent updates can be lost.
	ModeOverwrite Mode = iota
	// ModeCompareAndSet retries the read-modify-write until the root
	// document is unchanged between read and write.
	ModeCompareAndSet
)

// MaxCASAttempts bounds ModeCompareAndSet retries.
const MaxCASAttempts = 8

// ErrSkip may be returned by a Mutator to leave the node untouched.
var ErrSkip = errors.New("tree: skip write")

// Mutator computes the next node from the current one.
type Mutator func(cur Node, exists bool) (Node, error)

// ParseMode parses "overwrite" or "cas".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return ModeOverwrite, nil
	case "cas", "compare-and-set":
		return ModeCompareAndSet, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeCompareAndSet {
		return "cas"
	}
	return "overwrite"
}

// Update applies fn to the node at path. Store failures are reported as
// errs.ErrStoreUnavailable; errors from fn are returned unchanged.
func Update(ctx context.Context, s Store, path string, mode Mode, fn Mutator) error {
	if mode == ModeCompareAndSet {
		vs, ok := s.(Versioned)
		if !ok {
			return errs.Unavailable("update "+path, ErrUnversioned)
		}
		return updateCAS(ctx, vs, path, fn)
	}

	cur, ok, err := s.Read(ctx, path)
	if err != nil {
		return errs.Unavailable("read "+path, err)
	}
	next, err := fn(cur, ok)
	if errors.Is(err, ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.Write(ctx, path, next); err != nil {
		return errs.Unavailable("write "+path, err)
	}
	return nil
}

func updateCAS(ctx context.Context, s Versioned, path string, fn Mutator) error {
	for attempt := 0; attempt < MaxCASAttempts; attempt++ {
		cur, ver, ok, err := s.ReadVersion(ctx, path)
		if err != nil {
			return errs.Unavailable("read "+path, err)
		}
		next, err := fn(cur, ok)
		if errors.Is(err, ErrSkip) {
			return nil
		}
		if err != nil {
			return err
		}
		err = s.WriteIfVersion(ctx, path, next, ver)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return errs.Unavailable("write "+path, err)
		}
	}
	return errs.Unavailable("write "+path, ErrVersionConflict)
}
