// Package feed holds the latest list delivered by a subscription.
//
// Store subscriptions deliver the whole list on every change. A view
// replaces its contents wholesale, so growth, shrinking and reordering all
// apply, except that an empty delivery never clears a non-empty view: an
// empty snapshot is treated as a transient read, not a deletion.
package feed

import (
	"context"
	"sync"

	"github.com/eldtechnologies/chatsync/internal/models"
)

// View is the latest non-trivially-empty list seen on a subscription.
type View[T any] struct {
	mu      sync.RWMutex
	items   []T
	updates int
}

// Apply replaces the view with list and reports whether it changed.
func (v *View[T]) Apply(list []T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(list) == 0 && len(v.items) > 0 {
		return false
	}
	v.items = append([]T(nil), list...)
	v.updates++
	return true
}

// Items returns a copy of the current list.
func (v *View[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]T(nil), v.items...)
}

// Len returns the number of items in the view.
func (v *View[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

// Updates returns how many deliveries were applied.
func (v *View[T]) Updates() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.updates
}

// Run applies deliveries from ch until it closes or ctx is done. onChange,
// if set, is called with the new list after every applied delivery.
func (v *View[T]) Run(ctx context.Context, ch <-chan []T, onChange func([]T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-ch:
			if !ok {
				return
			}
			if v.Apply(list) && onChange != nil {
				onChange(v.Items())
			}
		}
	}
}

// MessageView follows a conversation's message log.
type MessageView = View[models.Message]

// ConversationView follows a user's conversation index.
type ConversationView = View[models.ConversationSummary]
