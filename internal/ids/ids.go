// Package ids generates identifiers for messages and send attempts.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewMessageID returns a ULID. IDs made by one process sort in creation order.
func NewMessageID() string {
	return ulid.Make().String()
}
