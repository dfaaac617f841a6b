package models

import "time"

// ConversationSummary is one user's view of a conversation with a peer.
type ConversationSummary struct {
	ConversationID  string        `json:"id"`
	PeerEmail       string        `json:"other_user_email"`
	PeerDisplayName string        `json:"name"`
	LatestMessage   LatestMessage `json:"latest_message"`
}

// LatestMessage is the snapshot of the newest message in a conversation.
type LatestMessage struct {
	SentAt time.Time `json:"date"`
	Text   string    `json:"message"`
	IsRead bool      `json:"is_read"`
}
