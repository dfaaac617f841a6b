package models

import "time"

// MessageKindText is the only message kind currently written.
const MessageKindText = "text"

// Message represents one entry of a conversation's message log.
type Message struct {
	ConversationID    string    `json:"conversation_id"`
	MessageID         string    `json:"id"` // ULID
	SenderEmail       string    `json:"sender_email"`
	SenderDisplayName string    `json:"name"`
	SentAt            time.Time `json:"date"`
	IsRead            bool      `json:"is_read"`
	Body              string    `json:"content"`
}

// Snapshot returns the latest-message view of m.
func (m Message) Snapshot() LatestMessage {
	return LatestMessage{SentAt: m.SentAt, Text: m.Body, IsRead: m.IsRead}
}
