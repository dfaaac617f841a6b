// Package events publishes notifications about acknowledged sends.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix prefixes the per-conversation subject.
const DefaultSubjectPrefix = "chatsync.messages"

// MessageSent is published after a send is acknowledged.
type MessageSent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderEmail    string    `json:"sender_email"`
	PeerEmail      string    `json:"peer_email"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// Publisher delivers MessageSent events.
type Publisher interface {
	PublishMessageSent(ctx context.Context, evt MessageSent) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishMessageSent(context.Context, MessageSent) error { return nil }

func (Nop) Close() {}

// Subject returns the subject carrying events for one conversation.
func Subject(prefix, conversationID string) string {
	return fmt.Sprintf("%s.%s", prefix, conversationID)
}

// NATSPublisher publishes events to a JetStream stream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher connects to NATS and makes sure the stream exists.
func NewNATSPublisher(ctx context.Context, url, stream string, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, stream); err != nil {
		logger.Info().Str("stream", stream).Msg("stream not found, creating")
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "Acknowledged chat message sends",
			Subjects:    []string{DefaultSubjectPrefix + ".*"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", stream, err)
		}
	}

	return &NATSPublisher{nc: nc, js: js, prefix: DefaultSubjectPrefix, logger: logger}, nil
}

// PublishMessageSent publishes evt on its conversation subject.
func (p *NATSPublisher) PublishMessageSent(ctx context.Context, evt MessageSent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(p.prefix, evt.ConversationID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Str("message", evt.MessageID).Msg("published message event")
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
