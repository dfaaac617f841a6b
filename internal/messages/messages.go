// Package messages maintains the shared, append-only message log of each
// conversation.
package messages

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/codec"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/metrics"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// Options tunes a Log.
type Options struct {
	Mode tree.Mode
	// DedupByMessageID turns an append of an already stored message ID into
	// a no-op, so resubmitting a send cannot duplicate a message.
	DedupByMessageID bool
}

// Log reads and appends conversation message logs.
type Log struct {
	store  tree.Store
	opts   Options
	logger zerolog.Logger
}

// New creates a Log.
func New(store tree.Store, opts Options, logger zerolog.Logger) *Log {
	return &Log{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "messages").Logger(),
	}
}

// Path returns the store path of a conversation's message list.
func Path(conversationID string) string {
	return tree.Join(conversationID, codec.FieldMessages)
}

// Append adds message to the end of the conversation's log, creating the log
// when it does not exist yet.
func (l *Log) Append(ctx context.Context, conversationID string, message models.Message) error {
	if message.MessageID == "" {
		return errs.Invalid("message id is required")
	}
	node := codec.EncodeMessage(message)

	return tree.Update(ctx, l.store, conversationID, l.opts.Mode, func(cur tree.Node, _ bool) (tree.Node, error) {
		conv := codec.Object(cur)
		list := codec.Entries(conv[codec.FieldMessages])

		if l.opts.DedupByMessageID {
			for _, entry := range list {
				if id, ok := codec.Str(entry, codec.FieldID); ok && id == message.MessageID {
					l.logger.Debug().
						Str("conversation", conversationID).
						Str("message", message.MessageID).
						Msg("message already in log")
					return nil, tree.ErrSkip
				}
			}
		}

		conv[codec.FieldMessages] = append(list, node)
		return conv, nil
	})
}

// List returns the conversation's well-formed messages in log order. An
// absent log is an empty list.
func (l *Log) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	node, _, err := l.store.Read(ctx, Path(conversationID))
	if err != nil {
		return nil, errs.Unavailable("read messages", err)
	}
	return l.decode(conversationID, node)
}

// Observe streams the full message list after every change to the log.
func (l *Log) Observe(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	nodes, err := l.store.Observe(ctx, Path(conversationID))
	if err != nil {
		return nil, errs.Unavailable("observe messages", err)
	}

	out := make(chan []models.Message)
	go func() {
		defer close(out)
		for node := range nodes {
			list, err := l.decode(conversationID, node)
			if err != nil {
				l.logger.Warn().Err(err).Str("conversation", conversationID).Msg("skipping undecodable messages delivery")
				continue
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// MarkRead flags every message not sent by readerEmail as read and returns
// how many changed. Read state is best effort: it is a separate write that
// may race with appends.
func (l *Log) MarkRead(ctx context.Context, conversationID, readerEmail string) (int, error) {
	changed := 0
	err := tree.Update(ctx, l.store, Path(conversationID), l.opts.Mode, func(cur tree.Node, _ bool) (tree.Node, error) {
		changed = 0
		list := codec.Entries(cur)
		for i, entry := range list {
			sender, _ := codec.Str(entry, codec.FieldSenderEmail)
			obj, ok := entry.(map[string]any)
			if !ok || sender == readerEmail {
				continue
			}
			if read, _ := obj[codec.FieldIsRead].(bool); read {
				continue
			}
			obj[codec.FieldIsRead] = true
			list[i] = obj
			changed++
		}
		if changed == 0 {
			return nil, tree.ErrSkip
		}
		return list, nil
	})
	return changed, err
}

func (l *Log) decode(conversationID string, node tree.Node) ([]models.Message, error) {
	list, dropped, err := codec.DecodeList(codec.FieldMessages, node, codec.MessageDecoder(conversationID))
	if err != nil {
		return nil, err
	}
	for _, drop := range dropped {
		l.logger.Debug().Int("index", drop.Index).Err(drop.Err).Msg("skipping malformed message")
	}
	if len(dropped) > 0 {
		metrics.DecodeDropped.WithLabelValues(codec.FieldMessages).Add(float64(len(dropped)))
	}
	return list, nil
}
