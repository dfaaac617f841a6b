// Package conversations maintains each user's list of conversation summaries.
//
// The list lives under the owner's node as "conversations". Every mutation
// reads the whole owner node, edits the list and writes the node back, so in
// tree.ModeOverwrite concurrent writers to one owner can lose updates.
package conversations

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/codec"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/metrics"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// UpsertOptions tunes Upsert.
type UpsertOptions struct {
	// RequireOwner fails with errs.ErrNotFound when the owner node is absent
	// instead of creating it.
	RequireOwner bool
}

// Index is the per-user conversation summary list.
type Index struct {
	store  tree.Store
	mode   tree.Mode
	logger zerolog.Logger
}

// New creates an Index.
func New(store tree.Store, mode tree.Mode, logger zerolog.Logger) *Index {
	return &Index{
		store:  store,
		mode:   mode,
		logger: logger.With().Str("component", "conversations").Logger(),
	}
}

// Path returns the store path of owner's summary list.
func Path(ownerEmail string) string {
	return tree.Join(identity.SafeKey(ownerEmail), codec.FieldConversations)
}

// Upsert stores summary in owner's list. An entry for the same peer only
// gets its latest message replaced; otherwise the summary is appended.
func (x *Index) Upsert(ctx context.Context, ownerEmail string, summary models.ConversationSummary, opts UpsertOptions) error {
	ownerPath := identity.SafeKey(ownerEmail)
	latest := codec.EncodeLatestMessage(summary.LatestMessage)

	return tree.Update(ctx, x.store, ownerPath, x.mode, func(cur tree.Node, exists bool) (tree.Node, error) {
		if !exists && opts.RequireOwner {
			return nil, errs.NotFound("user node " + ownerPath)
		}
		owner := codec.Object(cur)
		list := codec.Entries(owner[codec.FieldConversations])

		replaced := false
		for i, entry := range list {
			if peer, ok := codec.Str(entry, codec.FieldPeerEmail); ok && peer == summary.PeerEmail {
				obj := codec.Object(entry)
				obj[codec.FieldLatestMessage] = latest
				list[i] = obj
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, codec.EncodeSummary(summary))
		}

		owner[codec.FieldConversations] = list
		return owner, nil
	})
}

// List returns owner's well-formed summaries in stored order.
func (x *Index) List(ctx context.Context, ownerEmail string) ([]models.ConversationSummary, error) {
	node, _, err := x.store.Read(ctx, Path(ownerEmail))
	if err != nil {
		return nil, errs.Unavailable("read conversations", err)
	}
	return x.decode(node)
}

// Observe streams owner's summary list after every change. Deliveries that
// cannot be decoded as a list are skipped.
func (x *Index) Observe(ctx context.Context, ownerEmail string) (<-chan []models.ConversationSummary, error) {
	nodes, err := x.store.Observe(ctx, Path(ownerEmail))
	if err != nil {
		return nil, errs.Unavailable("observe conversations", err)
	}

	out := make(chan []models.ConversationSummary)
	go func() {
		defer close(out)
		for node := range nodes {
			list, err := x.decode(node)
			if err != nil {
				x.logger.Warn().Err(err).Str("owner", ownerEmail).Msg("skipping undecodable conversations delivery")
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

// MarkRead flags the latest message of owner's conversation with peer as
// read. It reports false when there is no such conversation.
func (x *Index) MarkRead(ctx context.Context, ownerEmail, peerEmail string) (bool, error) {
	found := false
	err := tree.Update(ctx, x.store, Path(ownerEmail), x.mode, func(cur tree.Node, _ bool) (tree.Node, error) {
		found = false
		list := codec.Entries(cur)
		for i, entry := range list {
			if peer, ok := codec.Str(entry, codec.FieldPeerEmail); ok && peer == peerEmail {
				obj := codec.Object(entry)
				latest := codec.Object(obj[codec.FieldLatestMessage])
				latest[codec.FieldIsRead] = true
				obj[codec.FieldLatestMessage] = latest
				list[i] = obj
				found = true
				break
			}
		}
		if !found {
			return nil, tree.ErrSkip
		}
		return list, nil
	})
	return found, err
}

func (x *Index) decode(node tree.Node) ([]models.ConversationSummary, error) {
	list, dropped, err := codec.DecodeList(codec.FieldConversations, node, codec.DecodeSummary)
	if err != nil {
		return nil, err
	}
	for _, drop := range dropped {
		x.logger.Debug().Int("index", drop.Index).Err(drop.Err).Msg("skipping malformed conversation summary")
	}
	if len(dropped) > 0 {
		metrics.DecodeDropped.WithLabelValues(codec.FieldConversations).Add(float64(len(dropped)))
	}
	return list, nil
}
