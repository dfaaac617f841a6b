// Package directory maintains the global list of registered users.
package directory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/codec"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/metrics"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// UsersPath is the store path of the global user list.
const UsersPath = codec.FieldUsers

// Directory reads and writes the user list and each user's own node.
type Directory struct {
	store  tree.Store
	mode   tree.Mode
	logger zerolog.Logger
}

// New creates a Directory.
func New(store tree.Store, mode tree.Mode, logger zerolog.Logger) *Directory {
	return &Directory{
		store:  store,
		mode:   mode,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// Register creates the user's node and appends the user to the directory.
// The two writes are not atomic: if the second fails the user node exists
// without a directory entry.
func (d *Directory) Register(ctx context.Context, email, displayName string) error {
	email = strings.TrimSpace(email)
	displayName = SanitizeName(displayName)
	if !IsValidEmail(email) {
		return errs.Invalid("invalid email %q", email)
	}
	if displayName == "" {
		return errs.Invalid("display name is required")
	}

	d.checkCollision(ctx, email)

	key := identity.SafeKey(email)
	if err := d.store.Write(ctx, key, map[string]any{codec.FieldName: displayName}); err != nil {
		return errs.Unavailable("write user node", err)
	}

	user := codec.EncodeUser(models.User{Email: email, DisplayName: displayName})
	err := tree.Update(ctx, d.store, UsersPath, d.mode, func(cur tree.Node, _ bool) (tree.Node, error) {
		return append(codec.Entries(cur), user), nil
	})
	if err != nil {
		d.logger.Error().Err(err).Str("email", email).Msg("user node written without directory entry")
		return err
	}

	metrics.UsersRegistered.Inc()
	d.logger.Info().Str("email", email).Msg("user registered")
	return nil
}

// checkCollision flags, but does not prevent, two emails sharing a store key.
func (d *Directory) checkCollision(ctx context.Context, email string) {
	users, err := d.List(ctx)
	if err != nil {
		return
	}
	for _, u := range users {
		if identity.Collides(u.Email, email) {
			metrics.SafeKeyCollisions.Inc()
			d.logger.Warn().
				Str("email", email).
				Str("existing", u.Email).
				Str("key", identity.SafeKey(email)).
				Msg("store key collision between distinct users")
		}
	}
}

// List returns every well-formed directory entry. Malformed entries are
// skipped. A missing directory is an empty list.
func (d *Directory) List(ctx context.Context) ([]models.User, error) {
	node, _, err := d.store.Read(ctx, UsersPath)
	if err != nil {
		return nil, errs.Unavailable("read users", err)
	}

	users, dropped, err := codec.DecodeList(UsersPath, node, codec.DecodeUser)
	if err != nil {
		return nil, err
	}
	for _, drop := range dropped {
		d.logger.Debug().Int("index", drop.Index).Err(drop.Err).Msg("skipping malformed user entry")
	}
	if len(dropped) > 0 {
		metrics.DecodeDropped.WithLabelValues(UsersPath).Add(float64(len(dropped)))
	}
	return users, nil
}

// FindDisplayName returns the display name of the first entry matching email.
func (d *Directory) FindDisplayName(ctx context.Context, email string) (string, bool, error) {
	users, err := d.List(ctx)
	if err != nil {
		return "", false, err
	}
	for _, u := range users {
		if u.Email == email {
			return u.DisplayName, true, nil
		}
	}
	return "", false, nil
}

// Rename replaces the display name of the matching directory entry and of
// the user's own node. It reports false, without error, when no entry matches.
func (d *Directory) Rename(ctx context.Context, email, newName string) (bool, error) {
	newName = SanitizeName(newName)
	if newName == "" {
		return false, errs.Invalid("display name is required")
	}

	found := false
	err := tree.Update(ctx, d.store, UsersPath, d.mode, func(cur tree.Node, _ bool) (tree.Node, error) {
		found = false
		entries := codec.Entries(cur)
		for i, entry := range entries {
			if e, ok := codec.Str(entry, "email"); ok && e == email {
				obj := codec.Object(entry)
				obj[codec.FieldName] = newName
				entries[i] = obj
				found = true
				break
			}
		}
		if !found {
			return nil, tree.ErrSkip
		}
		return entries, nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		d.logger.Info().Str("email", email).Msg("rename skipped, user not in directory")
		return false, nil
	}

	namePath := tree.Join(identity.SafeKey(email), codec.FieldName)
	err = tree.Update(ctx, d.store, identity.SafeKey(email), d.mode, func(cur tree.Node, exists bool) (tree.Node, error) {
		if !exists {
			return nil, tree.ErrSkip
		}
		obj := codec.Object(cur)
		obj[codec.FieldName] = newName
		return obj, nil
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("path", namePath).Msg("directory renamed but user node not updated")
		return true, err
	}
	return true, nil
}
