package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
	"github.com/eldtechnologies/chatsync/internal/tree/treetest"
)

func newDirectory(t *testing.T) (*Directory, *treetest.Store) {
	t.Helper()
	s := treetest.New()
	return New(s, tree.ModeOverwrite, zerolog.Nop()), s
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)

	require.NoError(t, d.Register(ctx, "a@x.com", "Alice"))
	require.NoError(t, d.Register(ctx, "b@y.com", "  Bob\n"))

	node, ok, err := s.Read(ctx, "a_x_com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Alice"}, node)

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.User{
		{Email: "a@x.com", DisplayName: "Alice"},
		{Email: "b@y.com", DisplayName: "Bob"},
	}, users)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)

	assert.ErrorIs(t, d.Register(ctx, "not-an-email", "X"), errs.ErrValidation)
	assert.ErrorIs(t, d.Register(ctx, "a@x.com", "   "), errs.ErrValidation)
	assert.Zero(t, s.Writes("users"))
}

func TestRegister_OrphanWhenDirectoryWriteFails(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)
	s.FailWrites("users", true)

	err := d.Register(ctx, "a@x.com", "Alice")
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)

	_, ok, err := s.Read(ctx, "a_x_com")
	require.NoError(t, err)
	assert.True(t, ok, "user node stays behind")

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegister_CollisionStillRegisters(t *testing.T) {
	ctx := context.Background()
	d, _ := newDirectory(t)

	require.NoError(t, d.Register(ctx, "a.b@x.com", "Dot"))
	require.NoError(t, d.Register(ctx, "a_b@x.com", "Underscore"))

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestList_DropsMalformed(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)

	require.NoError(t, s.Write(ctx, "users", []any{
		map[string]any{"email": "a@x.com", "name": "Alice"},
		map[string]any{"name": "no email"},
	}))

	users, err := d.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.User{{Email: "a@x.com", DisplayName: "Alice"}}, users)
}

func TestList_StoreUnavailable(t *testing.T) {
	d, s := newDirectory(t)
	s.FailReads("users", true)

	_, err := d.List(context.Background())
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestFindDisplayName(t *testing.T) {
	ctx := context.Background()
	d, _ := newDirectory(t)
	require.NoError(t, d.Register(ctx, "a@x.com", "Alice"))

	name, ok, err := d.FindDisplayName(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	_, ok, err = d.FindDisplayName(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)
	require.NoError(t, d.Register(ctx, "a@x.com", "Alice"))
	require.NoError(t, d.Register(ctx, "b@y.com", "Bob"))

	ok, err := d.Rename(ctx, "a@x.com", "Alicia")
	require.NoError(t, err)
	assert.True(t, ok)

	name, _, err := d.FindDisplayName(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", name)

	name, _, err = d.FindDisplayName(ctx, "b@y.com")
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)

	node, _, err := s.Read(ctx, "a_x_com/name")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", node)
}

func TestRename_NoMatchIsNoop(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)
	require.NoError(t, d.Register(ctx, "a@x.com", "Alice"))
	before := s.Writes("users")

	ok, err := d.Rename(ctx, "ghost@x.com", "Ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, s.Writes("users"))
	_, exists, err := s.Read(ctx, "ghost_x_com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Bob", SanitizeName(" B\x00ob\t "))
	assert.Len(t, []rune(SanitizeName(strings.Repeat("é", 150))), 100)
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("a@x.com"))
	assert.False(t, IsValidEmail(""))
	assert.False(t, IsValidEmail("a@x"))
}
