package messages

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
	"github.com/eldtechnologies/chatsync/internal/tree/treetest"
)

const convID = "conversation_a_x_com_b_y_com"

func message(id, sender, body string) models.Message {
	return models.Message{
		ConversationID:    convID,
		MessageID:         id,
		SenderEmail:       sender,
		SenderDisplayName: "Name " + sender,
		SentAt:            time.Date(2025, 4, 29, 12, 0, 0, 0, time.UTC),
		Body:              body,
	}
}

func TestAppend_GrowsByOne(t *testing.T) {
	ctx := context.Background()
	l := New(tree.NewMemoryStore(), Options{}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		before, err := l.List(ctx, convID)
		require.NoError(t, err)

		m := message(fmt.Sprintf("m%d", i), "a@x.com", fmt.Sprintf("body %d", i))
		require.NoError(t, l.Append(ctx, convID, m))

		after, err := l.List(ctx, convID)
		require.NoError(t, err)
		require.Len(t, after, len(before)+1)
		assert.Equal(t, before, after[:len(before)], "prior messages unchanged and in order")
		assert.Equal(t, m, after[len(after)-1])
	}
}

func TestAppend_CreatesLogNode(t *testing.T) {
	ctx := context.Background()
	s := tree.NewMemoryStore()
	l := New(s, Options{}, zerolog.Nop())

	require.NoError(t, l.Append(ctx, convID, message("m1", "a@x.com", "hi")))

	node, ok, err := s.Read(ctx, convID)
	require.NoError(t, err)
	require.True(t, ok)
	msgs := node.(map[string]any)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "text", msgs[0].(map[string]any)["type"])
	assert.Equal(t, false, msgs[0].(map[string]any)["is_read"])
}

func TestAppend_Dedup(t *testing.T) {
	ctx := context.Background()
	m := message("m1", "a@x.com", "hi")

	withDedup := New(tree.NewMemoryStore(), Options{DedupByMessageID: true}, zerolog.Nop())
	require.NoError(t, withDedup.Append(ctx, convID, m))
	require.NoError(t, withDedup.Append(ctx, convID, m))
	got, err := withDedup.List(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	without := New(tree.NewMemoryStore(), Options{}, zerolog.Nop())
	require.NoError(t, without.Append(ctx, convID, m))
	require.NoError(t, without.Append(ctx, convID, m))
	got, err = without.List(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAppend_RequiresID(t *testing.T) {
	l := New(tree.NewMemoryStore(), Options{}, zerolog.Nop())
	err := l.Append(context.Background(), convID, message("", "a@x.com", "hi"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestList_EmptyAndLenient(t *testing.T) {
	ctx := context.Background()
	s := tree.NewMemoryStore()
	l := New(s, Options{}, zerolog.Nop())

	got, err := l.List(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.Append(ctx, convID, message("m1", "a@x.com", "hi")))
	node, _, err := s.Read(ctx, Path(convID))
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, Path(convID), append(node.([]any), map[string]any{"id": "m2"})))

	got, err = l.List(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestList_StoreUnavailable(t *testing.T) {
	s := treetest.New()
	s.FailReads(convID, true)
	l := New(s, Options{}, zerolog.Nop())

	_, err := l.List(context.Background(), convID)
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
}

func TestAppend_ConcurrentWriters(t *testing.T) {
	for _, tc := range []struct {
		mode tree.Mode
		want []string
	}{
		{tree.ModeOverwrite, []string{"mine"}},
		{tree.ModeCompareAndSet, []string{"theirs", "mine"}},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			ctx := context.Background()
			s := treetest.New()
			l := New(s, Options{Mode: tc.mode}, zerolog.Nop())

			s.AfterRead(treetest.Once(func(string) {
				require.NoError(t, l.Append(ctx, convID, message("theirs", "b@y.com", "theirs")))
			}))
			require.NoError(t, l.Append(ctx, convID, message("mine", "a@x.com", "mine")))

			got, err := l.List(ctx, convID)
			require.NoError(t, err)
			var ids []string
			for _, m := range got {
				ids = append(ids, m.MessageID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	l := New(tree.NewMemoryStore(), Options{}, zerolog.Nop())
	require.NoError(t, l.Append(ctx, convID, message("m1", "a@x.com", "hi")))
	require.NoError(t, l.Append(ctx, convID, message("m2", "b@y.com", "hey")))
	require.NoError(t, l.Append(ctx, convID, message("m3", "a@x.com", "sup")))

	n, err := l.MarkRead(ctx, convID, "b@y.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := l.List(ctx, convID)
	require.NoError(t, err)
	assert.True(t, got[0].IsRead)
	assert.False(t, got[1].IsRead, "own message stays unread")
	assert.True(t, got[2].IsRead)

	n, err = l.MarkRead(ctx, convID, "b@y.com")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestObserve_GrowthAndReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New(tree.NewMemoryStore(), Options{}, zerolog.Nop())
	require.NoError(t, l.Append(ctx, convID, message("m1", "a@x.com", "hi")))

	ch, err := l.Observe(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, <-ch, 1)

	require.NoError(t, l.Append(ctx, convID, message("m2", "b@y.com", "hey")))
	select {
	case got := <-ch:
		require.Len(t, got, 2)
		assert.Equal(t, "m2", got[1].MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after append")
	}
}
