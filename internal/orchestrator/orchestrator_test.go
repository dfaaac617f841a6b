package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatsync/internal/conversations"
	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/events"
	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/messages"
	"github.com/eldtechnologies/chatsync/internal/tree"
	"github.com/eldtechnologies/chatsync/internal/tree/treetest"
)

const convID = "conversation_a_x_com_b_y_com"

type recorder struct {
	mu     sync.Mutex
	events []events.MessageSent
	err    error
}

func (r *recorder) PublishMessageSent(_ context.Context, evt events.MessageSent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Close() {}

type fixture struct {
	store *treetest.Store
	dir   *directory.Directory
	index *conversations.Index
	log   *messages.Log
	pub   *recorder
	orch  *Orchestrator
	alice identity.Session
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := treetest.New()
	f := &fixture{
		store: s,
		dir:   directory.New(s, tree.ModeOverwrite, zerolog.Nop()),
		index: conversations.New(s, tree.ModeOverwrite, zerolog.Nop()),
		log:   messages.New(s, messages.Options{DedupByMessageID: true}, zerolog.Nop()),
		pub:   &recorder{},
		alice: identity.NewSession("a@x.com", "Alice"),
	}
	f.orch = New(f.index, f.log, f.dir, f.pub, zerolog.Nop())

	require.NoError(t, f.dir.Register(ctx, "a@x.com", "Alice"))
	require.NoError(t, f.dir.Register(ctx, "b@y.com", "Bob"))
	return f
}

func TestSend_FirstMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	a, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, StateAcknowledged, a.State)
	assert.Equal(t, convID, a.ConversationID)
	assert.Equal(t, "Bob", a.Peer.DisplayName, "peer name resolved from directory")

	for _, owner := range []string{"a@x.com", "b@y.com"} {
		list, err := f.index.List(ctx, owner)
		require.NoError(t, err)
		require.Len(t, list, 1, owner)
		assert.Equal(t, convID, list[0].ConversationID)
		assert.Equal(t, "hi", list[0].LatestMessage.Text)
	}

	bobs, err := f.index.List(ctx, "b@y.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", bobs[0].PeerEmail)
	assert.Equal(t, "Alice", bobs[0].PeerDisplayName)

	msgs, err := f.log.List(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a@x.com", msgs[0].SenderEmail)
	assert.Equal(t, "hi", msgs[0].Body)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, a.Message.MessageID, f.pub.events[0].MessageID)
	assert.Equal(t, "b@y.com", f.pub.events[0].PeerEmail)
}

func TestSend_KeepsTextAsTyped(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "  indented\n")
	require.NoError(t, err)

	msgs, err := f.log.List(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "  indented\n", msgs[0].Body)

	list, err := f.index.List(ctx, "b@y.com")
	require.NoError(t, err)
	assert.Equal(t, "  indented\n", list[0].LatestMessage.Text)
}

func TestSend_SecondMessage(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "hi")
	require.NoError(t, err)
	first, err := f.log.List(ctx, convID)
	require.NoError(t, err)

	_, err = f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "hey")
	require.NoError(t, err)

	for _, owner := range []string{"a@x.com", "b@y.com"} {
		list, err := f.index.List(ctx, owner)
		require.NoError(t, err)
		require.Len(t, list, 1, "no new summary for %s", owner)
		assert.Equal(t, "hey", list[0].LatestMessage.Text)
	}

	msgs, err := f.log.List(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first[0], msgs[0], "first message unchanged")
	assert.Equal(t, "hey", msgs[1].Body)
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	before := f.store.Writes("a_x_com") + f.store.Writes("b_y_com") + f.store.Writes(convID)

	for _, tc := range []struct {
		name    string
		session identity.Session
		peer    string
		text    string
		want    error
	}{
		{"empty text", f.alice, "b@y.com", "", errs.ErrValidation},
		{"whitespace text", f.alice, "b@y.com", " \n\t ", errs.ErrValidation},
		{"bad peer", f.alice, "not-an-email", "hi", errs.ErrValidation},
		{"no session", identity.Session{}, "b@y.com", "hi", identity.ErrNoSession},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := f.orch.Send(ctx, tc.session, Peer{Email: tc.peer}, tc.text)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, StateFailed, a.State)
			assert.Empty(t, a.Steps)
		})
	}

	after := f.store.Writes("a_x_com") + f.store.Writes("b_y_com") + f.store.Writes(convID)
	assert.Equal(t, before, after, "no writes issued")
	assert.Empty(t, f.pub.events)
}

func TestSend_StepFailureAndResume(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.store.FailWrites("a_x_com", true)

	a, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com", DisplayName: "Bob"}, "hi")
	require.Error(t, err)

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, StepOwnIndex, sendErr.Step)
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.Equal(t, StateFailed, a.State)

	step, ok := a.FailedStep()
	require.True(t, ok)
	assert.Equal(t, StepOwnIndex, step)
	assert.True(t, a.Steps[0].Done, "peer index write stays applied")

	peerList, err := f.index.List(ctx, "b@y.com")
	require.NoError(t, err)
	assert.Len(t, peerList, 1)
	msgs, err := f.log.List(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "append never issued")
	assert.Empty(t, f.pub.events)

	f.store.FailWrites("a_x_com", false)
	peerWrites := f.store.Writes("b_y_com")
	require.NoError(t, f.orch.Resume(ctx, a))
	assert.Equal(t, StateAcknowledged, a.State)
	assert.Equal(t, peerWrites, f.store.Writes("b_y_com"), "succeeded step not repeated")
	assert.Equal(t, 1, a.Steps[0].Attempts)
	assert.Equal(t, 2, a.Steps[1].Attempts)

	msgs, err = f.log.List(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, f.pub.events, 1)

	require.NoError(t, f.orch.Resume(ctx, a), "resuming an acknowledged attempt is a no-op")
	msgs, err = f.log.List(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSend_UnregisteredSender(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	ghost := identity.NewSession("ghost@x.com", "Ghost")
	_, err := f.orch.Send(ctx, ghost, Peer{Email: "b@y.com"}, "boo")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, StepOwnIndex, sendErr.Step)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSend_UnknownPeerCreatesNode(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	a, err := f.orch.Send(ctx, f.alice, Peer{Email: "new@z.com"}, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "new@z.com", a.Peer.DisplayName, "falls back to email")

	list, err := f.index.List(ctx, "new@z.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a@x.com", list[0].PeerEmail)
}

func TestSend_PublishFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.pub.err = errors.New("broker down")

	a, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "hi")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged())
}

func TestSend_CancelledAfterValidation(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.store.AfterRead(treetest.Once(func(string) { cancel() }))

	a, err := f.orch.Send(ctx, f.alice, Peer{Email: "b@y.com"}, "hi")
	require.NoError(t, err)
	assert.True(t, a.Acknowledged())
}

func TestResume_Unprepared(t *testing.T) {
	f := setup(t)
	assert.ErrorIs(t, f.orch.Resume(context.Background(), &Attempt{}), errs.ErrValidation)
}
