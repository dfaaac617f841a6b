package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "chatsync.messages.conversation_a_x_com_b_y_com",
		Subject(DefaultSubjectPrefix, "conversation_a_x_com_b_y_com"))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishMessageSent(context.Background(), MessageSent{}))
	p.Close()
}

// Runs against a live server only when TEST_NATS_URL is set.
func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	ctx := context.Background()

	p, err := NewNATSPublisher(ctx, url, "CHATSYNC_TEST", zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync(Subject(DefaultSubjectPrefix, "conv1"))
	require.NoError(t, err)

	evt := MessageSent{ConversationID: "conv1", MessageID: "m1", Body: "hi", SentAt: time.Now().UTC()}
	require.NoError(t, p.PublishMessageSent(ctx, evt))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"message_id":"m1"`)
}
