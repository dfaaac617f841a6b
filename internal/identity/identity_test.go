package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeKey(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"a@x.com", "a_x_com"},
		{"first.last@mail.example.org", "first_last_mail_example_org"},
		{"plain", "plain"},
		{"", ""},
		{"@.", "__"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			got := SafeKey(tt.email)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, SafeKey(got), "SafeKey must be idempotent")
			assert.NotContains(t, got, ".")
			assert.NotContains(t, got, "@")
		})
	}
}

func TestConversationID_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"a@x.com", "b@y.com"},
		{"zed@z.io", "amy@a.io"},
		{"same@x.com", "same@x.com"},
		{"", "b@y.com"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]), "pair %v", p)
	}
}

func TestConversationID_Format(t *testing.T) {
	assert.Equal(t, "conversation_a_x_com_b_y_com", ConversationID("a@x.com", "b@y.com"))
	assert.Equal(t, "conversation_a_x_com_b_y_com", ConversationID("b@y.com", "a@x.com"))
	assert.Equal(t, "conversation_a_x_com_a_x_com", ConversationID("a@x.com", "a@x.com"))
}

func TestCollides(t *testing.T) {
	assert.True(t, Collides("a.b@x.com", "a_b@x.com"))
	assert.True(t, Collides("a@b.com", "a.b@com"))
	assert.False(t, Collides("a@x.com", "a@x.com"))
	assert.False(t, Collides("a@x.com", "b@x.com"))
}

func TestPeerKeys(t *testing.T) {
	id := ConversationID("a@x.com", "b@y.com")
	assert.Equal(t, []string{"b_y_com"}, PeerKeys(id, "a@x.com"))
	assert.Equal(t, []string{"a_x_com"}, PeerKeys(id, "b@y.com"))
	assert.Empty(t, PeerKeys(id, "c@z.com"))
	assert.Empty(t, PeerKeys("a_x_com_b_y_com", "a@x.com"), "missing prefix")

	self := ConversationID("a@x.com", "a@x.com")
	assert.Equal(t, []string{"a_x_com"}, PeerKeys(self, "a@x.com"))

	// a@x.com's key prefixes a_x_com_z@q.io's key. The split is only a
	// candidate; no user has the key z_q_io_zz_q_io.
	other := ConversationID("a_x_com_z@q.io", "zz@q.io")
	assert.Equal(t, []string{"z_q_io_zz_q_io"}, PeerKeys(other, "a@x.com"))
	assert.NotEqual(t, other, ConversationID("a@x.com", "zz@q.io"))
}

func TestSessionFile(t *testing.T) {
	f := SessionFile{Path: filepath.Join(t.TempDir(), "nested", "session.yaml")}

	_, err := f.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	s := NewSession(" a@x.com ", "Alice ")
	assert.Equal(t, "a_x_com", s.Key())
	require.NoError(t, f.Save(s))

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, Session{Email: "a@x.com", DisplayName: "Alice"}, got)

	require.NoError(t, f.Clear())
	require.NoError(t, f.Clear())
	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	assert.ErrorIs(t, f.Save(Session{}), ErrNoSession)
}
