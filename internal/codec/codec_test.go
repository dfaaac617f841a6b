package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

func TestSummary_EncodeDecode(t *testing.T) {
	sent := time.Date(2025, 4, 29, 10, 30, 0, 123, time.UTC)
	in := models.ConversationSummary{
		ConversationID:  "conversation_a_x_com_b_y_com",
		PeerEmail:       "b@y.com",
		PeerDisplayName: "Bob",
		LatestMessage:   models.LatestMessage{SentAt: sent, Text: "hi"},
	}

	node, err := tree.Normalize(EncodeSummary(in))
	require.NoError(t, err)

	out, err := DecodeSummary(node)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSummary_ReportsField(t *testing.T) {
	tests := []struct {
		name  string
		node  tree.Node
		field string
	}{
		{
			name:  "missing peer",
			node:  map[string]any{"id": "c", "name": "n", "latest_message": map[string]any{"date": "2025-01-01T00:00:00Z", "message": "m", "is_read": false}},
			field: "other_user_email",
		},
		{
			name:  "missing latest message",
			node:  map[string]any{"id": "c", "name": "n", "other_user_email": "b@y.com"},
			field: "latest_message",
		},
		{
			name:  "missing is_read",
			node:  map[string]any{"id": "c", "name": "n", "other_user_email": "b@y.com", "latest_message": map[string]any{"date": "2025-01-01T00:00:00Z", "message": "m"}},
			field: "latest_message.is_read",
		},
		{
			name:  "wrong type",
			node:  map[string]any{"id": float64(7), "name": "n", "other_user_email": "b@y.com", "latest_message": map[string]any{"date": "2025-01-01T00:00:00Z", "message": "m", "is_read": false}},
			field: "id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSummary(tt.node)
			require.ErrorIs(t, err, errs.ErrDecode)
			var de *errs.DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	node := map[string]any{
		"id":           "01HX",
		"type":         "text",
		"content":      "hello",
		"date":         "2025-04-29T10:30:00Z",
		"sender_email": "a@x.com",
		"name":         "Alice",
	}
	m, err := DecodeMessage("conv", node)
	require.NoError(t, err)
	assert.Equal(t, "conv", m.ConversationID)
	assert.Equal(t, "hello", m.Body)
	assert.False(t, m.IsRead)

	delete(node, "sender_email")
	_, err = DecodeMessage("conv", node)
	var de *errs.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "sender_email", de.Field)
}

func TestParseTime_Legacy(t *testing.T) {
	got, err := ParseTime("Apr 29, 2025 at 10:30:00 AM UTC")
	require.NoError(t, err)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, time.April, got.Month())
	assert.Equal(t, 10, got.Hour())

	now := time.Now()
	back, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(back))
}

func TestParseTime_LegacyVariants(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Apr 27, 2025 at 3:04:05 PM GMT", time.Date(2025, 4, 27, 15, 4, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05 PM GMT+5:30", time.Date(2025, 4, 27, 9, 34, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05 PM GMT-7", time.Date(2025, 4, 27, 22, 4, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05 PM UTC+0530", time.Date(2025, 4, 27, 9, 34, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05\u202fPM GMT+5:30", time.Date(2025, 4, 27, 9, 34, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05\u00a0AM UTC", time.Date(2025, 4, 27, 3, 4, 5, 0, time.UTC)},
		{"Apr 27, 2025 at 3:04:05 PM", time.Date(2025, 4, 27, 15, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%q: got %v", tt.in, got)
	}
}

func TestParseTime_RejectsAmbiguous(t *testing.T) {
	for _, in := range []string{
		"Apr 27, 2025 at 3:04:05 PM IST",
		"Apr 27, 2025 at 3:04:05 PM GMT+25",
		"Apr 27, 2025 at 3:04:05 PM GMT+5:3",
		"yesterday",
	} {
		_, err := ParseTime(in)
		assert.Error(t, err, in)
	}
}

func TestDecodeSummary_KeepsUnparseableDate(t *testing.T) {
	for _, date := range []string{"yesterday", "Apr 27, 2025 at 3:04:05 PM IST"} {
		node := map[string]any{
			"id":               "conversation_a_x_com_b_y_com",
			"name":             "Bob",
			"other_user_email": "b@y.com",
			"latest_message":   map[string]any{"date": date, "message": "hi", "is_read": true},
		}
		s, err := DecodeSummary(node)
		require.NoError(t, err, date)
		assert.True(t, s.LatestMessage.SentAt.IsZero())
		assert.Equal(t, "hi", s.LatestMessage.Text)
		assert.Equal(t, "b@y.com", s.PeerEmail)
	}

	s, err := DecodeSummary(map[string]any{
		"id":               "conversation_a_x_com_b_y_com",
		"name":             "Bob",
		"other_user_email": "b@y.com",
		"latest_message":   map[string]any{"date": "Apr 27, 2025 at 3:04:05\u202fPM GMT+5:30", "message": "hi", "is_read": false},
	})
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 4, 27, 9, 34, 5, 0, time.UTC).Equal(s.LatestMessage.SentAt))
}

func TestDecodeMessage_DropsUnparseableDate(t *testing.T) {
	_, err := DecodeMessage("conv", map[string]any{
		"id":           "m1",
		"content":      "hi",
		"date":         "Apr 27, 2025 at 3:04:05 PM IST",
		"sender_email": "a@x.com",
		"name":         "Alice",
	})
	var de *errs.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "date", de.Field)
}

func TestDecodeList_Lenient(t *testing.T) {
	list := []any{
		map[string]any{"email": "a@x.com", "name": "Alice"},
		map[string]any{"email": "b@y.com"},
	}

	users, dropped, err := DecodeList("users", list, DecodeUser)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, models.User{Email: "a@x.com", DisplayName: "Alice"}, users[0])
	require.Len(t, dropped, 1)
	assert.Equal(t, 1, dropped[0].Index)
	assert.ErrorIs(t, dropped[0].Err, errs.ErrDecode)
}

func TestDecodeList_Shapes(t *testing.T) {
	users, _, err := DecodeList("users", nil, DecodeUser)
	require.NoError(t, err)
	assert.Empty(t, users)

	sparse := map[string]any{
		"1": map[string]any{"email": "b@y.com", "name": "Bob"},
		"0": map[string]any{"email": "a@x.com", "name": "Alice"},
	}
	users, _, err = DecodeList("users", sparse, DecodeUser)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@x.com", users[0].Email)

	_, _, err = DecodeList("users", "oops", DecodeUser)
	assert.ErrorIs(t, err, errs.ErrDecode)

	_, _, err = DecodeList("users", map[string]any{"alice": 1}, DecodeUser)
	assert.ErrorIs(t, err, errs.ErrDecode)
}
