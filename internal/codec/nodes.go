package codec

import (
	"github.com/eldtechnologies/chatsync/internal/models"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// Field names of stored nodes.
const (
	FieldUsers         = "users"
	FieldName          = "name"
	FieldConversations = "conversations"
	FieldMessages      = "messages"
	FieldPeerEmail     = "other_user_email"
	FieldLatestMessage = "latest_message"
	FieldID            = "id"
	FieldIsRead        = "is_read"
	FieldSenderEmail   = "sender_email"
)

type userNode struct {
	Email *string `json:"email" validate:"required"`
	Name  *string `json:"name" validate:"required"`
}

type latestMessageNode struct {
	Date    *string `json:"date" validate:"required"`
	Message *string `json:"message" validate:"required"`
	IsRead  *bool   `json:"is_read" validate:"required"`
}

type summaryNode struct {
	ID            *string            `json:"id" validate:"required"`
	PeerEmail     *string            `json:"other_user_email" validate:"required"`
	Name          *string            `json:"name" validate:"required"`
	LatestMessage *latestMessageNode `json:"latest_message" validate:"required"`
}

type messageNode struct {
	ID          *string `json:"id" validate:"required"`
	Type        string  `json:"type"`
	Content     *string `json:"content" validate:"required"`
	Date        *string `json:"date" validate:"required"`
	SenderEmail *string `json:"sender_email" validate:"required"`
	Name        *string `json:"name" validate:"required"`
	IsRead      bool    `json:"is_read"`
}

// EncodeUser returns the directory entry node for u.
func EncodeUser(u models.User) tree.Node {
	return map[string]any{
		"email": u.Email,
		"name":  u.DisplayName,
	}
}

// DecodeUser decodes a directory entry.
func DecodeUser(n tree.Node) (models.User, error) {
	var v userNode
	if err := strict(n, &v); err != nil {
		return models.User{}, err
	}
	return models.User{Email: *v.Email, DisplayName: *v.Name}, nil
}

// EncodeLatestMessage returns the latest_message node.
func EncodeLatestMessage(m models.LatestMessage) tree.Node {
	return map[string]any{
		"date":    FormatTime(m.SentAt),
		"message": m.Text,
		"is_read": m.IsRead,
	}
}

// EncodeSummary returns the conversation summary node for s.
func EncodeSummary(s models.ConversationSummary) tree.Node {
	return map[string]any{
		"id":               s.ConversationID,
		"other_user_email": s.PeerEmail,
		"name":             s.PeerDisplayName,
		"latest_message":   EncodeLatestMessage(s.LatestMessage),
	}
}

// DecodeSummary decodes a conversation summary node.
func DecodeSummary(n tree.Node) (models.ConversationSummary, error) {
	var v summaryNode
	if err := strict(n, &v); err != nil {
		return models.ConversationSummary{}, err
	}
	// A summary is listed even when its date is unreadable; SentAt is zero.
	sent, _ := ParseTime(*v.LatestMessage.Date)
	return models.ConversationSummary{
		ConversationID:  *v.ID,
		PeerEmail:       *v.PeerEmail,
		PeerDisplayName: *v.Name,
		LatestMessage: models.LatestMessage{
			SentAt: sent,
			Text:   *v.LatestMessage.Message,
			IsRead: *v.LatestMessage.IsRead,
		},
	}, nil
}

// EncodeMessage returns the message log node for m.
func EncodeMessage(m models.Message) tree.Node {
	return map[string]any{
		"id":           m.MessageID,
		"type":         models.MessageKindText,
		"content":      m.Body,
		"date":         FormatTime(m.SentAt),
		"sender_email": m.SenderEmail,
		"name":         m.SenderDisplayName,
		"is_read":      m.IsRead,
	}
}

// DecodeMessage decodes a message node belonging to conversationID.
// is_read is optional and defaults to false.
func DecodeMessage(conversationID string, n tree.Node) (models.Message, error) {
	var v messageNode
	if err := strict(n, &v); err != nil {
		return models.Message{}, err
	}
	sent, err := parseTimeField("date", *v.Date)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ConversationID:    conversationID,
		MessageID:         *v.ID,
		SenderEmail:       *v.SenderEmail,
		SenderDisplayName: *v.Name,
		SentAt:            sent,
		IsRead:            v.IsRead,
		Body:              *v.Content,
	}, nil
}

// MessageDecoder binds DecodeMessage to a conversation for DecodeList.
func MessageDecoder(conversationID string) func(tree.Node) (models.Message, error) {
	return func(n tree.Node) (models.Message, error) {
		return DecodeMessage(conversationID, n)
	}
}

// Str reads a string field of an object node.
func Str(n tree.Node, field string) (string, bool) {
	m, ok := n.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[field].(string)
	return s, ok
}

// Entries returns a list node as a slice, treating anything else as empty.
func Entries(n tree.Node) []any {
	entries, err := listEntries("", n)
	if err != nil {
		return nil
	}
	return entries
}

// Object returns n as an object node, or an empty one.
func Object(n tree.Node) map[string]any {
	if m, ok := n.(map[string]any); ok {
		return m
	}
	return make(map[string]any)
}
