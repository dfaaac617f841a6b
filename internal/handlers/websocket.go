package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/chatsync/internal/feed"
	"github.com/eldtechnologies/chatsync/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Sessions are carried by header, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConversationsEvent is sent on the conversations stream.
type ConversationsEvent struct {
	Conversations []models.ConversationSummary `json:"conversations"`
}

// MessagesEvent is sent on a conversation's message stream.
type MessagesEvent struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

// WatchConversations streams the session user's conversation index. Every
// change delivers the whole list.
func (h *Handler) WatchConversations(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ctx, cancel := h.stream(r.Context(), conn)
	defer cancel()

	ch, err := h.index.Observe(ctx, s.Email)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}

	var view feed.ConversationView
	view.Run(ctx, ch, func(list []models.ConversationSummary) {
		if err := writeJSON(conn, ConversationsEvent{Conversations: list}); err != nil {
			cancel()
		}
	})
}

// WatchMessages streams a conversation's message log.
func (h *Handler) WatchMessages(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ctx, cancel := h.stream(r.Context(), conn)
	defer cancel()

	ch, err := h.log.Observe(ctx, id)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}

	var view feed.MessageView
	view.Run(ctx, ch, func(list []models.Message) {
		if err := writeJSON(conn, MessagesEvent{ConversationID: id, Messages: list}); err != nil {
			cancel()
		}
	})
}

// stream starts the read and ping loops of conn. The returned context ends
// when the client goes away; cancelling it closes the connection.
func (h *Handler) stream(parent context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	// Reader: clients send nothing but control frames.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()

	// Pinger and closer.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	return ctx, cancel
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (h *Handler) closeWithError(conn *websocket.Conn, err error) {
	h.logger.Error().Err(err).Msg("failed to start stream")
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream unavailable"),
		time.Now().Add(writeWait))
}
