package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gigsync/internal/auth"
	"gigsync/internal/models"
	"gigsync/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSTransport delivers push events over a websocket connection to the
// messaging backend's /ws/chat endpoint.
type WSTransport struct {
	url   string
	token string
	user  auth.LocalUser
	log   *observability.TransportLogger

	mu     sync.Mutex // guards conn writes and lifecycle
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWSTransport creates a websocket push channel. url is the ws:// endpoint;
// the bearer token is passed as a query parameter on dial.
func NewWSTransport(url, token string, user auth.LocalUser) *WSTransport {
	return &WSTransport{
		url:   url,
		token: token,
		user:  user,
		log:   observability.NewTransportLogger("websocket"),
	}
}

var _ Transport = (*WSTransport)(nil)

// Start dials the endpoint and begins dispatching inbound frames to h.
func (t *WSTransport) Start(ctx context.Context, h Handler) error {
	dialURL := t.url
	if t.token != "" {
		dialURL = fmt.Sprintf("%s?token=%s", t.url, t.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	t.log.LogConnect(ctx, t.url)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.readLoop(runCtx, conn, h)
	go t.pingLoop(runCtx, conn)
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, h Handler) {
	defer func() { _ = conn.Close() }()
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				t.log.LogError(ctx, err, "read")
			}
			return
		}
		switch f.Type {
		case FrameMessage:
			var msg models.Message
			if err := json.Unmarshal(f.Payload, &msg); err != nil {
				t.log.LogError(ctx, err, FrameMessage)
				continue
			}
			if msg.ConversationID == 0 {
				msg.ConversationID = f.ConversationID
			}
			observability.PushEvents.WithLabelValues(FrameMessage).Inc()
			h.HandleMessage(msg)
		case FrameTyping:
			if f.UserID == t.user.ID {
				continue
			}
			observability.PushEvents.WithLabelValues(FrameTyping).Inc()
			h.HandleTyping(models.TypingEvent{
				ConversationID: f.ConversationID,
				UserID:         f.UserID,
				Username:       f.Username,
				IsTyping:       f.IsTyping,
			})
		}
	}
}

func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Join subscribes to a conversation's event stream.
func (t *WSTransport) Join(conversationID uint) error {
	if err := t.writeFrame(Frame{Type: FrameJoin, ConversationID: conversationID}); err != nil {
		return err
	}
	t.log.LogChannel(context.Background(), FrameJoin, conversationID)
	return nil
}

// Leave unsubscribes from a conversation's event stream.
func (t *WSTransport) Leave(conversationID uint) error {
	if err := t.writeFrame(Frame{Type: FrameLeave, ConversationID: conversationID}); err != nil {
		return err
	}
	t.log.LogChannel(context.Background(), FrameLeave, conversationID)
	return nil
}

// SendTyping publishes the local user's typing state.
func (t *WSTransport) SendTyping(conversationID uint, isTyping bool) error {
	return t.writeFrame(Frame{
		Type:           FrameTyping,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

func (t *WSTransport) writeFrame(f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("transport not started")
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(f)
}

// Close stops the loops and closes the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	err := t.conn.Close()
	t.conn = nil
	return err
}
