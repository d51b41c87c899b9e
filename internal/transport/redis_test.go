package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/auth"
	"gigsync/internal/models"
)

type captureHandler struct {
	msgs   chan models.Message
	typing chan models.TypingEvent
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		msgs:   make(chan models.Message, 8),
		typing: make(chan models.TypingEvent, 8),
	}
}

func (h *captureHandler) HandleMessage(msg models.Message)   { h.msgs <- msg }
func (h *captureHandler) HandleTyping(ev models.TypingEvent) { h.typing <- ev }

func startRedisTransport(t *testing.T) (*miniredis.Miniredis, *RedisTransport, *captureHandler) {
	t.Helper()
	mr := miniredis.RunT(t)

	tr, err := NewRedisTransport(mr.Addr(), auth.LocalUser{ID: 1, Username: "local"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	h := newCaptureHandler()
	require.NoError(t, tr.Start(context.Background(), h))
	return mr, tr, h
}

func TestRedisTransportDeliversMessages(t *testing.T) {
	mr, tr, h := startRedisTransport(t)
	require.NoError(t, tr.Join(5))

	payload, err := json.Marshal(models.Message{ID: 9, ConversationID: 5, SenderID: 2, Content: "hi", CreatedAt: time.Now()})
	require.NoError(t, err)
	mr.Publish("chat:conv:5", string(payload))

	select {
	case msg := <-h.msgs:
		assert.Equal(t, uint(9), msg.ID)
		assert.Equal(t, uint(5), msg.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("message event never arrived")
	}
}

func TestRedisTransportDeliversTyping(t *testing.T) {
	mr, tr, h := startRedisTransport(t)
	require.NoError(t, tr.Join(5))

	mr.Publish("typing:conv:5", `{"user_id":2,"username":"ava","is_typing":true,"expires_in_ms":5000}`)

	select {
	case ev := <-h.typing:
		assert.Equal(t, uint(5), ev.ConversationID)
		assert.Equal(t, uint(2), ev.UserID)
		assert.Equal(t, "ava", ev.Username)
		assert.True(t, ev.IsTyping)
	case <-time.After(2 * time.Second):
		t.Fatal("typing event never arrived")
	}
}

func TestRedisTransportFiltersOwnTyping(t *testing.T) {
	mr, tr, h := startRedisTransport(t)
	require.NoError(t, tr.Join(5))

	mr.Publish("typing:conv:5", `{"user_id":1,"username":"local","is_typing":true}`)
	mr.Publish("typing:conv:5", `{"user_id":2,"username":"ava","is_typing":true}`)

	select {
	case ev := <-h.typing:
		assert.Equal(t, uint(2), ev.UserID, "own echo must be filtered")
	case <-time.After(2 * time.Second):
		t.Fatal("typing event never arrived")
	}
}

func TestRedisTransportLeaveStopsDelivery(t *testing.T) {
	mr, tr, h := startRedisTransport(t)
	require.NoError(t, tr.Join(5))
	require.NoError(t, tr.Leave(5))

	payload, err := json.Marshal(models.Message{ID: 9, ConversationID: 5, SenderID: 2, CreatedAt: time.Now()})
	require.NoError(t, err)
	mr.Publish("chat:conv:5", string(payload))

	select {
	case <-h.msgs:
		t.Fatal("received a message after leaving the conversation")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisTransportSendTyping(t *testing.T) {
	mr, tr, _ := startRedisTransport(t)

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = sub.Close() }()
	ps := sub.Subscribe(context.Background(), "typing:conv:3")
	defer func() { _ = ps.Close() }()
	_, err := ps.Receive(context.Background()) // subscription confirmation
	require.NoError(t, err)

	require.NoError(t, tr.SendTyping(3, true))

	select {
	case m := <-ps.Channel():
		var payload struct {
			UserID      uint   `json:"user_id"`
			Username    string `json:"username"`
			IsTyping    bool   `json:"is_typing"`
			ExpiresInMS int    `json:"expires_in_ms"`
		}
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &payload))
		assert.Equal(t, uint(1), payload.UserID)
		assert.Equal(t, "local", payload.Username)
		assert.True(t, payload.IsTyping)
		assert.Equal(t, typingExpiryMS, payload.ExpiresInMS)
	case <-time.After(2 * time.Second):
		t.Fatal("typing publish never arrived")
	}
}

func TestRedisTransportJoinBeforeStart(t *testing.T) {
	mr := miniredis.RunT(t)
	tr, err := NewRedisTransport(mr.Addr(), auth.LocalUser{ID: 1})
	require.NoError(t, err)
	assert.Error(t, tr.Join(1))
}
