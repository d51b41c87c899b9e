package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"gigsync/internal/auth"
	"gigsync/internal/models"
	"gigsync/internal/observability"
)

// Channel name patterns. One pair per conversation.
const (
	messageChannelPattern = "chat:conv:%d"
	typingChannelPattern  = "typing:conv:%d"
)

// typingExpiryMS tells subscribers how long a typing indicator stays valid
// without a refresh.
const typingExpiryMS = 5000

// RedisTransport delivers push events over Redis pub/sub, one message and one
// typing channel per joined conversation.
type RedisTransport struct {
	rdb  *redis.Client
	user auth.LocalUser
	log  *observability.TransportLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedisTransport connects a Redis-backed push channel. url is either a
// plain address ("localhost:6379") or a redis:// URL.
func NewRedisTransport(url string, user auth.LocalUser) (*RedisTransport, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}
	return &RedisTransport{
		rdb:  redis.NewClient(opts),
		user: user,
		log:  observability.NewTransportLogger("redis"),
	}, nil
}

var _ Transport = (*RedisTransport)(nil)

// Start verifies connectivity and begins dispatching inbound events to h.
func (t *RedisTransport) Start(ctx context.Context, h Handler) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.pubsub = t.rdb.Subscribe(runCtx)
	t.cancel = cancel
	ch := t.pubsub.Channel()
	t.mu.Unlock()

	t.log.LogConnect(ctx, t.rdb.Options().Addr)

	go t.dispatch(runCtx, ch, h)
	return nil
}

func (t *RedisTransport) dispatch(ctx context.Context, ch <-chan *redis.Message, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			t.handle(ctx, m, h)
		}
	}
}

func (t *RedisTransport) handle(ctx context.Context, m *redis.Message, h Handler) {
	var convID uint
	switch {
	case strings.HasPrefix(m.Channel, "chat:conv:"):
		if _, err := fmt.Sscanf(m.Channel, messageChannelPattern, &convID); err != nil {
			return
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			t.log.LogError(ctx, err, FrameMessage)
			return
		}
		if msg.ConversationID == 0 {
			msg.ConversationID = convID
		}
		observability.PushEvents.WithLabelValues(FrameMessage).Inc()
		h.HandleMessage(msg)

	case strings.HasPrefix(m.Channel, "typing:conv:"):
		if _, err := fmt.Sscanf(m.Channel, typingChannelPattern, &convID); err != nil {
			return
		}
		var payload struct {
			UserID   uint   `json:"user_id"`
			Username string `json:"username"`
			IsTyping bool   `json:"is_typing"`
		}
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			t.log.LogError(ctx, err, FrameTyping)
			return
		}
		// Our own typing echoes back on the shared channel.
		if payload.UserID == t.user.ID {
			return
		}
		observability.PushEvents.WithLabelValues(FrameTyping).Inc()
		h.HandleTyping(models.TypingEvent{
			ConversationID: convID,
			UserID:         payload.UserID,
			Username:       payload.Username,
			IsTyping:       payload.IsTyping,
		})
	}
}

// Join subscribes to the conversation's message and typing channels.
func (t *RedisTransport) Join(conversationID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return fmt.Errorf("transport not started")
	}
	ctx := context.Background()
	if err := t.pubsub.Subscribe(ctx,
		fmt.Sprintf(messageChannelPattern, conversationID),
		fmt.Sprintf(typingChannelPattern, conversationID),
	); err != nil {
		return err
	}
	t.log.LogChannel(ctx, FrameJoin, conversationID)
	return nil
}

// Leave unsubscribes from the conversation's channels.
func (t *RedisTransport) Leave(conversationID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub == nil {
		return fmt.Errorf("transport not started")
	}
	ctx := context.Background()
	if err := t.pubsub.Unsubscribe(ctx,
		fmt.Sprintf(messageChannelPattern, conversationID),
		fmt.Sprintf(typingChannelPattern, conversationID),
	); err != nil {
		return err
	}
	t.log.LogChannel(ctx, FrameLeave, conversationID)
	return nil
}

// SendTyping publishes the local user's typing state to the conversation's
// typing channel.
func (t *RedisTransport) SendTyping(conversationID uint, isTyping bool) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id":       t.user.ID,
		"username":      t.user.Username,
		"is_typing":     isTyping,
		"expires_in_ms": typingExpiryMS,
	})
	if err != nil {
		return err
	}
	channel := fmt.Sprintf(typingChannelPattern, conversationID)
	return t.rdb.Publish(context.Background(), channel, payload).Err()
}

// Close stops dispatching and releases the connection.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	if t.pubsub != nil {
		_ = t.pubsub.Close()
	}
	return t.rdb.Close()
}
