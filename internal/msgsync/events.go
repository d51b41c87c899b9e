// Package msgsync holds the messaging synchronization engine: it reconciles
// fetched history, optimistic sends, and push events into one local state and
// publishes typed change events to subscribers.
package msgsync

import (
	"sync"

	"gigsync/internal/observability"
)

// EventType identifies what part of the engine state changed.
type EventType string

const (
	// EventConversationsUpdated fires when the conversation list, unread
	// counts, or last-message previews change.
	EventConversationsUpdated EventType = "conversations_updated"
	// EventThreadUpdated fires when the open conversation's messages change.
	EventThreadUpdated EventType = "thread_updated"
	// EventTypingChanged fires when a participant starts or stops typing.
	EventTypingChanged EventType = "typing_changed"
)

// Event is a typed state-change notification.
type Event struct {
	Type           EventType
	ConversationID uint
}

// Bus fans engine events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event, and subscribers are
// expected to re-read engine snapshots rather than replay every event.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and returns its
// channel plus a cancel function. Cancel closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			observability.EventBusDrops.Inc()
		}
	}
}

// Close drops and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
