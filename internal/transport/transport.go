// Package transport provides the push channel: real-time message and typing
// events for joined conversations. Two implementations exist, Redis pub/sub
// and a websocket client, selected at startup.
package transport

import (
	"context"
	"encoding/json"

	"gigsync/internal/models"
)

// Handler receives inbound push events. The sync engine implements it.
type Handler interface {
	HandleMessage(msg models.Message)
	HandleTyping(ev models.TypingEvent)
}

// Transport is the push-channel contract. Join and Leave scope the event
// stream to specific conversations; callers sequence Leave before Join when
// switching so at most one conversation stream is active.
type Transport interface {
	Start(ctx context.Context, h Handler) error
	Join(conversationID uint) error
	Leave(conversationID uint) error
	SendTyping(conversationID uint, isTyping bool) error
	Close() error
}

// Frame is the websocket wire format, shared by client and fixture server.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID uint            `json:"conversation_id,omitempty"`
	UserID         uint            `json:"user_id,omitempty"`
	Username       string          `json:"username,omitempty"`
	IsTyping       bool            `json:"is_typing,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Frame types.
const (
	FrameMessage = "message"
	FrameTyping  = "typing"
	FrameJoin    = "join"
	FrameLeave   = "leave"
)
