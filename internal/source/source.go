// Package source defines the data-source strategy for the messaging API.
// Exactly one implementation is selected at startup: the live REST client or
// the in-memory fixture store. Business logic never branches on which one.
package source

import (
	"context"

	"gigsync/internal/models"
)

// SendInput is the input for sending a message.
type SendInput struct {
	ConversationID uint   `json:"conversation_id"`
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	// ClientRef is a client-generated correlation id. The server echoes it
	// back so a future optimistic-placeholder flow could reconcile by it
	// instead of guessing server ids.
	ClientRef string `json:"client_ref,omitempty"`
}

// Source is the REST collaborator contract used by the sync engine.
type Source interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID uint) ([]models.Message, error)
	SendMessage(ctx context.Context, in SendInput) (*models.Message, error)
	EditMessage(ctx context.Context, messageID uint, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID uint) error
	DeleteConversation(ctx context.Context, conversationID uint) error
	MarkRead(ctx context.Context, conversationID uint) error
	// UnreadCounts returns unread counts for the given conversations in one
	// batched request, keyed by conversation id.
	UnreadCounts(ctx context.Context, conversationIDs []uint) (map[uint]int, error)
	Upload(ctx context.Context, att models.Attachment) (*models.UploadResult, error)
}
