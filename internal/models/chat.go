// Package models contains data structures for the messaging domain.
package models

import (
	"time"
)

// Participant describes one member of a conversation.
type Participant struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Conversation represents a chat conversation (1-on-1 or group).
// LastMessage and UnreadCount are client-side projections: the server holds the
// authoritative values, the local copies are reconciled on fetch and on every
// inbound/outbound message event.
type Conversation struct {
	ID           uint          `json:"id"`
	Name         string        `json:"name,omitempty"` // group chats only
	IsGroup      bool          `json:"is_group"`
	Avatar       string        `json:"avatar,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Attachment kinds accepted on a message.
const (
	AttachmentImage = "image"
	AttachmentVideo = "video"
	AttachmentAudio = "audio"
	AttachmentFile  = "file"
)

// Message represents a chat message. CreatedAt is the total ordering key for a
// thread: display order is always ascending CreatedAt.
type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint       `gorm:"not null;index" json:"sender_id"`
	Content        string     `gorm:"type:text" json:"content"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentType string     `json:"attachment_type,omitempty"` // image, video, audio, file
	IsRead         bool       `gorm:"default:false" json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TypingEvent is a transient typing indicator for a conversation.
type TypingEvent struct {
	ConversationID uint   `json:"conversation_id"`
	UserID         uint   `json:"user_id"`
	Username       string `json:"username,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// Attachment is a file staged for upload alongside a message.
type Attachment struct {
	FileName string
	MIMEType string
	Data     []byte
}

// UploadResult is the upload endpoint's response.
type UploadResult struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}
