// Package fixture provides an in-memory implementation of the messaging
// backend: a Store satisfying source.Source for mock mode, and a Server
// exposing the same REST contract plus a websocket push endpoint for
// integration tests.
package fixture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"gigsync/internal/models"
	"gigsync/internal/source"
)

// Store is an in-memory messaging backend seen from one user's perspective.
type Store struct {
	mu sync.RWMutex

	localUserID   uint
	users         map[uint]models.Participant
	passwords     map[string][]byte // username -> bcrypt hash
	conversations map[uint]*models.Conversation
	messages      map[uint][]models.Message // conversationID -> ascending by CreatedAt
	unread        map[uint]int              // conversationID -> local user's unread count
	uploads       map[string][]byte

	nextConvID uint
	nextMsgID  uint
	lastStamp  time.Time

	onAppend []func(models.Message)
}

// NewStore creates an empty fixture store.
func NewStore() *Store {
	return &Store{
		users:         make(map[uint]models.Participant),
		passwords:     make(map[string][]byte),
		conversations: make(map[uint]*models.Conversation),
		messages:      make(map[uint][]models.Message),
		unread:        make(map[uint]int),
		uploads:       make(map[string][]byte),
	}
}

var _ source.Source = (*Store)(nil)

// OnAppend registers a hook invoked for every message appended to any
// conversation. The Server uses it to broadcast push events.
func (s *Store) OnAppend(fn func(models.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = append(s.onAppend, fn)
}

// AddUser registers a user with a login password and returns its id.
func (s *Store) AddUser(username, displayName, password string) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uint(len(s.users) + 1)
	s.users[id] = models.Participant{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		AvatarURL:   fmt.Sprintf("https://cdn.gigsync.local/avatars/%d.png", id),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err == nil {
			s.passwords[username] = hash
		}
	}
	return id
}

// SetLocalUser marks whose perspective the Source methods serve.
func (s *Store) SetLocalUser(userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localUserID = userID
}

// LocalUser returns the perspective user's id.
func (s *Store) LocalUser() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localUserID
}

// CheckPassword verifies a login attempt and returns the user id on success.
func (s *Store) CheckPassword(username, password string) (uint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, ok := s.passwords[username]
	if !ok {
		return 0, false
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return 0, false
	}
	for id, u := range s.users {
		if u.Username == username {
			return id, true
		}
	}
	return 0, false
}

// Username returns the username for a user id.
func (s *Store) Username(userID uint) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].Username
}

// CreateConversation adds a conversation between the given participants.
func (s *Store) CreateConversation(name string, isGroup bool, participantIDs []uint) uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConvID++
	conv := &models.Conversation{
		ID:        s.nextConvID,
		Name:      name,
		IsGroup:   isGroup,
		UpdatedAt: s.stampLocked(),
	}
	for _, id := range participantIDs {
		if u, ok := s.users[id]; ok {
			conv.Participants = append(conv.Participants, u)
		}
	}
	s.conversations[conv.ID] = conv
	return conv.ID
}

// AppendIncoming appends a message from another participant, bumping the
// local user's unread count. Returns the stored message.
func (s *Store) AppendIncoming(conversationID, senderID uint, content string) (models.Message, error) {
	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		return models.Message{}, models.NewNotFoundError("Conversation", conversationID)
	}
	msg := s.appendLocked(conversationID, senderID, content, "", "")
	if senderID != s.localUserID {
		s.unread[conversationID]++
	}
	hooks := append([]func(models.Message){}, s.onAppend...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(msg)
	}
	return msg, nil
}

// MarkReadBy marks every message not sent by userID as read. The server
// calls it when a participant views a conversation.
func (s *Store) MarkReadBy(conversationID, userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.stampLocked()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != userID && !msgs[i].IsRead {
			msgs[i].IsRead = true
			readAt := now
			msgs[i].ReadAt = &readAt
		}
	}
	if userID == s.localUserID {
		s.unread[conversationID] = 0
	}
}

// Seed populates the store with fake users, conversations, and history.
// The first user added becomes the local user.
func (s *Store) Seed(conversations, messagesPer int) uint {
	gofakeit.Seed(11)

	local := s.AddUser("local_artist", gofakeit.Name(), "fixture-password")
	s.SetLocalUser(local)

	for i := 0; i < conversations; i++ {
		other := s.AddUser(gofakeit.Username(), gofakeit.Name(), "")
		convID := s.CreateConversation("", false, []uint{local, other})
		for j := 0; j < messagesPer; j++ {
			sender := other
			if j%2 == 1 {
				sender = local
			}
			s.mu.Lock()
			s.appendLocked(convID, sender, gofakeit.Sentence(8), "", "")
			if sender != local {
				s.unread[convID]++
			}
			s.mu.Unlock()
		}
	}
	return local
}

// --- source.Source ---

// Conversations returns conversation summaries for the local user.
func (s *Store) Conversations(_ context.Context) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0, len(s.conversations))
	for id, conv := range s.conversations {
		c := *conv
		if msgs := s.messages[id]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		c.UnreadCount = s.unread[id]
		out = append(out, c)
	}
	return out, nil
}

// Messages returns the ascending message history for a conversation.
func (s *Store) Messages(_ context.Context, conversationID uint) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, models.NewNotFoundError("Conversation", conversationID)
	}
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SendMessage appends a message from the local user.
func (s *Store) SendMessage(_ context.Context, in source.SendInput) (*models.Message, error) {
	s.mu.Lock()
	if _, ok := s.conversations[in.ConversationID]; !ok {
		s.mu.Unlock()
		return nil, models.NewNotFoundError("Conversation", in.ConversationID)
	}
	if strings.TrimSpace(in.Content) == "" && in.AttachmentURL == "" {
		s.mu.Unlock()
		return nil, models.NewValidationError("Message content is required")
	}
	msg := s.appendLocked(in.ConversationID, s.localUserID, in.Content, in.AttachmentURL, in.AttachmentType)
	hooks := append([]func(models.Message){}, s.onAppend...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(msg)
	}
	return &msg, nil
}

// EditMessage replaces a message's content without reordering.
func (s *Store) EditMessage(_ context.Context, messageID uint, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID := range s.messages {
		msgs := s.messages[convID]
		for i := range msgs {
			if msgs[i].ID == messageID {
				msgs[i].Content = content
				msgs[i].UpdatedAt = s.stampLocked()
				out := msgs[i]
				return &out, nil
			}
		}
	}
	return nil, models.NewNotFoundError("Message", messageID)
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(_ context.Context, messageID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				s.messages[convID] = append(msgs[:i:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return models.NewNotFoundError("Message", messageID)
}

// DeleteConversation removes a conversation and its history.
func (s *Store) DeleteConversation(_ context.Context, conversationID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return models.NewNotFoundError("Conversation", conversationID)
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	delete(s.unread, conversationID)
	return nil
}

// MarkRead clears the local user's unread count and marks counterparty
// messages as read.
func (s *Store) MarkRead(_ context.Context, conversationID uint) error {
	s.mu.RLock()
	_, ok := s.conversations[conversationID]
	local := s.localUserID
	s.mu.RUnlock()
	if !ok {
		return models.NewNotFoundError("Conversation", conversationID)
	}
	s.MarkReadBy(conversationID, local)
	return nil
}

// UnreadCounts returns the local user's unread counts for the given ids.
func (s *Store) UnreadCounts(_ context.Context, conversationIDs []uint) (map[uint]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint]int, len(conversationIDs))
	for _, id := range conversationIDs {
		out[id] = s.unread[id]
	}
	return out, nil
}

// Upload stores the file bytes and returns a synthetic URL.
func (s *Store) Upload(_ context.Context, att models.Attachment) (*models.UploadResult, error) {
	if len(att.Data) == 0 {
		return nil, models.NewValidationError("Upload is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	url := fmt.Sprintf("https://cdn.gigsync.local/uploads/%s-%s", uuid.NewString(), att.FileName)
	s.uploads[url] = att.Data
	return &models.UploadResult{URL: url, Type: AttachmentTypeFor(att.MIMEType)}, nil
}

// AttachmentTypeFor maps a MIME type onto the attachment taxonomy.
func AttachmentTypeFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentFile
	}
}

// appendLocked appends a message with a strictly increasing timestamp.
func (s *Store) appendLocked(conversationID, senderID uint, content, attachmentURL, attachmentType string) models.Message {
	s.nextMsgID++
	stamp := s.stampLocked()
	msg := models.Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
		CreatedAt:      stamp,
		UpdatedAt:      stamp,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	if conv := s.conversations[conversationID]; conv != nil {
		conv.UpdatedAt = stamp
	}
	return msg
}

// stampLocked returns a timestamp strictly after every previous one, so the
// CreatedAt ordering key never collides within the fixture.
func (s *Store) stampLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Millisecond)
	}
	s.lastStamp = now
	return now
}
