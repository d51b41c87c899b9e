package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	return s
}

func stamp(offset int) time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Second)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("etcd", "")
	assert.Error(t, err)
}

func TestSaveAndRecent(t *testing.T) {
	s := openTestStore(t)

	msgs := []models.Message{
		{ID: 1, ConversationID: 7, SenderID: 1, Content: "first", CreatedAt: stamp(0)},
		{ID: 2, ConversationID: 7, SenderID: 2, Content: "second", CreatedAt: stamp(1)},
		{ID: 3, ConversationID: 8, SenderID: 1, Content: "elsewhere", CreatedAt: stamp(2)},
	}
	require.NoError(t, s.SaveMessages(msgs))

	got, err := s.Recent(7, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint(1), got[0].ID, "oldest first")
	assert.Equal(t, uint(2), got[1].ID)
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openTestStore(t)

	var msgs []models.Message
	for i := 1; i <= 5; i++ {
		msgs = append(msgs, models.Message{ID: uint(i), ConversationID: 7, SenderID: 1, CreatedAt: stamp(i)})
	}
	require.NoError(t, s.SaveMessages(msgs))

	got, err := s.Recent(7, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// The two newest, still oldest first.
	assert.Equal(t, uint(4), got[0].ID)
	assert.Equal(t, uint(5), got[1].ID)
}

func TestSaveMessagesUpserts(t *testing.T) {
	s := openTestStore(t)

	msg := models.Message{ID: 1, ConversationID: 7, SenderID: 1, Content: "before", CreatedAt: stamp(0)}
	require.NoError(t, s.SaveMessages([]models.Message{msg}))

	msg.Content = "after"
	msg.IsRead = true
	require.NoError(t, s.SaveMessages([]models.Message{msg}))

	got, err := s.Recent(7, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Content)
	assert.True(t, got[0].IsRead)
}

func TestDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveMessages([]models.Message{
		{ID: 1, ConversationID: 7, CreatedAt: stamp(0)},
		{ID: 2, ConversationID: 7, CreatedAt: stamp(1)},
	}))

	require.NoError(t, s.DeleteMessage(1))
	got, err := s.Recent(7, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(2), got[0].ID)
}

func TestDeleteConversation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveMessages([]models.Message{
		{ID: 1, ConversationID: 7, CreatedAt: stamp(0)},
		{ID: 2, ConversationID: 8, CreatedAt: stamp(1)},
	}))

	require.NoError(t, s.DeleteConversation(7))
	got, err := s.Recent(7, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	kept, err := s.Recent(8, 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestSaveMessagesEmpty(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveMessages(nil))
}
