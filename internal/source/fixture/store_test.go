package fixture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/models"
	"gigsync/internal/source"
)

func seededStore(t *testing.T) (*Store, uint, uint, uint) {
	t.Helper()
	s := NewStore()
	local := s.AddUser("local", "Local User", "pw")
	other := s.AddUser("other", "Other User", "")
	s.SetLocalUser(local)
	conv := s.CreateConversation("", false, []uint{local, other})
	return s, local, other, conv
}

func TestStoreTimestampsStrictlyIncrease(t *testing.T) {
	s, _, other, conv := seededStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.AppendIncoming(conv, other, "msg")
		require.NoError(t, err)
	}
	msgs, err := s.Messages(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
	}
}

func TestStoreUnreadLifecycle(t *testing.T) {
	s, _, other, conv := seededStore(t)
	ctx := context.Background()

	_, err := s.AppendIncoming(conv, other, "one")
	require.NoError(t, err)
	_, err = s.AppendIncoming(conv, other, "two")
	require.NoError(t, err)

	counts, err := s.UnreadCounts(ctx, []uint{conv})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[conv])

	// Own sends never count as unread.
	_, err = s.SendMessage(ctx, source.SendInput{ConversationID: conv, Content: "reply"})
	require.NoError(t, err)
	counts, _ = s.UnreadCounts(ctx, []uint{conv})
	assert.Equal(t, 2, counts[conv])

	require.NoError(t, s.MarkRead(ctx, conv))
	counts, _ = s.UnreadCounts(ctx, []uint{conv})
	assert.Zero(t, counts[conv])

	msgs, err := s.Messages(ctx, conv)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SenderID == other {
			assert.True(t, m.IsRead)
			assert.NotNil(t, m.ReadAt)
		}
	}
}

func TestStoreOnAppendHook(t *testing.T) {
	s, _, other, conv := seededStore(t)

	var got []models.Message
	s.OnAppend(func(m models.Message) { got = append(got, m) })

	_, err := s.AppendIncoming(conv, other, "pushed")
	require.NoError(t, err)
	_, err = s.SendMessage(context.Background(), source.SendInput{ConversationID: conv, Content: "sent"})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "pushed", got[0].Content)
	assert.Equal(t, "sent", got[1].Content)
}

func TestStoreConversationsIncludeLastMessage(t *testing.T) {
	s, _, other, conv := seededStore(t)
	_, err := s.AppendIncoming(conv, other, "latest")
	require.NoError(t, err)

	convs, err := s.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "latest", convs[0].LastMessage.Content)
	assert.Len(t, convs[0].Participants, 2)
}

func TestStoreEditAndDelete(t *testing.T) {
	s, _, other, conv := seededStore(t)
	ctx := context.Background()
	msg, err := s.AppendIncoming(conv, other, "original")
	require.NoError(t, err)

	edited, err := s.EditMessage(ctx, msg.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Content)
	assert.Equal(t, msg.CreatedAt, edited.CreatedAt)

	require.NoError(t, s.DeleteMessage(ctx, msg.ID))
	msgs, err := s.Messages(ctx, conv)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.Error(t, s.DeleteMessage(ctx, msg.ID))
}

func TestStoreDeleteConversation(t *testing.T) {
	s, _, _, conv := seededStore(t)
	ctx := context.Background()

	require.NoError(t, s.DeleteConversation(ctx, conv))
	_, err := s.Messages(ctx, conv)
	assert.Error(t, err)
	assert.Error(t, s.DeleteConversation(ctx, conv))
}

func TestStoreSendValidation(t *testing.T) {
	s, _, _, conv := seededStore(t)

	_, err := s.SendMessage(context.Background(), source.SendInput{ConversationID: conv, Content: "   "})
	require.Error(t, err)

	_, err = s.SendMessage(context.Background(), source.SendInput{ConversationID: 999, Content: "hi"})
	require.Error(t, err)
}

func TestStorePasswords(t *testing.T) {
	s, local, _, _ := seededStore(t)

	id, ok := s.CheckPassword("local", "pw")
	assert.True(t, ok)
	assert.Equal(t, local, id)

	_, ok = s.CheckPassword("local", "wrong")
	assert.False(t, ok)
	_, ok = s.CheckPassword("nobody", "pw")
	assert.False(t, ok)
}

func TestAttachmentTypeFor(t *testing.T) {
	assert.Equal(t, models.AttachmentImage, AttachmentTypeFor("image/png"))
	assert.Equal(t, models.AttachmentVideo, AttachmentTypeFor("video/mp4"))
	assert.Equal(t, models.AttachmentAudio, AttachmentTypeFor("audio/ogg"))
	assert.Equal(t, models.AttachmentFile, AttachmentTypeFor("application/pdf"))
}

func TestStoreSeed(t *testing.T) {
	s := NewStore()
	local := s.Seed(3, 4)
	assert.Equal(t, local, s.LocalUser())

	convs, err := s.Conversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, convs, 3)
	for _, c := range convs {
		msgs, err := s.Messages(context.Background(), c.ID)
		require.NoError(t, err)
		assert.Len(t, msgs, 4)
	}
}
