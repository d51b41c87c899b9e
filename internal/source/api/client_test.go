package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/auth"
	"gigsync/internal/models"
	"gigsync/internal/source"
	"gigsync/internal/source/fixture"
)

const testSecret = "client-test-secret-0123456789abcdef"

// startBackend boots the fixture backend and returns a client authenticated
// as the local user.
func startBackend(t *testing.T) (*fixture.Store, *Client, uint, uint) {
	t.Helper()

	store := fixture.NewStore()
	local := store.AddUser("local", "Local User", "pw")
	other := store.AddUser("other", "Other User", "")
	store.SetLocalUser(local)

	srv := fixture.NewServer(store, testSecret)
	baseURL, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	token, err := auth.IssueToken(auth.LocalUser{ID: local, Username: "local"}, testSecret)
	require.NoError(t, err)

	return store, NewClient(baseURL, token, 5*time.Second), local, other
}

func TestClientConversationsAndMessages(t *testing.T) {
	store, client, local, other := startBackend(t)
	conv := store.CreateConversation("", false, []uint{local, other})
	_, err := store.AppendIncoming(conv, other, "hello")
	require.NoError(t, err)

	convs, err := client.Conversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, conv, convs[0].ID)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hello", convs[0].LastMessage.Content)

	msgs, err := client.Messages(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestClientSendMessage(t *testing.T) {
	store, client, local, other := startBackend(t)
	conv := store.CreateConversation("", false, []uint{local, other})

	msg, err := client.SendMessage(context.Background(), source.SendInput{
		ConversationID: conv,
		Content:        "from client",
	})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, local, msg.SenderID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestClientUnreadCountsAndMarkRead(t *testing.T) {
	store, client, local, other := startBackend(t)
	conv := store.CreateConversation("", false, []uint{local, other})
	_, err := store.AppendIncoming(conv, other, "one")
	require.NoError(t, err)
	_, err = store.AppendIncoming(conv, other, "two")
	require.NoError(t, err)

	counts, err := client.UnreadCounts(context.Background(), []uint{conv})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[conv])

	require.NoError(t, client.MarkRead(context.Background(), conv))
	counts, err = client.UnreadCounts(context.Background(), []uint{conv})
	require.NoError(t, err)
	assert.Zero(t, counts[conv])
}

func TestClientEditAndDeleteMessage(t *testing.T) {
	store, client, local, other := startBackend(t)
	conv := store.CreateConversation("", false, []uint{local, other})
	msg, err := store.AppendIncoming(conv, other, "original")
	require.NoError(t, err)

	edited, err := client.EditMessage(context.Background(), msg.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", edited.Content)

	require.NoError(t, client.DeleteMessage(context.Background(), msg.ID))
	msgs, err := client.Messages(context.Background(), conv)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClientDeleteConversation(t *testing.T) {
	store, client, local, other := startBackend(t)
	conv := store.CreateConversation("", false, []uint{local, other})

	require.NoError(t, client.DeleteConversation(context.Background(), conv))
	convs, err := client.Conversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestClientUpload(t *testing.T) {
	_, client, _, _ := startBackend(t)

	result, err := client.Upload(context.Background(), models.Attachment{
		FileName: "pic.png",
		MIMEType: "image/png",
		Data:     []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.URL)
	assert.Equal(t, models.AttachmentImage, result.Type)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	_, client, _, _ := startBackend(t)

	_, err := client.Messages(context.Background(), 999)
	require.Error(t, err)
	appErr, ok := err.(*models.AppError)
	require.True(t, ok)
	assert.Equal(t, "API_ERROR", appErr.Code)
}

func TestClientRejectedWithoutToken(t *testing.T) {
	store := fixture.NewStore()
	store.SetLocalUser(store.AddUser("local", "Local", "pw"))
	srv := fixture.NewServer(store, testSecret)
	baseURL, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	client := NewClient(baseURL, "", 5*time.Second)
	_, err = client.Conversations(context.Background())
	require.Error(t, err)
}

func TestEndpointLabelStripsIDs(t *testing.T) {
	assert.Equal(t, "get conversations/{id}/messages", endpointLabel("GET", "/api/conversations/42/messages"))
	assert.Equal(t, "post unread-counts", endpointLabel("POST", "/api/unread-counts"))
	assert.Equal(t, "delete messages/{id}", endpointLabel("DELETE", "/api/messages/7"))
}
