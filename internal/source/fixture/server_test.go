package fixture

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigsync/internal/auth"
)

const serverTestSecret = "server-test-secret-0123456789abcd"

func startServer(t *testing.T) (*Store, string) {
	t.Helper()
	s := NewStore()
	s.SetLocalUser(s.AddUser("local", "Local User", "pw"))

	srv := NewServer(s, serverTestSecret)
	baseURL, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return s, baseURL
}

func TestLoginIssuesValidToken(t *testing.T) {
	_, baseURL := startServer(t)

	body, _ := json.Marshal(map[string]string{"username": "local", "password": "pw"})
	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)

	user, err := auth.FromToken(out.Token, serverTestSecret)
	require.NoError(t, err)
	assert.Equal(t, uint(1), user.ID)
	assert.Equal(t, "local", user.Username)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, baseURL := startServer(t)

	body, _ := json.Marshal(map[string]string{"username": "local", "password": "wrong"})
	resp, err := http.Post(baseURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	_, baseURL := startServer(t)

	resp, err := http.Get(baseURL + "/api/conversations")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestNotFoundMapsTo404(t *testing.T) {
	_, baseURL := startServer(t)

	token, err := auth.IssueToken(auth.LocalUser{ID: 1, Username: "local"}, serverTestSecret)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/conversations/999/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
