// Package api implements the live data source over the messaging REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"gigsync/internal/models"
	"gigsync/internal/observability"
	"gigsync/internal/source"
)

// Client is a Source backed by the live REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a live API client. Every request carries the bearer token,
// a fresh correlation id, and is bounded by the given timeout.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ source.Source = (*Client)(nil)

// Conversations fetches the user's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the full message history for a conversation.
func (c *Client) Messages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var out []models.Message
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a new message and returns the server-assigned record.
func (c *Client) SendMessage(ctx context.Context, in source.SendInput) (*models.Message, error) {
	if in.ClientRef == "" {
		in.ClientRef = uuid.NewString()
	}
	var out models.Message
	path := fmt.Sprintf("/api/conversations/%d/messages", in.ConversationID)
	if err := c.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, messageID uint, content string) (*models.Message, error) {
	var out models.Message
	path := fmt.Sprintf("/api/messages/%d", messageID)
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", messageID), nil, nil)
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", conversationID), nil, nil)
}

// MarkRead marks a conversation read for the local user.
func (c *Client) MarkRead(ctx context.Context, conversationID uint) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/read", conversationID), nil, nil)
}

// UnreadCounts fetches unread counts for the given conversations in one
// batched request instead of one request per conversation.
func (c *Client) UnreadCounts(ctx context.Context, conversationIDs []uint) (map[uint]int, error) {
	body := map[string][]uint{"conversation_ids": conversationIDs}
	var out struct {
		Counts map[uint]int `json:"counts"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/unread-counts", body, &out); err != nil {
		return nil, err
	}
	if out.Counts == nil {
		out.Counts = map[uint]int{}
	}
	return out.Counts, nil
}

// Upload sends an attachment as multipart form data.
func (c *Client) Upload(ctx context.Context, att models.Attachment) (*models.UploadResult, error) {
	span, ctx := observability.TraceAPICall(ctx, "upload")
	defer span.End()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", att.FileName)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, models.NewInternalError(err)
	}
	if att.MIMEType != "" {
		if err := writer.WriteField("mime_type", att.MIMEType); err != nil {
			return nil, models.NewInternalError(err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, models.NewInternalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/uploads", &buf)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setCommonHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.APIRequestLatency.WithLabelValues("upload").Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := models.NewAPIError(resp.StatusCode, string(respBody))
		span.SetError(apiErr)
		return nil, apiErr
	}

	var out models.UploadResult
	if err := models.DecodeEnvelope(respBody, &out); err != nil {
		return nil, models.NewInternalError(err)
	}
	return &out, nil
}

// do performs a JSON request and decodes the response into out (which may be
// nil for calls whose body is ignored). Both response envelope forms are
// accepted: `{"data": T}` and bare `T`.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	endpoint := endpointLabel(method, path)
	span, ctx := observability.TraceAPICall(ctx, endpoint)
	defer span.End()
	span.AddAttributes(attribute.String("http.method", method))

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return models.NewInternalError(err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return models.NewInternalError(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setCommonHeaders(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.APIRequestLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetError(err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewInternalError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := models.NewAPIError(resp.StatusCode, string(respBody))
		span.SetError(apiErr)
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := models.DecodeEnvelope(respBody, out); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-ID", uuid.NewString())
}

// endpointLabel keeps metric label cardinality bounded: ids are stripped.
func endpointLabel(method, path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	for i, p := range parts {
		if p != "" && p[0] >= '0' && p[0] <= '9' {
			parts[i] = "{id}"
		}
	}
	return strings.ToLower(method) + " " + strings.Join(parts, "/")
}
