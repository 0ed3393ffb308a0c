// Package apiclient is a typed HTTP client for the api service.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mahaj/convoflow/pkg/model"
)

// APIError is a non-2xx response from the api.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	base  string
	http  *http.Client
	token string
}

func New(base string) *Client {
	return &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type idResponse struct {
	ID *string `json:"id"`
}

func (c *Client) postID(ctx context.Context, path string, body any) (string, error) {
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == nil {
		return "", nil
	}
	return *resp.ID, nil
}

type LoginRequest struct {
	Subject string `json:"subject"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Login asks the dev login endpoint for a token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

func (c *Client) SyncUser(ctx context.Context) (string, error) {
	return c.postID(ctx, "/users/sync", nil)
}

func (c *Client) SetOnline(ctx context.Context) (string, error) {
	return c.postID(ctx, "/users/online", nil)
}

func (c *Client) SetOffline(ctx context.Context) (string, error) {
	return c.postID(ctx, "/users/offline", nil)
}

// CurrentUser returns nil when the caller has not been synced.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var u *model.User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, &u)
	return u, err
}

func (c *Client) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := c.do(ctx, http.MethodGet, "/users", nil, &users)
	return users, err
}

// ConversationWith returns nil when the caller and otherUserID share no conversation.
func (c *Client) ConversationWith(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := c.do(ctx, http.MethodGet, "/conversations/with/"+url.PathEscape(otherUserID), nil, &conv)
	return conv, err
}

func (c *Client) GetOrCreateConversation(ctx context.Context, otherUserID string) (string, error) {
	return c.postID(ctx, "/conversations", map[string]string{"other_user_id": otherUserID})
}

func (c *Client) Conversations(ctx context.Context) ([]model.ConversationSummary, error) {
	var convs []model.ConversationSummary
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs)
	return convs, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (string, error) {
	return c.postID(ctx, "/conversations/"+url.PathEscape(conversationID)+"/messages", map[string]string{"body": body})
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &msgs)
	return msgs, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID, userID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", map[string]string{"user_id": userID}, nil)
}

func (c *Client) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	counts := map[string]int{}
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/unread", nil, &counts)
	return counts, err
}

func (c *Client) UpdatePresence(ctx context.Context, userID string) (string, error) {
	return c.postID(ctx, "/presence", map[string]string{"user_id": userID})
}

// UserPresence returns nil when the user has never been seen.
func (c *Client) UserPresence(ctx context.Context, userID string) (*model.Presence, error) {
	var p *model.Presence
	err := c.do(ctx, http.MethodGet, "/presence/"+url.PathEscape(userID), nil, &p)
	return p, err
}

func (c *Client) UpdateTyping(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/typing", map[string]string{"user_id": userID}, nil)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
