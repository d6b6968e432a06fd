package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatsession/client/model"
)

// ErrUnexpectedStatus marks a non-2xx backend response.
var ErrUnexpectedStatus = errors.New("unexpected status")

// StatusError carries the status code of a failed backend call.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s: %d", e.Method, e.Path, ErrUnexpectedStatus, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Client wraps the chat backend's request/response API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a backend client. A zero timeout leaves requests bounded
// only by their context.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// WithHTTPClient swaps the underlying http.Client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// LoadBacklog fetches the message history of roomID in backend order.
func (c *Client) LoadBacklog(ctx context.Context, token, roomID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	path := "/chat/messages/" + url.PathEscape(roomID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &messages); err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}
	return messages, nil
}

// ResolveCurrentUser fetches the identity behind token.
func (c *Client) ResolveCurrentUser(ctx context.Context, token string) (model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/chat/getUser", token, nil, &user); err != nil {
		return model.User{}, fmt.Errorf("resolve user: %w", err)
	}
	if user.Name == "" {
		return model.User{}, errors.New("resolve user: empty name")
	}
	return user, nil
}

// PersistMessage stores msg through the durability path. The response body
// is not consumed.
func (c *Client) PersistMessage(ctx context.Context, token string, msg model.ChatMessage) error {
	if err := c.do(ctx, http.MethodPost, "/chat/sendMessage", token, msg, nil); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

// Rent triggers the item rental action bound to roomID. It is unrelated to
// messaging and never called by the session core.
func (c *Client) Rent(ctx context.Context, token, roomID string) error {
	path := "/articles/" + url.PathEscape(roomID) + "/rent"
	if err := c.do(ctx, http.MethodPost, path, token, struct{}{}, nil); err != nil {
		return fmt.Errorf("rent: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
