// Package api implements the client for the support backend's REST API.
// The backend is authoritative for every mutation; the socket layer only
// mirrors what succeeded here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/deskstream/deskstream/internal/model"
)

// ErrNotFound is returned for 404 responses so callers can treat a write
// against an already-deleted notification as a no-op.
var ErrNotFound = errors.New("not found")

// Client is a support backend API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new backend API client. The API key is optional; when
// empty no Authorization header is sent.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request performs an HTTP request against the backend API.
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Notifications fetches a tenant's notification list, newest first.
func (c *Client) Notifications(ctx context.Context, businessID string, limit int) ([]model.Notification, error) {
	params := url.Values{}
	params.Set("businessId", businessID)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []model.Notification
	if err := c.request(ctx, http.MethodGet, "/notifications?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UnreadCount fetches the authoritative unread counter for a tenant.
func (c *Client) UnreadCount(ctx context.Context, businessID string) (int, error) {
	params := url.Values{}
	params.Set("businessId", businessID)

	var resp UnreadCountResponse
	if err := c.request(ctx, http.MethodGet, "/notifications/unread-count?"+params.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead marks one notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification of a tenant as read.
func (c *Client) MarkAllRead(ctx context.Context, businessID string) error {
	return c.request(ctx, http.MethodPut, "/notifications/read-all", MarkAllReadRequest{BusinessID: businessID}, nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}
