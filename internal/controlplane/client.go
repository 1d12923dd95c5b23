package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edge-agent/internal/channel"
)

// DefaultTimeout bounds a single desired-state fetch.
const DefaultTimeout = 10 * time.Second

const channelsPath = "/api/edge/channels"

var (
	// ErrFetchFailed is returned when the control plane is unreachable or
	// answers with a non-success status or an unreadable body.
	ErrFetchFailed = errors.New("fetch desired state failed")

	// ErrNotConfigured is returned when the base URL or API key is missing.
	ErrNotConfigured = errors.New("control plane not configured")
)

// Client fetches desired channel state for one edge.
type Client struct {
	baseURL    string
	apiKey     string
	edgeID     string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL. A nil httpClient gets one with
// DefaultTimeout; a non-positive timeout keeps the client's own.
func NewClient(baseURL, apiKey, edgeID string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		edgeID:     edgeID,
		httpClient: httpClient,
	}
}

// Configured reports whether the client has both an address and a credential.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// BaseURL returns the normalized control-plane base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchChannels performs the authenticated GET and normalizes the payload.
// Every failure wraps ErrFetchFailed.
func (c *Client) FetchChannels(ctx context.Context) (*channel.Snapshot, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+channelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-EDGE-ID", c.edgeID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode)
	}

	snap, err := channel.ParsePayload(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return snap, nil
}
