// Package sessionclient is a small HTTP client for the session control
// plane, with retry and circuit-breaking for a possibly-flaky remote
// host layered on top via internal/retry.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airtrans-project/airtrans/internal/retry"
	"github.com/airtrans-project/airtrans/pkg/descriptor"
)

// Client talks to one session service at BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      *retry.Manager
}

// New creates a Client with reasonable defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Retry:      retry.NewManager(),
	}
}

type createSessionRequest struct {
	Filepath     string `json:"filepath"`
	NumParts     int    `json:"num_parts,omitempty"`
	BasePort     int    `json:"base_port,omitempty"`
	IP           string `json:"ip,omitempty"`
	Compressed   bool   `json:"compressed,omitempty"`
	ParityShards int    `json:"parity_shards,omitempty"`
}

type createSessionResponse struct {
	SessionID  string                `json:"session_id"`
	Descriptor descriptor.Descriptor `json:"descriptor"`
}

// CreateSession asks the remote service to mint a descriptor for path.
// parityShards requests that many additional Reed-Solomon parity ports
// alongside the numParts data ports; 0 leaves the choice to the service's
// own default.
func (c *Client) CreateSession(ctx context.Context, path string, numParts, basePort int, compressed bool, parityShards int) (string, descriptor.Descriptor, error) {
	req := createSessionRequest{Filepath: path, NumParts: numParts, BasePort: basePort, Compressed: compressed, ParityShards: parityShards}
	var resp createSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/create-session", req, &resp); err != nil {
		return "", descriptor.Descriptor{}, err
	}
	return resp.SessionID, resp.Descriptor, nil
}

// JoinSession registers d as a receiver-role session on the remote
// service and returns the resulting session id.
func (c *Client) JoinSession(ctx context.Context, d descriptor.Descriptor) (string, error) {
	body := map[string]any{"metadata": d}
	var rec descriptor.Session
	if err := c.doJSON(ctx, http.MethodPost, "/join-session", body, &rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// UpdateProgress reports bytesTransferred for chunkID within sessionID.
func (c *Client) UpdateProgress(ctx context.Context, sessionID string, chunkID int, bytesTransferred int64) error {
	body := map[string]any{"chunk_id": chunkID, "bytes_transferred": bytesTransferred}
	return c.doJSON(ctx, http.MethodPost, "/update-progress/"+sessionID, body, nil)
}

// GetProgress fetches the remote service's progress snapshot for sessionID.
func (c *Client) GetProgress(ctx context.Context, sessionID string) (percentage float64, totalTransferred int64, err error) {
	var resp struct {
		Percentage       float64 `json:"percentage"`
		TotalTransferred int64   `json:"total_transferred"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/progress/"+sessionID, nil, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Percentage, resp.TotalTransferred, nil
}

// Complete reports the observed checksum for sessionID and returns
// whether it matched the descriptor's checksum.
func (c *Client) Complete(ctx context.Context, sessionID, checksum string) (bool, error) {
	body := map[string]any{"checksum": checksum}
	var resp struct {
		ChecksumMatch bool `json:"checksum_match"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/complete/"+sessionID, body, &resp); err != nil {
		return false, err
	}
	return resp.ChecksumMatch, nil
}

// GetSession fetches a session record by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*descriptor.Session, error) {
	var rec descriptor.Session
	if err := c.doJSON(ctx, http.MethodGet, "/session/"+sessionID, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// doJSON performs one HTTP round trip with JSON request/response bodies,
// retrying through c.Retry on transport-level failures and 5xx
// responses. A nil out skips response decoding (fire-and-forget calls).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reqBody []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("sessionclient: marshal request: %w", err)
		}
		reqBody = b
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if !c.Retry.ShouldRetry(c.BaseURL, attempt) && attempt > 0 {
			return fmt.Errorf("sessionclient: %s %s: circuit open or retries exhausted: %w", method, path, lastErr)
		}

		retryable, err := c.attempt(ctx, method, path, reqBody, out)
		if err == nil {
			c.Retry.RecordSuccess(c.BaseURL)
			return nil
		}
		lastErr = err
		c.Retry.RecordFailure(c.BaseURL)

		if !retryable || attempt+1 >= c.Retry.MaxRetries {
			return fmt.Errorf("sessionclient: %s %s: %w", method, path, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.Retry.NextBackoff(attempt + 1)):
		}
	}
}

// attempt performs a single round trip. retryable reports whether a
// failure is a transport error or a 5xx response.
func (c *Client) attempt(ctx context.Context, method, path string, reqBody []byte, out any) (retryable bool, err error) {
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return false, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode >= 500, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	return false, json.NewDecoder(resp.Body).Decode(out)
}
