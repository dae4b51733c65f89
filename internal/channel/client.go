// Package channel implements the client for the external real-time
// communication service that hosts patient calls.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"healthcare-followup/internal/followup"
)

// Client acquires communication channels from the provider. Failures are
// returned as errors; the sub-agent degrades to a local fallback handle.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a channel provider client. A zero timeout defaults to
// 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateSession requests a communication session from the provider.
func (c *Client) CreateSession(ctx context.Context, req followup.ChannelRequest) (followup.ChannelSession, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return followup.ChannelSession{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/sessions/create", bytes.NewBuffer(jsonBody))
	if err != nil {
		return followup.ChannelSession{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return followup.ChannelSession{}, fmt.Errorf("channel provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return followup.ChannelSession{}, fmt.Errorf("channel provider returned status: %s, body: %s", resp.Status, string(body))
	}

	var metadata map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return followup.ChannelSession{}, err
	}

	return followup.ChannelSession{
		SessionID:     req.SessionID,
		PatientID:     req.PatientID,
		RoomID:        req.RoomID,
		ParticipantID: req.ParticipantID,
		StartTime:     time.Now().UTC(),
		Metadata:      metadata,
	}, nil
}
