// Package notify posts flagged communication results to the doctor's
// webhook endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/patient"
)

// Client delivers review notifications over HTTP.
type Client struct {
	webhookURL string
	httpClient *http.Client
}

// NewClient creates a webhook notifier.
func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type reviewNotification struct {
	PatientID   string                       `json:"patient_id"`
	PatientName string                       `json:"patient_name"`
	Result      followup.CommunicationResult `json:"result"`
	SentAt      time.Time                    `json:"sent_at"`
}

// SendResult posts one communication result for doctor review.
func (c *Client) SendResult(ctx context.Context, result followup.CommunicationResult, p patient.Record) error {
	payload := reviewNotification{
		PatientID:   p.PatientID,
		PatientName: p.Name,
		Result:      result,
		SentAt:      time.Now().UTC(),
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.webhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send review notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var bodyBytes []byte
		if resp.Body != nil {
			bodyBytes, _ = io.ReadAll(resp.Body)
		}
		return fmt.Errorf("webhook returned status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return nil
}
