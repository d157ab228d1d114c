package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DeliveryRequest is the wire contract of the workflow platform: one
// workflow execution per record.
type DeliveryRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Parameters map[string]any `json:"parameters"`
}

// Client delivers single records to the external workflow-automation
// platform. Only HTTP 200 counts as success; any other status or transport
// error is a delivery failure carrying the response body for last_error.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Fallback destination for rules without their own endpoint/credential.
	defaultURL   string
	defaultToken string
}

func NewClient(defaultURL, defaultToken string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       logger,
		defaultURL:   defaultURL,
		defaultToken: defaultToken,
	}
}

// SendRecord executes one workflow with the projected record as parameters.
func (c *Client) SendRecord(ctx context.Context, endpoint, credential, workflowID string, params map[string]any) error {
	if endpoint == "" {
		endpoint = c.defaultURL
	}
	if credential == "" {
		credential = c.defaultToken
	}
	if endpoint == "" {
		return fmt.Errorf("no platform endpoint configured")
	}

	body, err := json.Marshal(DeliveryRequest{
		WorkflowID: workflowID,
		Parameters: params,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Cap the captured body: it only feeds last_error and logs.
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Body content is platform-specific and not interpreted; drain it so the
	// connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
