package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/rs/zerolog"
)

// Client sends outbound messages to the backend's webhook endpoint. These are
// plain synchronous request/response calls with no state machine; the caller
// owns retries, if any.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a webhook Client for the given backend base URL.
func NewClient(baseURL, authToken string, logger zerolog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "WebhookClient").Logger(),
	}, nil
}

// SendMessage posts one canonical message to the agent's webhook endpoint:
// POST {baseURL}/webhooks/agents/{agentID}/message.
func (c *Client) SendMessage(ctx context.Context, agentID string, msg agentmessage.CanonicalMessage) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}

	url := fmt.Sprintf("%s/webhooks/agents/%s/message", c.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send to agent %s: %w", agentID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook send to agent %s: unexpected status %d", agentID, resp.StatusCode)
	}

	c.logger.Debug().Str("agent_id", agentID).Str("msg_id", msg.ID).Msg("Webhook message sent.")
	return nil
}
