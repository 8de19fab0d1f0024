package agentapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/channelclient"
	"github.com/illmade-knight/go-agentflow/pkg/webhook"
	"github.com/rs/zerolog"
)

// Agent is one entry from the backend's agent directory.
type Agent struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	TenantID       string `json:"tenantId"`
	OrganizationID string `json:"organizationId"`
}

// Client is the synchronous request/response surface of the backend: agent
// directory lookups used to populate topic-derivation inputs and selection
// UIs. It is not part of the message-routing core and carries no state
// machine.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	sender     *webhook.Client
	logger     zerolog.Logger
}

// NewClient creates an agent directory Client from a credential set.
func NewClient(creds Credentials, logger zerolog.Logger) (*Client, error) {
	if creds.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	sender, err := webhook.NewClient(creds.BaseURL, creds.APIToken, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    creds.BaseURL,
		authToken:  creds.APIToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sender:     sender,
		logger:     logger.With().Str("component", "AgentAPIClient").Logger(),
	}, nil
}

// ListAgents fetches the agent directory: GET /api/v1/agents.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent list request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent list request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent list request: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode agent list: %w", err)
	}

	c.logger.Debug().Int("count", len(payload.Agents)).Msg("Fetched agent directory.")
	return payload.Agents, nil
}

// SendMessage delivers one canonical message to an agent over the backend's
// synchronous webhook endpoint.
func (c *Client) SendMessage(ctx context.Context, agentID string, msg agentmessage.CanonicalMessage) error {
	return c.sender.SendMessage(ctx, agentID, msg)
}

// AgentIDs extracts the ids from a directory listing, ready to feed topic
// derivation.
func AgentIDs(agents []Agent) []string {
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// AgentTopics derives the chat topic for each agent in a directory listing.
func AgentTopics(agents []Agent) []string {
	topics := make([]string, 0, len(agents))
	for _, id := range AgentIDs(agents) {
		topics = append(topics, channelclient.AgentTopic(id))
	}
	return topics
}
