package agentapi

import (
	"context"
	"fmt"
)

// Credentials carries what the core needs to reach the agent-messaging
// backend. WSURL may be empty, in which case the channel transport derives it
// from BaseURL.
type Credentials struct {
	BaseURL  string
	APIToken string
	WSURL    string
}

// CredentialsProvider is the credential-storage collaborator boundary. The
// core never stores or refreshes tokens itself; it asks the provider once
// before constructing a connection.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialsProvider returning a fixed set, for
// configurations where the token is supplied directly.
type StaticCredentials Credentials

// Credentials returns the fixed credential set.
func (s StaticCredentials) Credentials(_ context.Context) (Credentials, error) {
	if s.BaseURL == "" {
		return Credentials{}, fmt.Errorf("credentials are missing a base URL")
	}
	return Credentials(s), nil
}
