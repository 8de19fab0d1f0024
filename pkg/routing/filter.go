package routing

import (
	"strings"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
)

// FilterPolicy is the declarative set of conditions deciding whether a
// canonical message is forwarded to the consumer. It is supplied once per
// trigger activation and read-only afterwards, so it is safe to share across
// goroutines without locking.
type FilterPolicy struct {
	// EventTypes is an allow-list of event types. An empty list admits every
	// event type.
	EventTypes []agentmessage.EventType

	// UserID, ConversationID and AgentID, when set, must match the
	// corresponding message field exactly.
	UserID         string
	ConversationID string
	AgentID        string

	// ContentContains, when set, requires the message content to contain the
	// value case-insensitively. A message with no content never matches.
	ContentContains string
}

// Admit evaluates a normalized message against the policy. All conditions are
// AND-ed; there is no OR or priority semantics. Admit is a pure function:
// identical (message, policy) pairs always yield the identical decision.
func (p FilterPolicy) Admit(msg agentmessage.CanonicalMessage) bool {
	if len(p.EventTypes) > 0 && !containsEventType(p.EventTypes, msg.EventType) {
		return false
	}
	if p.UserID != "" && p.UserID != msg.UserID {
		return false
	}
	if p.ConversationID != "" && p.ConversationID != msg.ConversationID {
		return false
	}
	if p.AgentID != "" && p.AgentID != msg.AgentID {
		return false
	}
	if p.ContentContains != "" {
		if msg.Content == "" {
			return false
		}
		if !strings.Contains(strings.ToLower(msg.Content), strings.ToLower(p.ContentContains)) {
			return false
		}
	}
	return true
}

func containsEventType(types []agentmessage.EventType, t agentmessage.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
