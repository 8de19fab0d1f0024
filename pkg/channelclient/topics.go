package channelclient

import (
	"fmt"
)

// SubscribeMode selects how the set of topics for a subscription request is
// derived.
type SubscribeMode string

const (
	// ModeSingle subscribes to one pattern verbatim. The pattern may carry a
	// trailing wildcard segment, which is interpreted by the backend rather
	// than expanded locally.
	ModeSingle SubscribeMode = "single"

	// ModeMultiple subscribes to an explicit topic list.
	ModeMultiple SubscribeMode = "multiple"

	// ModeAgent derives one topic per agent id by naming convention.
	ModeAgent SubscribeMode = "agent"
)

// agentTopicFormat is the backend's naming convention for per-agent chat
// channels.
const agentTopicFormat = "agent_chat:agent_%s"

// AgentTopic derives the chat topic for a single agent id.
func AgentTopic(agentID string) string {
	return fmt.Sprintf(agentTopicFormat, agentID)
}

// ResolveTopics resolves a subscription request into a concrete, duplicate-free
// topic list. The input corresponding to the selected mode must be populated;
// anything else fails with ErrInvalidConfiguration.
func ResolveTopics(mode SubscribeMode, pattern string, topics []string, agentIDs []string) ([]string, error) {
	switch mode {
	case ModeSingle:
		if pattern == "" {
			return nil, fmt.Errorf("%w: mode %q requires a pattern", ErrInvalidConfiguration, mode)
		}
		return []string{pattern}, nil

	case ModeMultiple:
		if len(topics) == 0 {
			return nil, fmt.Errorf("%w: mode %q requires a non-empty topic list", ErrInvalidConfiguration, mode)
		}
		deduped := dedupe(topics)
		if len(deduped) == 0 {
			return nil, fmt.Errorf("%w: mode %q resolved to an empty topic set", ErrInvalidConfiguration, mode)
		}
		return deduped, nil

	case ModeAgent:
		if len(agentIDs) == 0 {
			return nil, fmt.Errorf("%w: mode %q requires at least one agent id", ErrInvalidConfiguration, mode)
		}
		derived := make([]string, 0, len(agentIDs))
		for _, id := range agentIDs {
			if id == "" {
				continue
			}
			derived = append(derived, AgentTopic(id))
		}
		if len(derived) == 0 {
			return nil, fmt.Errorf("%w: mode %q resolved to an empty topic set", ErrInvalidConfiguration, mode)
		}
		return dedupe(derived), nil

	default:
		return nil, fmt.Errorf("%w: unknown subscription mode %q", ErrInvalidConfiguration, mode)
	}
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, topic := range in {
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}
