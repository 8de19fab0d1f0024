package channelclient_test

import (
	"testing"

	"github.com/illmade-knight/go-agentflow/pkg/channelclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTopics(t *testing.T) {
	testCases := []struct {
		name     string
		mode     channelclient.SubscribeMode
		pattern  string
		topics   []string
		agentIDs []string
		want     []string
		wantErr  bool
	}{
		{
			name:    "single returns pattern verbatim",
			mode:    channelclient.ModeSingle,
			pattern: "agent_chat:*",
			want:    []string{"agent_chat:*"},
		},
		{
			name:    "single without pattern fails",
			mode:    channelclient.ModeSingle,
			wantErr: true,
		},
		{
			name:   "multiple removes duplicates and preserves order",
			mode:   channelclient.ModeMultiple,
			topics: []string{"t1", "t2", "t1", "t3", "t2"},
			want:   []string{"t1", "t2", "t3"},
		},
		{
			name:    "multiple with empty list fails",
			mode:    channelclient.ModeMultiple,
			wantErr: true,
		},
		{
			name:    "multiple with only empty strings fails",
			mode:    channelclient.ModeMultiple,
			topics:  []string{"", ""},
			wantErr: true,
		},
		{
			name:     "agent derives topics by convention",
			mode:     channelclient.ModeAgent,
			agentIDs: []string{"7", "42"},
			want:     []string{"agent_chat:agent_7", "agent_chat:agent_42"},
		},
		{
			name:     "agent deduplicates ids",
			mode:     channelclient.ModeAgent,
			agentIDs: []string{"7", "7"},
			want:     []string{"agent_chat:agent_7"},
		},
		{
			name:    "agent without ids fails",
			mode:    channelclient.ModeAgent,
			wantErr: true,
		},
		{
			name:    "unknown mode fails",
			mode:    channelclient.SubscribeMode("bogus"),
			pattern: "whatever",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := channelclient.ResolveTopics(tc.mode, tc.pattern, tc.topics, tc.agentIDs)
			if tc.wantErr {
				require.ErrorIs(t, err, channelclient.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, got, "a valid request always resolves to a non-empty set")
			assert.Equal(t, tc.want, got)

			seen := make(map[string]bool)
			for _, topic := range got {
				assert.False(t, seen[topic], "resolved set must be duplicate-free")
				seen[topic] = true
			}
		})
	}
}

func TestAgentTopic(t *testing.T) {
	assert.Equal(t, "agent_chat:agent_abc", channelclient.AgentTopic("abc"))
}
