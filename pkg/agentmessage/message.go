package agentmessage

import (
	"time"
)

// EventType classifies an inbound event from the agent-messaging backend.
type EventType string

const (
	EventUserMessage    EventType = "user_message"
	EventAgentResponse  EventType = "agent_response"
	EventTyping         EventType = "typing"
	EventAgentStatus    EventType = "agent_status"
	EventFileAttachment EventType = "file_attachment"
)

// Transport identifies which transport an inbound payload arrived on. The
// normalizer tolerates either transport's field-naming convention, but the
// origin is preserved so downstream consumers can distinguish the two paths.
type Transport string

const (
	TransportChannel Transport = "channel"
	TransportWebhook Transport = "webhook"
)

// CanonicalMessage is the normalized, transport-agnostic representation of one
// inbound event. It is produced fresh per event and never mutated after
// construction; filters and dispatch operate on immutable snapshots.
//
// A CanonicalMessage always carries a non-empty EventType and Timestamp.
type CanonicalMessage struct {
	// ID is the backend-supplied message identifier, or a freshly generated
	// UUID when the wire payload carries none.
	ID string `json:"id"`

	// EventType is the classified event kind. Payloads without a recognizable
	// type field default to EventUserMessage.
	EventType EventType `json:"type"`

	// Content is the textual body of the message. May be empty.
	Content string `json:"content"`

	// ConversationID groups messages belonging to one conversation thread.
	ConversationID string `json:"conversationId,omitempty"`

	// UserID identifies the human participant, when the backend supplies one.
	UserID string `json:"userId,omitempty"`

	// AgentID identifies the agent participant, when the backend supplies one.
	AgentID string `json:"agentId,omitempty"`

	// Timestamp is the event time from the wire payload, defaulting to
	// construction time (UTC) when absent or unparseable.
	Timestamp time.Time `json:"timestamp"`

	// Metadata holds any additional backend-supplied attributes. Insertion
	// order is irrelevant.
	Metadata map[string]any `json:"metadata,omitempty"`

	// FileURL, FileName and FileType describe an optional file attachment
	// referenced by the message.
	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`

	// Transport records which transport delivered the originating payload.
	Transport Transport `json:"-"`
}

// HasAttachment reports whether the message references a downloadable file.
func (m *CanonicalMessage) HasAttachment() bool {
	return m.FileURL != ""
}

// Attachment is the fetched binary content of a message's file reference. It
// travels alongside the CanonicalMessage to the emission point; it is never
// folded into the message itself.
type Attachment struct {
	Data     []byte
	Name     string
	MIMEType string
}
