package agentmessage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Field-name candidates, evaluated in fixed priority order. The channel
// transport favours snake_case, webhook bodies frequently arrive camelCased,
// and a few backends report conversation ids as thread ids; the first present
// key wins so normalization stays deterministic when several conventions
// appear in one payload.
var (
	idKeys           = []string{"id", "message_id", "messageId"}
	typeKeys         = []string{"type", "event_type", "eventType", "event"}
	contentKeys      = []string{"content", "text", "message", "body"}
	conversationKeys = []string{"conversation_id", "conversationId", "thread_id", "threadId"}
	userKeys         = []string{"user_id", "userId", "sender_id", "senderId"}
	agentKeys        = []string{"agent_id", "agentId"}
	timestampKeys    = []string{"timestamp", "inserted_at", "created_at"}
	fileURLKeys      = []string{"file_url", "fileUrl"}
	fileNameKeys     = []string{"file_name", "fileName"}
	fileTypeKeys     = []string{"file_type", "fileType"}
)

// Normalize maps a heterogeneous wire payload into a CanonicalMessage. It
// never fails: malformed or partially populated payloads degrade to empty
// defaults rather than being rejected, so any rejection decision is left to
// the downstream filter or consumer.
func Normalize(payload []byte, transport Transport) CanonicalMessage {
	var raw map[string]any
	// A decode failure leaves raw nil; every lookup below then misses and the
	// message is built entirely from defaults.
	_ = json.Unmarshal(payload, &raw)

	msg := CanonicalMessage{
		ID:             firstString(raw, idKeys),
		EventType:      EventType(firstString(raw, typeKeys)),
		Content:        firstString(raw, contentKeys),
		ConversationID: firstString(raw, conversationKeys),
		UserID:         firstString(raw, userKeys),
		AgentID:        firstString(raw, agentKeys),
		Timestamp:      firstTimestamp(raw, timestampKeys),
		FileURL:        firstString(raw, fileURLKeys),
		FileName:       firstString(raw, fileNameKeys),
		FileType:       firstString(raw, fileTypeKeys),
		Transport:      transport,
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EventType == "" {
		// Inbound-looking payloads without a type are treated as user messages.
		msg.EventType = EventUserMessage
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if meta, ok := raw["metadata"].(map[string]any); ok {
		msg.Metadata = meta
	}

	// Some backends nest attachment details under a "file" object instead of
	// flat keys; the flat keys take priority when both are present.
	if file, ok := raw["file"].(map[string]any); ok {
		if msg.FileURL == "" {
			msg.FileURL, _ = file["url"].(string)
		}
		if msg.FileName == "" {
			msg.FileName, _ = file["name"].(string)
		}
		if msg.FileType == "" {
			if ct, ok := file["content_type"].(string); ok {
				msg.FileType = ct
			} else {
				msg.FileType, _ = file["type"].(string)
			}
		}
	}

	return msg
}

// firstString returns the value of the first candidate key holding a
// non-empty string.
func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// firstTimestamp resolves the first candidate key holding a parseable
// timestamp. RFC3339 strings are preferred; numeric values are read as unix
// milliseconds when they are too large to be plausible seconds.
func firstTimestamp(raw map[string]any, keys []string) time.Time {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC()
			}
		case float64:
			const millisThreshold = 1e12
			if v > millisThreshold {
				return time.UnixMilli(int64(v)).UTC()
			}
			if v > 0 {
				return time.Unix(int64(v), 0).UTC()
			}
		}
	}
	return time.Time{}
}
