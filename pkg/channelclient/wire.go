package channelclient

import "encoding/json"

// The backend multiplexes every topic over one socket using small JSON
// envelopes. Client requests carry a ref so the matching acknowledgment can be
// correlated; pushed events carry the topic they belong to.

const (
	opJoin      = "join"
	opLeave     = "leave"
	opHeartbeat = "heartbeat"

	opAck   = "ack"
	opError = "error"
	opEvent = "event"
)

// clientFrame is a client-to-backend request envelope.
type clientFrame struct {
	Ref   string `json:"ref"`
	Op    string `json:"op"`
	Topic string `json:"topic,omitempty"`
}

// serverFrame is a backend-to-client envelope: either a ref-correlated
// acknowledgment (ack/error) or a topic-addressed event push.
type serverFrame struct {
	Ref     string          `json:"ref,omitempty"`
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
