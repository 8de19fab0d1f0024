package channelclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// testBackend is a scriptable agent-messaging backend speaking the channel
// wire protocol: ref-correlated join/leave/heartbeat acknowledgments plus
// topic-addressed event pushes.
type testBackend struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        []*backendConn
	rejectTopics map[string]string

	refuseUpgrades   atomic.Bool
	ignoreJoins      atomic.Bool
	ignoreLeaves     atomic.Bool
	ignoreHeartbeats atomic.Bool
	dialCount        atomic.Int32
}

type backendConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type wireClientFrame struct {
	Ref   string `json:"ref"`
	Op    string `json:"op"`
	Topic string `json:"topic,omitempty"`
}

type wireServerFrame struct {
	Ref     string          `json:"ref,omitempty"`
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newTestBackend(t *testing.T) *testBackend {
	b := &testBackend{
		t:            t,
		rejectTopics: make(map[string]string),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(func() {
		b.closeAll()
		b.server.Close()
	})
	return b
}

// URL returns the ws:// endpoint of the backend.
func (b *testBackend) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// RejectTopic makes future joins for the topic fail with the given reason.
func (b *testBackend) RejectTopic(topic, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectTopics[topic] = reason
}

// Push delivers an event payload on a topic to every live connection.
func (b *testBackend) Push(topic string, payload string) {
	b.mu.Lock()
	conns := make([]*backendConn, len(b.conns))
	copy(conns, b.conns)
	b.mu.Unlock()

	frame := wireServerFrame{Op: "event", Topic: topic, Payload: json.RawMessage(payload)}
	for _, bc := range conns {
		bc.write(frame)
	}
}

// closeAll force-closes every live connection, simulating an unexpected close.
func (b *testBackend) closeAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, bc := range conns {
		_ = bc.conn.Close()
	}
}

func (b *testBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.dialCount.Add(1)
	if b.refuseUpgrades.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	bc := &backendConn{conn: conn}
	b.mu.Lock()
	b.conns = append(b.conns, bc)
	b.mu.Unlock()

	for {
		var frame wireClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Op {
		case "join":
			if b.ignoreJoins.Load() {
				continue
			}
			b.mu.Lock()
			reason, rejected := b.rejectTopics[frame.Topic]
			b.mu.Unlock()
			if rejected {
				bc.write(wireServerFrame{Ref: frame.Ref, Op: "error", Topic: frame.Topic, Reason: reason})
			} else {
				bc.write(wireServerFrame{Ref: frame.Ref, Op: "ack", Topic: frame.Topic})
			}
		case "leave":
			if b.ignoreLeaves.Load() {
				continue
			}
			bc.write(wireServerFrame{Ref: frame.Ref, Op: "ack", Topic: frame.Topic})
		case "heartbeat":
			if b.ignoreHeartbeats.Load() {
				continue
			}
			bc.write(wireServerFrame{Ref: frame.Ref, Op: "ack"})
		}
	}
}

func (bc *backendConn) write(frame wireServerFrame) {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	_ = bc.conn.WriteJSON(frame)
}
