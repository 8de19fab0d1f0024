package channelclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnectionState is the lifecycle state of a channel connection. It is owned
// exclusively by the Connection; transitions are serialized under its mutex
// and are never observable mid-transition.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MessageHandler receives one inbound event payload for a subscribed topic.
// Handlers are invoked sequentially in backend-delivery order for the whole
// connection; a slow handler delays subsequent events.
type MessageHandler func(topic string, payload []byte)

// leaveTimeout bounds each best-effort leave notification during teardown so
// Disconnect completes deterministically even when acknowledgments never
// arrive.
const leaveTimeout = 2 * time.Second

// Connection owns one physical WebSocket connection to the agent-messaging
// backend, including handshake parameters, heartbeat and the
// reconnect-with-backoff state machine. It also owns the per-connection
// subscription registry: no other component may add or remove entries.
type Connection struct {
	cfg    ConnectionConfig
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu          sync.Mutex
	state       ConnectionState
	attempt     uint
	conn        *websocket.Conn
	subs        map[string]MessageHandler
	pending     map[string]chan serverFrame
	sessionStop chan struct{}
	intentional bool
	terminalErr error
	onReconnect func()

	// missedHeartbeats counts intervals without a backend acknowledgment for
	// the current session. Reset to zero on every ack.
	missedHeartbeats atomic.Int32

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// NewConnection creates a Connection. It does not dial until Connect is called.
func NewConnection(cfg ConnectionConfig, logger zerolog.Logger) (*Connection, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfiguration)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 1 * time.Second
	}
	return &Connection{
		cfg:     cfg,
		logger:  logger.With().Str("component", "Connection").Str("endpoint", cfg.Endpoint).Logger(),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		state:   StateDisconnected,
		subs:    make(map[string]MessageHandler),
		pending: make(map[string]chan serverFrame),
		done:    make(chan struct{}),
	}, nil
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempt returns the current reconnect attempt counter. It is zero
// while connected and increases monotonically per failure until the cap.
func (c *Connection) ReconnectAttempt() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Done returns a channel closed when the connection reaches its terminal
// Disconnected state, whether from a clean Disconnect call or from exhausting
// the reconnect attempts. Err distinguishes the two.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed: nil for a clean,
// caller-initiated disconnect, non-nil when the connection failed.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalErr
}

// SetReconnectHandler registers a callback invoked (on its own goroutine)
// after every successful reconnect. The registry is cleared on any unexpected
// close, so this is where callers resubscribe.
func (c *Connection) SetReconnectHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Connect opens the transport with the auth parameters from the config. On
// handshake success the connection transitions to Connected and the reconnect
// counter resets. On failure it returns ErrConnectionFailed or ErrTimeout
// and, when auto-reconnect is enabled, continues retrying in the background.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection has been closed", ErrConnectionFailed)
	}
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect called in state %s", ErrConnectionFailed, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.cfg.AutoReconnect {
			c.attempt = 1
			c.state = StateReconnecting
			c.mu.Unlock()
			c.logger.Warn().Err(err).Msg("Initial connect failed, entering reconnect.")
			go c.reconnectLoop()
		} else {
			c.state = StateDisconnected
			c.terminalErr = err
			c.mu.Unlock()
			c.signalDone()
		}
		return err
	}

	c.startSession(conn)
	c.logger.Info().Msg("Connected to agent-messaging backend.")
	return nil
}

// dial performs one handshake attempt bounded by ConnectTimeout.
func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.Endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: handshake with %s: %v", ErrTimeout, c.cfg.Endpoint, err)
		}
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnectionFailed, c.cfg.Endpoint, err)
	}
	return conn, nil
}

// startSession installs a freshly dialed socket and launches its read and
// heartbeat loops.
func (c *Connection) startSession(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	c.sessionStop = make(chan struct{})
	stop := c.sessionStop
	c.mu.Unlock()

	c.missedHeartbeats.Store(0)
	go c.readLoop(conn)
	go c.heartbeatLoop(conn, stop)
}

// readLoop receives frames for one session until the socket errors, then
// hands off to the close handler. Event delivery is sequential relative to
// backend order.
func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.handleClose(conn, err)
			return
		}

		switch frame.Op {
		case opAck, opError:
			c.resolvePending(frame)
		case opEvent:
			c.mu.Lock()
			handler := c.subs[frame.Topic]
			c.mu.Unlock()
			if handler != nil {
				handler(frame.Topic, frame.Payload)
			} else {
				c.logger.Debug().Str("topic", frame.Topic).Msg("Event for topic without subscription, dropping.")
			}
		default:
			c.logger.Debug().Str("op", frame.Op).Msg("Unknown frame op, ignoring.")
		}
	}
}

// heartbeatLoop sends a liveness ping every HeartbeatInterval. Two consecutive
// intervals without a backend acknowledgment close the socket, which the read
// loop then treats as an unexpected close.
func (c *Connection) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.missedHeartbeats.Load() >= 2 {
				c.logger.Warn().Msg("Heartbeat unacknowledged for two consecutive intervals, closing connection.")
				_ = conn.Close()
				return
			}

			c.missedHeartbeats.Add(1)
			ref := uuid.NewString()
			ackCh := c.registerPending(ref)
			if err := c.writeFrame(conn, clientFrame{Ref: ref, Op: opHeartbeat}); err != nil {
				c.unregisterPending(ref)
				_ = conn.Close()
				return
			}

			go func() {
				defer c.unregisterPending(ref)
				select {
				case frame, ok := <-ackCh:
					if ok && frame.Op == opAck {
						c.missedHeartbeats.Store(0)
					}
				case <-stop:
				}
			}()
		}
	}
}

// handleClose runs exactly once per session, on the read loop's exit. All
// subscriptions for the connection are invalidated together; callers
// resubscribe after reconnection completes.
func (c *Connection) handleClose(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale session racing with teardown; the current session owns the state.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.sessionStop)
	c.failPendingLocked()
	c.subs = make(map[string]MessageHandler)

	if c.intentional {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	if !c.cfg.AutoReconnect {
		c.state = StateDisconnected
		c.terminalErr = fmt.Errorf("%w: connection closed: %v", ErrConnectionFailed, cause)
		c.mu.Unlock()
		c.logger.Error().Err(cause).Msg("Connection closed and auto-reconnect is disabled.")
		c.signalDone()
		return
	}

	c.attempt = 1
	c.state = StateReconnecting
	c.mu.Unlock()
	c.logger.Warn().Err(cause).Msg("Unexpected close, entering reconnect.")
	go c.reconnectLoop()
}

// reconnectLoop retries the handshake with linear backoff: the delay before
// attempt n is ReconnectBaseDelay * n. The counter increases by one per
// failure; once it would exceed MaxReconnectAttempts the connection becomes
// terminally Disconnected.
func (c *Connection) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			return
		}
		attempt := c.attempt
		c.mu.Unlock()

		delay := c.cfg.ReconnectBaseDelay * time.Duration(attempt)
		c.logger.Info().Uint("attempt", attempt).Dur("delay", delay).Msg("Waiting before reconnect attempt.")

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		conn, err := c.dial(context.Background())
		if err == nil {
			c.startSession(conn)
			c.logger.Info().Uint("attempt", attempt).Msg("Reconnected to agent-messaging backend.")
			c.mu.Lock()
			handler := c.onReconnect
			c.mu.Unlock()
			if handler != nil {
				go handler()
			}
			return
		}

		c.mu.Lock()
		c.attempt++
		if c.attempt > c.cfg.MaxReconnectAttempts {
			c.state = StateDisconnected
			c.terminalErr = fmt.Errorf("%w: reconnect attempts exhausted after %d failures: %v",
				ErrConnectionFailed, c.cfg.MaxReconnectAttempts, err)
			c.mu.Unlock()
			c.logger.Error().Err(err).Uint("max_attempts", c.cfg.MaxReconnectAttempts).Msg("Reconnect attempts exhausted, connection is terminally disconnected.")
			c.signalDone()
			return
		}
		c.state = StateReconnecting
		c.mu.Unlock()
		c.logger.Warn().Err(err).Uint("attempt", c.ReconnectAttempt()).Msg("Reconnect attempt failed.")
	}
}

// Subscribe registers a callback for one resolved topic and sends the join
// request. It resolves only on a positive backend acknowledgment, bounded by
// ConnectTimeout. A topic may hold at most one active subscription per
// connection.
func (c *Connection) Subscribe(ctx context.Context, topic string, onMessage MessageHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfiguration)
	}
	if onMessage == nil {
		return fmt.Errorf("%w: message handler is required", ErrInvalidConfiguration)
	}

	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: subscribe requires a connected channel, state is %s", ErrNotConnected, state)
	}
	if _, exists := c.subs[topic]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, topic)
	}
	// Reserve the topic before the join round-trip so a concurrent subscribe
	// to the same topic fails fast as a duplicate.
	c.subs[topic] = onMessage
	conn := c.conn
	c.mu.Unlock()

	ref := uuid.NewString()
	ackCh := c.registerPending(ref)
	if err := c.writeFrame(conn, clientFrame{Ref: ref, Op: opJoin, Topic: topic}); err != nil {
		c.unregisterPending(ref)
		c.dropSubscription(topic)
		return fmt.Errorf("%w: sending join for %s: %v", ErrConnectionFailed, topic, err)
	}

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-ackCh:
		if !ok {
			// The session was torn down while the join was in flight; the
			// registry has already been cleared.
			return fmt.Errorf("%w: connection closed during join for %s", ErrNotConnected, topic)
		}
		if frame.Op == opAck {
			c.logger.Info().Str("topic", topic).Msg("Subscribed to topic.")
			return nil
		}
		c.unregisterPending(ref)
		c.dropSubscription(topic)
		return fmt.Errorf("%w: %s: %s", ErrSubscriptionRejected, topic, frame.Reason)
	case <-timer.C:
		c.unregisterPending(ref)
		c.dropSubscription(topic)
		return fmt.Errorf("%w: no join acknowledgment for %s within %s", ErrTimeout, topic, c.cfg.ConnectTimeout)
	case <-ctx.Done():
		c.unregisterPending(ref)
		c.dropSubscription(topic)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: join for %s: %v", ErrTimeout, topic, ctx.Err())
		}
		return ctx.Err()
	}
}

// Unsubscribe removes the topic's subscription and notifies the backend
// best-effort. Unsubscribing an unknown topic is a no-op, not an error.
func (c *Connection) Unsubscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	if _, ok := c.subs[topic]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, topic)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.sendLeave(conn, topic)
	}
	c.logger.Info().Str("topic", topic).Msg("Unsubscribed from topic.")
	return nil
}

// IsSubscribed reports whether the topic holds an active subscription.
func (c *Connection) IsSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Topics returns the currently subscribed topics.
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	return topics
}

// Disconnect tears down all subscriptions (leave notifications are
// best-effort, errors swallowed), closes the transport and transitions to
// Disconnected. It is idempotent and completes deterministically even when
// individual leave acknowledgments never arrive.
func (c *Connection) Disconnect(_ context.Context) error {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return nil
	}
	c.intentional = true
	conn := c.conn
	c.conn = nil
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subs = make(map[string]MessageHandler)
	c.state = StateDisconnected
	if c.sessionStop != nil {
		select {
		case <-c.sessionStop:
		default:
			close(c.sessionStop)
		}
	}
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		for _, topic := range topics {
			c.sendLeave(conn, topic)
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}

	c.logger.Info().Int("topics", len(topics)).Msg("Disconnected from agent-messaging backend.")
	c.signalDone()
	return nil
}

// sendLeave notifies the backend that a topic is being left, waiting at most
// leaveTimeout for the acknowledgment. Failures are swallowed.
func (c *Connection) sendLeave(conn *websocket.Conn, topic string) {
	ref := uuid.NewString()
	ackCh := c.registerPending(ref)
	defer c.unregisterPending(ref)

	if err := c.writeFrame(conn, clientFrame{Ref: ref, Op: opLeave, Topic: topic}); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to send leave notification.")
		return
	}

	timer := time.NewTimer(leaveTimeout)
	defer timer.Stop()
	select {
	case <-ackCh:
	case <-timer.C:
		c.logger.Warn().Str("topic", topic).Msg("No leave acknowledgment, continuing teardown.")
	}
}

// dropSubscription removes a topic reservation after a failed join.
func (c *Connection) dropSubscription(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
}

func (c *Connection) writeFrame(conn *websocket.Conn, frame clientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Connection) registerPending(ref string) chan serverFrame {
	ch := make(chan serverFrame, 1)
	c.mu.Lock()
	c.pending[ref] = ch
	c.mu.Unlock()
	return ch
}

func (c *Connection) unregisterPending(ref string) {
	c.mu.Lock()
	delete(c.pending, ref)
	c.mu.Unlock()
}

// resolvePending routes a ref-correlated acknowledgment to its waiter.
func (c *Connection) resolvePending(frame serverFrame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.Ref]
	if ok {
		delete(c.pending, frame.Ref)
	}
	c.mu.Unlock()
	if ok {
		ch <- frame
	}
}

// failPendingLocked closes every outstanding acknowledgment channel. Callers
// must hold c.mu.
func (c *Connection) failPendingLocked() {
	for ref, ch := range c.pending {
		close(ch)
		delete(c.pending, ref)
	}
}

func (c *Connection) signalDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}
