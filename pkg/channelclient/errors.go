package channelclient

import "errors"

// Sentinel errors for the connection and subscription surface. Callers are
// expected to test with errors.Is; the wrapped form carries the detail.
var (
	// ErrInvalidConfiguration indicates a subscription mode was selected
	// without its required inputs. Fatal to that call only, not to the
	// connection.
	ErrInvalidConfiguration = errors.New("invalid subscription configuration")

	// ErrNotConnected indicates an operation that requires a Connected state
	// was attempted while the connection was elsewhere in its lifecycle.
	ErrNotConnected = errors.New("connection is not established")

	// ErrDuplicateSubscription indicates the topic already holds an active
	// subscription on this connection.
	ErrDuplicateSubscription = errors.New("topic already subscribed")

	// ErrSubscriptionRejected indicates the backend negatively acknowledged a
	// join; the wrapped error carries the backend-supplied reason.
	ErrSubscriptionRejected = errors.New("subscription rejected by backend")

	// ErrConnectionFailed indicates a transport-level handshake failure. It
	// drives the reconnect state machine when auto-reconnect is enabled.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTimeout indicates a connect or subscribe call exceeded its bound.
	ErrTimeout = errors.New("operation timed out")
)
