package channelclient

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds all necessary configuration for the channel
// connection. It defines the endpoint, auth parameters and the timing of the
// heartbeat and reconnect machinery. The config is immutable once a
// Connection is constructed, so it is safe to read concurrently.
type ConnectionConfig struct {
	// Endpoint is the WebSocket URL of the agent-messaging backend.
	// Example: "wss://agents.example.com/socket"
	Endpoint string
	// AuthToken is passed as a bearer token during the handshake.
	AuthToken string
	// ConnectTimeout bounds the initial handshake and every subscribe call.
	ConnectTimeout time.Duration
	// HeartbeatInterval is the interval at which liveness pings are sent while
	// connected. Two consecutive unacknowledged intervals are treated as an
	// unexpected close.
	HeartbeatInterval time.Duration
	// ReconnectBaseDelay is the base for the linear backoff: the delay before
	// reconnect attempt n is ReconnectBaseDelay * n.
	ReconnectBaseDelay time.Duration
	// MaxReconnectAttempts caps the reconnect counter. Once an attempt would
	// exceed it, the connection becomes terminally disconnected.
	MaxReconnectAttempts uint
	// AutoReconnect enables the reconnect state machine. When false, any
	// connection failure is terminal.
	AutoReconnect bool
}

// Env constants for channel connection settings.
const (
	EnvConnectTimeoutSeconds    = "AGENTFLOW_CONNECT_TIMEOUT_SECONDS"
	EnvHeartbeatIntervalSeconds = "AGENTFLOW_HEARTBEAT_INTERVAL_SECONDS"
	EnvReconnectBaseDelayMillis = "AGENTFLOW_RECONNECT_BASE_DELAY_MS"
	EnvMaxReconnectAttempts     = "AGENTFLOW_MAX_RECONNECT_ATTEMPTS"
)

// LoadConnectionConfigWithEnv loads operational configuration from environment
// variables, populating timeouts and intervals with sensible defaults when the
// variables are unset or invalid.
// Note: Endpoint and AuthToken come from the credential provider and must be
// set programmatically.
func LoadConnectionConfigWithEnv() *ConnectionConfig {
	cfg := &ConnectionConfig{
		ConnectTimeout:       10 * time.Second, // Default
		HeartbeatInterval:    30 * time.Second, // Default
		ReconnectBaseDelay:   1 * time.Second,  // Default
		MaxReconnectAttempts: 5,                // Default
		AutoReconnect:        true,
	}

	if ct := os.Getenv(EnvConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("channelclient: error parsing connect timeout seconds: %s, using default", err)
		}
	}
	if hb := os.Getenv(EnvHeartbeatIntervalSeconds); hb != "" {
		s, err := time.ParseDuration(hb + "s")
		if err == nil {
			cfg.HeartbeatInterval = s
		} else {
			log.Printf("channelclient: error parsing heartbeat interval seconds: %s, using default", err)
		}
	}
	if bd := os.Getenv(EnvReconnectBaseDelayMillis); bd != "" {
		s, err := time.ParseDuration(bd + "ms")
		if err == nil {
			cfg.ReconnectBaseDelay = s
		} else {
			log.Printf("channelclient: error parsing reconnect base delay: %s, using default", err)
		}
	}
	if ma := os.Getenv(EnvMaxReconnectAttempts); ma != "" {
		if val, err := strconv.ParseUint(ma, 10, 32); err == nil {
			cfg.MaxReconnectAttempts = uint(val)
		} else {
			log.Printf("channelclient: error parsing max reconnect attempts: %s, using default", err)
		}
	}

	return cfg
}
