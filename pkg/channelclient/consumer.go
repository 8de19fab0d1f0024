package channelclient

import (
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/routing"
	"github.com/rs/zerolog"
)

// ConsumerConfig holds the configuration for a channel-backed event consumer:
// the connection parameters plus the subscription request that is resolved
// into concrete topics.
type ConsumerConfig struct {
	Connection ConnectionConfig

	// Mode, Pattern, Topics and AgentIDs describe the subscription request;
	// see ResolveTopics for the per-mode requirements.
	Mode     SubscribeMode
	Pattern  string
	Topics   []string
	AgentIDs []string

	// BufferSize is the capacity of the outbound event channel.
	BufferSize int
}

// Consumer implements the routing.EventConsumer interface over one channel
// connection. It subscribes to the resolved topic set on Start, forwards
// inbound events in delivery order, and resubscribes after every reconnect.
type Consumer struct {
	conn       *Connection
	topics     []string
	outputChan chan routing.RawEvent
	doneChan   chan struct{}
	stopOnce   sync.Once
	logger     zerolog.Logger
}

// NewConsumer creates a new Consumer. The subscription request is resolved
// eagerly so an invalid configuration fails at construction, not at Start.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	topics, err := ResolveTopics(cfg.Mode, cfg.Pattern, cfg.Topics, cfg.AgentIDs)
	if err != nil {
		return nil, err
	}

	conn, err := NewConnection(cfg.Connection, logger)
	if err != nil {
		return nil, err
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	return &Consumer{
		conn:       conn,
		topics:     topics,
		outputChan: make(chan routing.RawEvent, cfg.BufferSize),
		doneChan:   make(chan struct{}),
		logger:     logger.With().Str("component", "ChannelConsumer").Logger(),
	}, nil
}

// Connection exposes the underlying channel connection, primarily so a
// supervisor can observe its state and terminal error.
func (c *Consumer) Connection() *Connection {
	return c.conn
}

// Topics returns the resolved topic set this consumer subscribes to.
func (c *Consumer) Topics() []string {
	out := make([]string, len(c.topics))
	copy(out, c.topics)
	return out
}

// Events returns the read-only channel of inbound raw events.
func (c *Consumer) Events() <-chan routing.RawEvent {
	return c.outputChan
}

// Start connects, subscribes to every resolved topic and begins forwarding
// events. When the initial handshake fails but auto-reconnect is enabled the
// consumer keeps retrying in the background and subscribes once connected.
func (c *Consumer) Start(ctx context.Context) error {
	c.conn.SetReconnectHandler(func() {
		c.logger.Info().Msg("Reconnected, resubscribing to topics.")
		c.subscribeAll(context.Background())
	})

	// The terminal state watcher also owns closing the output channel, so the
	// routing pipeline observes shutdown as an ordinary end of stream.
	go func() {
		<-c.conn.Done()
		c.stopOnce.Do(func() {
			close(c.doneChan)
			close(c.outputChan)
		})
	}()

	if err := c.conn.Connect(ctx); err != nil {
		if c.conn.State() == StateReconnecting {
			c.logger.Warn().Err(err).Msg("Initial connect failed; reconnecting in the background.")
			return nil
		}
		return err
	}

	if err := c.subscribeAll(ctx); err != nil {
		return err
	}
	return nil
}

// subscribeAll joins every resolved topic. A rejection is fatal to that topic
// only; Start fails only when no topic could be subscribed at all.
func (c *Consumer) subscribeAll(ctx context.Context) error {
	var errs []error
	for _, topic := range c.topics {
		topic := topic
		err := c.conn.Subscribe(ctx, topic, func(topic string, payload []byte) {
			event := routing.RawEvent{
				Payload:   payload,
				Topic:     topic,
				Transport: agentmessage.TransportChannel,
			}
			select {
			case c.outputChan <- event:
			case <-c.doneChan:
				c.logger.Warn().Str("topic", topic).Msg("Consumer is shutting down, dropping channel event.")
			}
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateSubscription) {
				// Already joined, e.g. a resubscribe racing a live subscription.
				continue
			}
			c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to topic.")
			errs = append(errs, err)
		}
	}
	if len(errs) == len(c.topics) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Stop gracefully disconnects and closes the event stream.
func (c *Consumer) Stop(ctx context.Context) error {
	if err := c.conn.Disconnect(ctx); err != nil {
		return err
	}
	select {
	case <-c.doneChan:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info().Msg("Channel consumer stopped.")
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped,
// whether from a clean Stop or a terminal connection failure.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// Err surfaces the connection's terminal error after Done closes. A clean
// shutdown yields nil; exhausted reconnect attempts yield the final failure.
func (c *Consumer) Err() error {
	return c.conn.Err()
}
