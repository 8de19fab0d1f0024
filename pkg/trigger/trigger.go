// Package trigger supervises the connector: it assembles the selected
// transports, the routing pipeline and the subscription store into one
// start/stop unit and surfaces terminal transport failure to the caller.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-agentflow/pkg/attachments"
	"github.com/illmade-knight/go-agentflow/pkg/channelclient"
	"github.com/illmade-knight/go-agentflow/pkg/routing"
	"github.com/illmade-knight/go-agentflow/pkg/substore"
	"github.com/illmade-knight/go-agentflow/pkg/webhook"
	"github.com/rs/zerolog"
)

// Mode selects which transports the trigger runs.
type Mode string

const (
	// ModeChannel runs only the persistent channel transport.
	ModeChannel Mode = "channel"
	// ModeWebhook runs only the stateless webhook receiver.
	ModeWebhook Mode = "webhook"
	// ModeAuto runs both transports concurrently. Each inbound message is an
	// independent unit of work, so the two paths share no mutable state.
	ModeAuto Mode = "auto"
)

// Config assembles everything one Trigger needs.
type Config struct {
	Mode Mode

	// Channel configures the channel consumer; used for ModeChannel and
	// ModeAuto.
	Channel channelclient.ConsumerConfig

	// Webhook configures the inbound webhook server; used for ModeWebhook and
	// ModeAuto.
	Webhook webhook.ServerConfig

	// Policy is applied to every message on every transport.
	Policy routing.FilterPolicy

	// Attachments configures dispatch-time attachment fetching. Nil disables
	// enrichment; messages are forwarded with file metadata only.
	Attachments *attachments.FetcherConfig
}

// Trigger is the top-level supervisor. One Trigger owns at most one channel
// consumer, one routing service and one webhook server, chosen by Mode.
type Trigger struct {
	cfg      Config
	store    substore.Store
	consumer *channelclient.Consumer
	routing  *routing.RoutingService
	server   *webhook.Server
	logger   zerolog.Logger

	doneChan chan struct{}
	doneOnce sync.Once

	mu          sync.Mutex
	terminalErr error
}

// NewTrigger builds a Trigger from configuration. The store persists
// subscription records across restarts; pass an InMemoryStore when durability
// is not needed. The emitter receives every admitted message.
func NewTrigger(cfg Config, store substore.Store, emitter routing.Emitter, logger zerolog.Logger) (*Trigger, error) {
	if emitter == nil {
		return nil, fmt.Errorf("emitter cannot be nil")
	}
	if store == nil {
		store = substore.NewInMemoryStore()
	}

	var enricher routing.Enricher
	if cfg.Attachments != nil {
		fetcher := attachments.NewFetcher(*cfg.Attachments, logger)
		var err error
		enricher, err = attachments.NewEnricherFunc(fetcher, logger)
		if err != nil {
			return nil, err
		}
	}

	t := &Trigger{
		cfg:      cfg,
		store:    store,
		logger:   logger.With().Str("component", "Trigger").Logger(),
		doneChan: make(chan struct{}),
	}

	switch cfg.Mode {
	case ModeChannel, ModeAuto, ModeWebhook:
	default:
		return nil, fmt.Errorf("unknown trigger mode %q", cfg.Mode)
	}

	if cfg.Mode == ModeChannel || cfg.Mode == ModeAuto {
		consumer, err := channelclient.NewConsumer(cfg.Channel, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build channel consumer: %w", err)
		}
		service, err := routing.NewRoutingService(routing.RoutingServiceConfig{}, consumer, cfg.Policy, enricher, emitter, logger)
		if err != nil {
			return nil, err
		}
		t.consumer = consumer
		t.routing = service
	}

	if cfg.Mode == ModeWebhook || cfg.Mode == ModeAuto {
		server, err := webhook.NewServer(cfg.Webhook, cfg.Policy, enricher, emitter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build webhook server: %w", err)
		}
		t.server = server
	}

	return t, nil
}

// Start brings up the configured transports. For the channel path it also
// records one subscription Record per resolved topic and begins watching for
// terminal connection failure.
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.Info().Str("mode", string(t.cfg.Mode)).Msg("Starting trigger...")

	if t.routing != nil {
		if err := t.routing.Start(ctx); err != nil {
			return fmt.Errorf("failed to start channel pipeline: %w", err)
		}
		t.recordSubscriptions(ctx)

		go func() {
			<-t.consumer.Done()
			if err := t.consumer.Err(); err != nil {
				t.logger.Error().Err(err).Msg("Channel transport failed terminally.")
				t.mu.Lock()
				t.terminalErr = err
				t.mu.Unlock()
			}
			t.doneOnce.Do(func() { close(t.doneChan) })
		}()
	}

	if t.server != nil {
		if err := t.server.Start(); err != nil {
			return fmt.Errorf("failed to start webhook server: %w", err)
		}
		t.logger.Info().Str("port", t.server.GetHTTPPort()).Msg("Webhook receiver listening.")
	}

	t.logger.Info().Msg("Trigger started.")
	return nil
}

// recordSubscriptions persists one Record per subscribed topic. Persistence
// failure is logged, not fatal: the live subscription is already established.
func (t *Trigger) recordSubscriptions(ctx context.Context) {
	for _, topic := range t.consumer.Topics() {
		rec := substore.Record{
			ID:        uuid.NewString(),
			Topic:     topic,
			CreatedAt: time.Now().UTC(),
		}
		if err := t.store.Save(ctx, rec); err != nil {
			t.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to persist subscription record.")
		}
	}
}

// Stop tears the trigger down: the routing pipeline and webhook server first,
// then the persisted subscription records. Record deletion is idempotent and
// tolerates records that were never written or were already removed.
func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.Info().Msg("Stopping trigger...")

	var errs []error
	if t.routing != nil {
		if err := t.routing.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("channel pipeline stop: %w", err))
		}
		for _, topic := range t.consumer.Topics() {
			if err := t.store.Delete(ctx, topic); err != nil {
				t.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to delete subscription record.")
			}
		}
	}

	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook server shutdown: %w", err))
		}
	}

	t.doneOnce.Do(func() { close(t.doneChan) })

	if len(errs) > 0 {
		return errs[0]
	}
	t.logger.Info().Msg("Trigger stopped.")
	return nil
}

// WebhookPort returns the bound webhook listen port (":NNN"), or the empty
// string when no webhook transport is configured.
func (t *Trigger) WebhookPort() string {
	if t.server == nil {
		return ""
	}
	return t.server.GetHTTPPort()
}

// Done returns a channel closed when the trigger has stopped, whether from a
// clean Stop or a terminal transport failure.
func (t *Trigger) Done() <-chan struct{} {
	return t.doneChan
}

// Err reports the terminal transport failure, if any, once Done has closed.
// A clean shutdown yields nil.
func (t *Trigger) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminalErr
}
