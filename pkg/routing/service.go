package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/rs/zerolog"
)

// RoutingService orchestrates the per-message pipeline: it consumes raw
// transport events, normalizes them, optionally resolves attachments, applies
// the filter policy, and emits admitted messages in arrival order.
//
// Messages on a single subscribed topic reach the emitter in backend-delivery
// order; raising NumWorkers above 1 trades that ordering guarantee for
// throughput, so the channel path keeps the default of a single worker.
type RoutingService struct {
	numWorkers int
	consumer   EventConsumer
	policy     FilterPolicy
	enricher   Enricher
	emitter    Emitter
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// RoutingServiceConfig holds configuration for a RoutingService.
type RoutingServiceConfig struct {
	// NumWorkers is the number of concurrent pipeline workers. Defaults to 1,
	// which preserves arrival order end to end.
	NumWorkers int
}

// NewRoutingService creates a new RoutingService. The enricher may be nil,
// in which case messages are forwarded without attachment resolution.
func NewRoutingService(
	cfg RoutingServiceConfig,
	consumer EventConsumer,
	policy FilterPolicy,
	enricher Enricher,
	emitter Emitter,
	logger zerolog.Logger,
) (*RoutingService, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter cannot be nil")
	}

	return &RoutingService{
		numWorkers: cfg.NumWorkers,
		consumer:   consumer,
		policy:     policy,
		enricher:   enricher,
		emitter:    emitter,
		logger:     logger.With().Str("service", "RoutingService").Logger(),
	}, nil
}

// Start begins the service operation: it starts the consumer and spawns the
// pipeline workers.
func (s *RoutingService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting routing service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting routing workers...")
	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Msg("Routing service started successfully.")
	return nil
}

// Stop gracefully shuts down the service: the consumer first, so no new
// events arrive, then waits for in-flight messages to drain.
func (s *RoutingService) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping routing service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Info().Msg("All routing workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for routing workers to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Routing service stopped.")
	return nil
}

// worker is the main processing loop for each pipeline worker.
func (s *RoutingService) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Routing worker shutting down due to context cancellation.")
			return
		case event, ok := <-s.consumer.Events():
			if !ok {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.routeEvent(ctx, event)
		}
	}
}

// routeEvent runs one event through normalize -> enrich -> filter -> emit.
// Any error handling one event must not abort processing of subsequent
// events, so failures are logged and the worker keeps going.
func (s *RoutingService) routeEvent(ctx context.Context, event RawEvent) {
	msg := agentmessage.Normalize(event.Payload, event.Transport)
	log := s.logger.With().Str("msg_id", msg.ID).Str("topic", event.Topic).Logger()

	if !s.policy.Admit(msg) {
		log.Debug().Str("event_type", string(msg.EventType)).Msg("Message dropped by filter policy.")
		return
	}

	var att *agentmessage.Attachment
	if s.enricher != nil && msg.HasAttachment() {
		var err error
		att, err = s.enricher(ctx, &msg)
		if err != nil {
			// The message is still forwarded, just without the attachment payload.
			log.Warn().Err(err).Str("file_url", msg.FileURL).Msg("Attachment fetch failed, forwarding message without attachment.")
			att = nil
		}
	}

	if err := s.emitter.Emit(ctx, msg, att); err != nil {
		log.Error().Err(err).Msg("Emission failed; message is not retried.")
		return
	}
	log.Debug().Msg("Message emitted.")
}
