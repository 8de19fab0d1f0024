package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/rs/zerolog"
)

// PubsubEmitterConfig holds configuration for the Google Pub/Sub emitter.
type PubsubEmitterConfig struct {
	ProjectID string
	TopicID   string
	// TopicExistsTimeout bounds the topic-existence check at construction.
	TopicExistsTimeout time.Duration
	// PublishConfirmationTimeout bounds the wait for each publish result.
	PublishConfirmationTimeout time.Duration
}

// NewPubsubEmitterDefaults provides a config with sensible defaults.
func NewPubsubEmitterDefaults() *PubsubEmitterConfig {
	return &PubsubEmitterConfig{
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// PubsubEmitter implements Emitter by publishing admitted canonical messages
// to a Google Cloud Pub/Sub topic. Each message is published individually and
// confirmed before Emit returns; the dispatch path does no batching, so the
// client's batch thresholds are pinned to one message.
type PubsubEmitter struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	publishConfirmationTimeout time.Duration
}

// NewPubsubEmitter creates a new PubsubEmitter. It validates the topic's
// existence before returning a functional emitter.
func NewPubsubEmitter(
	ctx context.Context,
	cfg *PubsubEmitterConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*PubsubEmitter, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for emitter")
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.DelayThreshold = 0

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("PubsubEmitter initialized successfully.")
	return &PubsubEmitter{
		topic:                      topic,
		logger:                     logger.With().Str("component", "PubsubEmitter").Str("topic_id", cfg.TopicID).Logger(),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Emit publishes one canonical message and waits for the publish result.
// An attachment, when present, is described by message attributes; the binary
// content itself stays out of the Pub/Sub payload and downstream consumers
// follow the message's file reference instead.
func (p *PubsubEmitter) Emit(ctx context.Context, msg agentmessage.CanonicalMessage, att *agentmessage.Attachment) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal canonical message %s: %w", msg.ID, err)
	}

	attrs := map[string]string{
		"event_type": string(msg.EventType),
		"transport":  string(msg.Transport),
	}
	if msg.ConversationID != "" {
		attrs["conversation_id"] = msg.ConversationID
	}
	if att != nil {
		attrs["attachment_name"] = att.Name
		attrs["attachment_mime_type"] = att.MIMEType
		attrs["attachment_size"] = fmt.Sprintf("%d", len(att.Data))
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attrs,
	})

	getCtx, cancel := context.WithTimeout(ctx, p.publishConfirmationTimeout)
	defer cancel()
	msgID, err := res.Get(getCtx)
	if err != nil {
		return fmt.Errorf("failed to get publish result for %s: %w", msg.ID, err)
	}

	p.logger.Debug().Str("msg_id", msg.ID).Str("pubsub_msg_id", msgID).Msg("Message published successfully.")
	return nil
}

// Stop flushes any buffered messages and stops the topic client, respecting
// the provided context's timeout.
func (p *PubsubEmitter) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Flushing remaining messages and stopping Pub/Sub topic...")
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub topic stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
