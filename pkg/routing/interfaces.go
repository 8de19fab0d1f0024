package routing

import (
	"context"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
)

// ====================================================================================
// This file defines the contracts for the event-routing pipeline: consuming raw
// transport events, enriching normalized messages, and emitting admitted
// messages to the downstream collaborator.
// ====================================================================================

// RawEvent is one inbound wire payload before normalization, tagged with the
// topic and transport it arrived on.
type RawEvent struct {
	// Payload is the raw byte content of the event.
	Payload []byte

	// Topic is the channel topic the event was delivered on. Empty for
	// webhook-originated events.
	Topic string

	// Transport records which transport produced the event.
	Transport agentmessage.Transport
}

// EventConsumer defines the interface for a transport-level event source.
// It is responsible for receiving raw events and handing them off to the
// routing pipeline.
type EventConsumer interface {
	// Events returns a read-only channel from which the pipeline receives raw events.
	Events() <-chan RawEvent
	// Start begins event delivery (e.g., by subscribing to the resolved topics).
	Start(ctx context.Context) error
	// Stop gracefully ceases event delivery and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// Emitter is the emission collaborator boundary. It accepts one canonical
// message, plus an optional binary attachment, per call. The core does not
// retry emission failures.
type Emitter interface {
	Emit(ctx context.Context, msg agentmessage.CanonicalMessage, att *agentmessage.Attachment) error
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(ctx context.Context, msg agentmessage.CanonicalMessage, att *agentmessage.Attachment) error

func (f EmitterFunc) Emit(ctx context.Context, msg agentmessage.CanonicalMessage, att *agentmessage.Attachment) error {
	return f(ctx, msg, att)
}

// Enricher optionally resolves a binary attachment for a message before
// dispatch. Returning (nil, nil) forwards the message without an attachment.
// An error is treated the same way: logged by the pipeline and swallowed, so
// a failed fetch never blocks delivery of the message itself.
type Enricher func(ctx context.Context, msg *agentmessage.CanonicalMessage) (*agentmessage.Attachment, error)
