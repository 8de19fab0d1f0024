package attachments

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-agentflow/pkg/agentmessage"
	"github.com/illmade-knight/go-agentflow/pkg/routing"
	"github.com/rs/zerolog"
)

// NewEnricherFunc is a factory that creates the routing.Enricher used at
// dispatch time. Messages without a file URL pass through untouched. A failed
// fetch is reported as an error; the routing pipeline logs it and forwards
// the message without its attachment, so one bad file never blocks delivery.
func NewEnricherFunc(fetcher *Fetcher, logger zerolog.Logger) (routing.Enricher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}

	enrichLogger := logger.With().Str("component", "AttachmentEnricher").Logger()

	return func(ctx context.Context, msg *agentmessage.CanonicalMessage) (*agentmessage.Attachment, error) {
		if !msg.HasAttachment() {
			return nil, nil
		}

		att, err := fetcher.Fetch(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch attachment for message %s: %w", msg.ID, err)
		}

		enrichLogger.Debug().Str("msg_id", msg.ID).Str("name", att.Name).Msg("Message enriched with attachment.")
		return att, nil
	}, nil
}
