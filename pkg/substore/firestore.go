package substore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore-backed store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore persists subscription records in a Firestore collection, one
// document per topic. Suited to low-volume deployments; use the Redis store
// where subscription churn is high.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore. The injected client's lifecycle
// is managed by the caller.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSubStore").Logger(),
	}, nil
}

// Save writes the record as the document keyed by its topic.
func (s *FirestoreStore) Save(ctx context.Context, rec Record) error {
	_, err := s.client.Collection(s.collectionName).Doc(rec.Topic).Set(ctx, rec)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", rec.Topic).Msg("Failed to write record to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", rec.Topic, err)
	}
	s.logger.Debug().Str("topic", rec.Topic).Msg("Subscription record stored in Firestore.")
	return nil
}

// Fetch retrieves the record for a topic.
func (s *FirestoreStore) Fetch(ctx context.Context, topic string) (Record, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(topic).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, ErrRecordNotFound
		}
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to get record from Firestore.")
		return Record{}, fmt.Errorf("firestore get for %s: %w", topic, err)
	}

	var rec Record
	if err := docSnap.DataTo(&rec); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to map Firestore document data.")
		return Record{}, fmt.Errorf("firestore DataTo for %s: %w", topic, err)
	}
	return rec, nil
}

// Delete removes the record for a topic. Firestore deletes are idempotent, so
// an absent document is not an error.
func (s *FirestoreStore) Delete(ctx context.Context, topic string) error {
	_, err := s.client.Collection(s.collectionName).Doc(topic).Delete(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to delete record from Firestore.")
		return fmt.Errorf("firestore delete for %s: %w", topic, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}
