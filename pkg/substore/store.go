// Package substore persists subscription records so a restarted connector can
// rebuild its channel subscriptions without re-deriving them from scratch.
package substore

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by Fetch when no record exists for the topic.
var ErrRecordNotFound = errors.New("subscription record not found")

// Record describes one durable subscription.
type Record struct {
	// ID is the stable identity of the subscription.
	ID string `json:"id" firestore:"id"`
	// Topic is the channel topic the subscription covers.
	Topic string `json:"topic" firestore:"topic"`
	// CreatedAt records when the subscription was first established.
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
}

// Store is the persistence boundary for subscription records. Delete is
// idempotent: removing a record that does not exist is not an error.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Fetch(ctx context.Context, topic string) (Record, error)
	Delete(ctx context.Context, topic string) error
	Close() error
}
