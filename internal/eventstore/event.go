// internal/eventstore/event.go
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one immutable entry in an aggregate's history.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregateId" db:"aggregate_id"`
	AggregateType string          `json:"aggregateType" db:"aggregate_type"`
	EventType     string          `json:"eventType" db:"event_type"`
	EventData     json.RawMessage `json:"eventData" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// NewEvent encodes payload as the event data.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// Decode unmarshals the event data into dst.
func (e Event) Decode(dst any) error {
	return codec.Unmarshal(e.EventData, dst)
}

// Store appends and loads aggregate histories with optimistic concurrency.
type Store interface {
	// AppendEvents appends events after expectedVersion; a mismatch yields ErrConcurrencyConflict.
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error
	// LoadEvents returns the aggregate's events in version order.
	LoadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error)
}
