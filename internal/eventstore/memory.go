// internal/eventstore/memory.go
package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps events in process. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[uuid.UUID][]Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID][]Event), now: time.Now}
}

func (m *MemoryStore) AppendEvents(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.events[aggregateID]
	if len(history) != expectedVersion {
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		m.nextID++
		event.ID = m.nextID
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		event.CreatedAt = m.now().UTC()
		history = append(history, event)
	}
	m.events[aggregateID] = history

	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID uuid.UUID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.events[aggregateID]
	out := make([]Event, len(history))
	copy(out, history)
	return out, nil
}
