package eventstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/store/postgres"
	"librarycatalog/internal/testutil/pgtest"
)

type testEvent struct {
	Message string `json:"message"`
}

const aggregateType = "test_aggregate"

// eachStore runs fn against the in-memory store and, when a database is reachable,
// against the Postgres store with both drivers.
func eachStore(t *testing.T, fn func(t *testing.T, store eventstore.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, eventstore.NewMemoryStore())
	})
	for _, driver := range []string{postgres.DriverPQ, postgres.DriverPGX} {
		t.Run(driver, func(t *testing.T) {
			fn(t, eventstore.NewPostgresStore(pgtest.Open(t, driver)))
		})
	}
}

func newEvent(t testing.TB, msg string) eventstore.Event {
	t.Helper()
	e, err := eventstore.NewEvent("TestEvent", testEvent{Message: msg})
	require.NoError(t, err)
	return e
}

func Test_AppendAndLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, store eventstore.Store) {
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, store.AppendEvents(ctx, id, aggregateType, 0, newEvent(t, "first"), newEvent(t, "second")))
		require.NoError(t, store.AppendEvents(ctx, id, aggregateType, 2, newEvent(t, "third")))

		events, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 3)

		for i, e := range events {
			assert.Equal(t, i+1, e.Version)
			assert.Equal(t, id, e.AggregateID)
			assert.Equal(t, aggregateType, e.AggregateType)
		}

		var payload testEvent
		require.NoError(t, events[2].Decode(&payload))
		assert.Equal(t, "third", payload.Message)
	})
}

func Test_AppendEvents_VersionMismatch(t *testing.T) {
	eachStore(t, func(t *testing.T, store eventstore.Store) {
		ctx := context.Background()
		id := uuid.New()
		require.NoError(t, store.AppendEvents(ctx, id, aggregateType, 0, newEvent(t, "first")))

		err := store.AppendEvents(ctx, id, aggregateType, 0, newEvent(t, "stale"))
		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

		err = store.AppendEvents(ctx, id, aggregateType, -1, newEvent(t, "negative"))
		assert.ErrorIs(t, err, eventstore.ErrInvalidVersion)

		events, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func Test_AppendEvents_ConcurrentWritersOneWins(t *testing.T) {
	eachStore(t, func(t *testing.T, store eventstore.Store) {
		ctx := context.Background()
		id := uuid.New()
		const writers = 8

		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results <- store.AppendEvents(ctx, id, aggregateType, 0, newEvent(t, fmt.Sprintf("writer %d", i)))
			}(i)
		}
		wg.Wait()
		close(results)

		var ok int
		for err := range results {
			if err == nil {
				ok++
			}
		}
		assert.Equal(t, 1, ok)

		events, err := store.LoadEvents(ctx, id)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func Test_LoadEvents_UnknownAggregate(t *testing.T) {
	eachStore(t, func(t *testing.T, store eventstore.Store) {
		events, err := store.LoadEvents(context.Background(), uuid.New())

		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func BenchmarkAppendEvents(b *testing.B) {
	store := eventstore.NewPostgresStore(pgtest.Open(b, postgres.DriverPQ))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		event := newEvent(b, fmt.Sprintf("event %d", i))
		b.StartTimer()

		if err := store.AppendEvents(ctx, uuid.New(), aggregateType, 0, event); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	store := eventstore.NewPostgresStore(pgtest.Open(b, postgres.DriverPQ))
	ctx := context.Background()

	id := uuid.New()
	for i := 0; i < 10; i++ {
		if err := store.AppendEvents(ctx, id, aggregateType, i, newEvent(b, fmt.Sprintf("event %d", i))); err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := store.LoadEvents(ctx, id); err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
