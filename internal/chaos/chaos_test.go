package chaos_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/chaos"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/membership"
	"librarycatalog/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func Test_Threshold_Holds(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, chaos.Threshold{Operator: tt.op, Value: 1}.Holds(tt.value))
		})
	}
}

func gauge(v *atomic.Int64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) {
		return float64(v.Load()), nil
	}
}

func Test_Run_AbortsOnInvalidSteadyState(t *testing.T) {
	var value atomic.Int64
	value.Store(5)
	injected := false

	result, err := chaos.NewEngine(discard).Run(context.Background(), chaos.Experiment{
		Name:        "broken-before-start",
		SteadyState: []chaos.Metric{{Name: "m", Query: gauge(&value), Threshold: chaos.Threshold{Operator: "<=", Value: 1}}},
		Method: []chaos.Action{{Execute: func(context.Context) error {
			injected = true
			return nil
		}}},
		Duration: time.Millisecond,
	})

	require.ErrorIs(t, err, chaos.ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.Len(t, result.Violations, 1)
	assert.False(t, injected)
}

func Test_Run_DetectsViolationAndRollsBack(t *testing.T) {
	var value atomic.Int64
	engine := chaos.NewEngine(discard)

	result, err := engine.Run(context.Background(), chaos.Experiment{
		Name:        "inject-bad-value",
		SteadyState: []chaos.Metric{{Name: "m", Query: gauge(&value), Threshold: chaos.Threshold{Operator: "<=", Value: 1}}},
		Method: []chaos.Action{{Target: "gauge", Execute: func(context.Context) error {
			value.Store(5)
			return errors.New("partial injection")
		}}},
		Rollback: []chaos.Action{{Execute: func(context.Context) error {
			value.Store(0)
			return nil
		}}},
		Validation: []chaos.Assertion{{Metric: "m", Condition: func(v float64) bool { return v <= 1 }, Message: "m stays low"}},
		Duration:    20 * time.Millisecond,
		SampleEvery: 5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"m stays low"}, result.FailedAssertions)
	assert.NotEmpty(t, result.Violations)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "gauge", result.ErrorEvents[0].Component)
	assert.Equal(t, int64(0), value.Load())
	assert.Len(t, engine.Results(), 1)
}

func Test_FaultyLoanStore(t *testing.T) {
	store := memory.New()
	faults := chaos.NewFaults()
	faulty := chaos.NewFaultyLoanStore(store, faults)
	ctx := context.Background()

	_, err := faulty.FindActiveLoan(ctx, uuid.New())
	require.NoError(t, err)

	faults.InjectFailures(1)
	_, err = faulty.FindActiveLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.ErrorIs(t, err, chaos.ErrInjected)

	faults.Clear()
	faults.InjectLatency(time.Hour)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = faulty.GetLoan(cancelled, uuid.New())
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)

	faults.Clear()
	_, err = faulty.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func newTarget(t *testing.T) (chaos.Target, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	author := &catalog.Author{ID: uuid.New(), Name: "Frank Herbert"}
	require.NoError(t, store.CreateAuthor(ctx, author))
	book := &catalog.Book{ID: uuid.New(), Title: "Dune", ISBN: "9780441013593", AuthorID: author.ID, Status: catalog.BookStatusActive}
	require.NoError(t, store.CreateBook(ctx, book))

	borrowers := make([]uuid.UUID, 0, 5)
	for range 5 {
		u := &membership.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Name: "Reader"}
		require.NoError(t, store.CreateUser(ctx, u, &membership.Credential{UserID: u.ID}))
		borrowers = append(borrowers, u.ID)
	}

	faults := chaos.NewFaults()
	svc := circulation.NewService(store, store, chaos.NewFaultyLoanStore(store, faults),
		circulation.WithJournal(eventstore.NewMemoryStore()),
		circulation.WithLogger(discard),
	)

	return chaos.Target{
		Service:     svc,
		Loans:       store,
		Faults:      faults,
		BookID:      book.ID,
		Borrowers:   borrowers,
		Concurrency: 20,
		Window:      20 * time.Millisecond,
		SampleEvery: 5 * time.Millisecond,
	}, store
}

func Test_GameDay_BorrowStorm(t *testing.T) {
	target, store := newTarget(t)
	engine := chaos.NewEngine(discard)
	engine.RegisterExperiments(target)

	held, err := engine.ExecuteGameDay(context.Background(), chaos.GameDay{
		Name:         "borrow-storm",
		Scenarios:    engine.Experiments(),
		Participants: []string{"circulation"},
	})

	require.NoError(t, err)
	assert.True(t, held)

	results := engine.Results()
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, r.ExperimentName)
		assert.Empty(t, r.FailedAssertions, r.ExperimentName)
	}

	active, err := store.FindActiveLoan(context.Background(), target.BookID)
	require.NoError(t, err)
	assert.Nil(t, active, "rollback should return the winning loan")
}
