// internal/chaos/experiments.go
package chaos

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
)

// Target is the slice of the library an experiment runs against.
// Loans must be the undegraded store so metrics see the real state.
type Target struct {
	Service     circulation.Service
	Loans       circulation.LoanStore
	Faults      *Faults
	BookID      uuid.UUID
	Borrowers   []uuid.UUID
	Concurrency int
	Window      time.Duration
	SampleEvery time.Duration
}

func (t Target) withDefaults() Target {
	if t.Concurrency <= 0 {
		t.Concurrency = 100
	}
	if t.Window <= 0 {
		t.Window = 2 * time.Second
	}
	if t.SampleEvery <= 0 {
		t.SampleEvery = 250 * time.Millisecond
	}
	return t
}

// RegisterExperiments registers the borrow storm suite against t.
func (e *Engine) RegisterExperiments(t Target) {
	for _, exp := range Experiments(t) {
		e.Register(exp)
	}
}

// Experiments returns the borrow storm suite: a clean storm, one under store latency
// and one under intermittent store failures.
func Experiments(t Target) []Experiment {
	t = t.withDefaults()
	return []Experiment{
		ConcurrentBorrowExperiment(t),
		StoreLatencyExperiment(t, 25*time.Millisecond),
		StoreFailureExperiment(t, 0.3),
	}
}

// storm tracks the outcome of one burst of concurrent borrows.
type storm struct {
	target     Target
	succeeded  atomic.Int64
	conflicts  atomic.Int64
	degraded   atomic.Int64
	unexpected atomic.Int64
}

func (s *storm) run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range s.target.Concurrency {
		wg.Add(1)
		go func(user uuid.UUID) {
			defer wg.Done()
			_, err := s.target.Service.Borrow(ctx, s.target.BookID, user)
			switch errs.KindOf(err) {
			case errs.KindConflict:
				s.conflicts.Add(1)
			case errs.KindUnavailable:
				s.degraded.Add(1)
			default:
				if err == nil {
					s.succeeded.Add(1)
					return
				}
				s.unexpected.Add(1)
			}
		}(s.target.Borrowers[i%len(s.target.Borrowers)])
	}
	wg.Wait()
	return nil
}

// activeLoans counts active loans on the target book across every borrower.
// Any value above one is a double booking.
func (s *storm) activeLoans(ctx context.Context) (float64, error) {
	var n int
	for _, user := range uniqueIDs(s.target.Borrowers) {
		loans, err := s.target.Loans.ListLoansByUser(ctx, user)
		if err != nil {
			return 0, err
		}
		for _, l := range loans {
			if l.BookID == s.target.BookID && l.Active() {
				n++
			}
		}
	}
	return float64(n), nil
}

func (s *storm) unexpectedErrors(context.Context) (float64, error) {
	return float64(s.unexpected.Load()), nil
}

// release returns whatever loan the storm left open so the next experiment starts clean.
func (s *storm) release(ctx context.Context) error {
	loan, err := s.target.Loans.FindActiveLoan(ctx, s.target.BookID)
	if err != nil || loan == nil {
		return err
	}
	_, err = s.target.Service.Return(ctx, loan.ID)
	return err
}

func (s *storm) metrics() []Metric {
	return []Metric{
		{
			Name:      "active_loans_for_book",
			Query:     s.activeLoans,
			Threshold: Threshold{Operator: "<=", Value: 1},
		},
		{
			Name:      "unexpected_borrow_errors",
			Query:     s.unexpectedErrors,
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

func noDoubleBooking() Assertion {
	return Assertion{
		Metric:    "active_loans_for_book",
		Condition: func(v float64) bool { return v <= 1 },
		Message:   "A book must never have more than one active loan",
	}
}

func onlyExpectedErrors() Assertion {
	return Assertion{
		Metric:    "unexpected_borrow_errors",
		Condition: func(v float64) bool { return v == 0 },
		Message:   "Losing borrowers should only see conflict or unavailable errors",
	}
}

// ConcurrentBorrowExperiment fires a burst of borrows at one available book.
func ConcurrentBorrowExperiment(t Target) Experiment {
	t = t.withDefaults()
	s := &storm{target: t}

	return Experiment{
		Name:        "concurrent-borrow-race-condition",
		Hypothesis:  "Exactly one of many simultaneous borrowers wins the book",
		SteadyState: s.metrics(),
		Method: []Action{
			{Type: "concurrent-requests", Target: "circulation-service", Execute: s.run},
		},
		Rollback: []Action{
			{Type: "return-loan", Target: "circulation-service", Execute: s.release},
		},
		Validation: []Assertion{
			{
				Metric:    "active_loans_for_book",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one borrower should hold the book",
			},
			onlyExpectedErrors(),
		},
		Duration:    t.Window,
		SampleEvery: t.SampleEvery,
	}
}

// StoreLatencyExperiment slows every loan store call while borrowers race.
func StoreLatencyExperiment(t Target, latency time.Duration) Experiment {
	t = t.withDefaults()
	s := &storm{target: t}

	return Experiment{
		Name:        "loan-store-latency",
		Hypothesis:  "Slow storage widens the race window without producing a double booking",
		SteadyState: s.metrics(),
		Method: []Action{
			{
				Type:   "inject-latency",
				Target: "loan-store",
				Execute: func(context.Context) error {
					t.Faults.InjectLatency(latency)
					return nil
				},
			},
			{Type: "concurrent-requests", Target: "circulation-service", Execute: s.run},
		},
		Rollback: []Action{
			{
				Type:   "remove-latency",
				Target: "loan-store",
				Execute: func(context.Context) error {
					t.Faults.Clear()
					return nil
				},
			},
			{Type: "return-loan", Target: "circulation-service", Execute: s.release},
		},
		Validation:  []Assertion{noDoubleBooking(), onlyExpectedErrors()},
		Duration:    t.Window,
		SampleEvery: t.SampleEvery,
	}
}

// StoreFailureExperiment fails a fraction of loan store calls while borrowers race.
func StoreFailureExperiment(t Target, rate float64) Experiment {
	t = t.withDefaults()
	s := &storm{target: t}

	return Experiment{
		Name:        "loan-store-failures",
		Hypothesis:  "Intermittent storage failures surface as unavailable errors and never as a double booking",
		SteadyState: s.metrics(),
		Method: []Action{
			{
				Type:   "inject-failures",
				Target: "loan-store",
				Execute: func(context.Context) error {
					t.Faults.InjectFailures(rate)
					return nil
				},
			},
			{Type: "concurrent-requests", Target: "circulation-service", Execute: s.run},
		},
		Rollback: []Action{
			{
				Type:   "remove-failures",
				Target: "loan-store",
				Execute: func(context.Context) error {
					t.Faults.Clear()
					return nil
				},
			},
			{Type: "return-loan", Target: "circulation-service", Execute: s.release},
		},
		Validation:  []Assertion{noDoubleBooking(), onlyExpectedErrors()},
		Duration:    t.Window,
		SampleEvery: t.SampleEvery,
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
