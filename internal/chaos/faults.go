// internal/chaos/faults.go
package chaos

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
)

// ErrInjected marks failures produced by a fault injector.
var ErrInjected = errors.New("chaos: injected fault")

// Faults holds the fault profile applied by FaultyLoanStore. Safe for concurrent use.
type Faults struct {
	mu          sync.RWMutex
	latency     time.Duration
	failureRate float64
	rand        func() float64
}

func NewFaults() *Faults {
	return &Faults{rand: rand.Float64}
}

// InjectLatency delays every store call by d.
func (f *Faults) InjectLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// InjectFailures makes the given fraction of store calls fail with errs.KindUnavailable.
func (f *Faults) InjectFailures(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failureRate = min(max(rate, 0), 1)
}

// Clear removes all injected faults.
func (f *Faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = 0
	f.failureRate = 0
}

func (f *Faults) apply(ctx context.Context, op string) error {
	f.mu.RLock()
	latency, rate := f.latency, f.failureRate
	f.mu.RUnlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return errs.Unavailable(op, ctx.Err())
		case <-t.C:
		}
	}
	if rate > 0 && f.rand() < rate {
		return errs.Unavailable(op, ErrInjected)
	}
	return nil
}

var _ circulation.LoanStore = (*FaultyLoanStore)(nil)

// FaultyLoanStore degrades a loan store according to a Faults profile.
type FaultyLoanStore struct {
	next   circulation.LoanStore
	faults *Faults
}

func NewFaultyLoanStore(next circulation.LoanStore, faults *Faults) *FaultyLoanStore {
	return &FaultyLoanStore{next: next, faults: faults}
}

func (s *FaultyLoanStore) CreateLoan(ctx context.Context, loan *circulation.Loan) error {
	if err := s.faults.apply(ctx, "chaos.create_loan"); err != nil {
		return err
	}
	return s.next.CreateLoan(ctx, loan)
}

func (s *FaultyLoanStore) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	if err := s.faults.apply(ctx, "chaos.get_loan"); err != nil {
		return nil, err
	}
	return s.next.GetLoan(ctx, id)
}

func (s *FaultyLoanStore) FindActiveLoan(ctx context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	if err := s.faults.apply(ctx, "chaos.find_active_loan"); err != nil {
		return nil, err
	}
	return s.next.FindActiveLoan(ctx, bookID)
}

func (s *FaultyLoanStore) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*circulation.Loan, error) {
	if err := s.faults.apply(ctx, "chaos.mark_returned"); err != nil {
		return nil, err
	}
	return s.next.MarkReturned(ctx, id, returnedAt)
}

func (s *FaultyLoanStore) ListLoansByUser(ctx context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	if err := s.faults.apply(ctx, "chaos.list_loans_by_user"); err != nil {
		return nil, err
	}
	return s.next.ListLoansByUser(ctx, userID)
}

func (s *FaultyLoanStore) ActiveBookIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	if err := s.faults.apply(ctx, "chaos.active_book_ids"); err != nil {
		return nil, err
	}
	return s.next.ActiveBookIDs(ctx, bookIDs)
}
