// Package breaker guards store calls with a circuit breaker, so a failing database
// turns into fast Unavailable errors instead of piling up slow requests.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/store/pgerr"
)

// Settings configures the breaker. Zero values fall back to the defaults in New.
type Settings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	ConsecutiveFails uint32
}

// New builds a breaker that trips after ConsecutiveFails transport-level failures.
// Domain outcomes such as NotFound or Conflict count as successes.
func New(s Settings, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if s.Name == "" {
		s.Name = "store"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.ConsecutiveFails == 0 {
		s.ConsecutiveFails = 5
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	})
}

func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errs.KindOf(err) == errs.KindUnavailable {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgerr.Transient(err) {
		return false
	}
	return errs.KindOf(err) != errs.KindUnknown
}

func call[T any](cb *gobreaker.CircuitBreaker, op string, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, errs.Unavailable(op, err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

var (
	_ circulation.LoanStore = (*LoanStore)(nil)
	_ circulation.BookStore = (*BookStore)(nil)
)

// LoanStore wraps a circulation.LoanStore.
type LoanStore struct {
	next circulation.LoanStore
	cb   *gobreaker.CircuitBreaker
}

func NewLoanStore(next circulation.LoanStore, cb *gobreaker.CircuitBreaker) *LoanStore {
	return &LoanStore{next: next, cb: cb}
}

func (s *LoanStore) CreateLoan(ctx context.Context, loan *circulation.Loan) error {
	_, err := call(s.cb, "breaker.create_loan", func() (struct{}, error) {
		return struct{}{}, s.next.CreateLoan(ctx, loan)
	})
	return err
}

func (s *LoanStore) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	return call(s.cb, "breaker.get_loan", func() (*circulation.Loan, error) {
		return s.next.GetLoan(ctx, id)
	})
}

func (s *LoanStore) FindActiveLoan(ctx context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	return call(s.cb, "breaker.find_active_loan", func() (*circulation.Loan, error) {
		return s.next.FindActiveLoan(ctx, bookID)
	})
}

func (s *LoanStore) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*circulation.Loan, error) {
	return call(s.cb, "breaker.mark_returned", func() (*circulation.Loan, error) {
		return s.next.MarkReturned(ctx, id, returnedAt)
	})
}

func (s *LoanStore) ListLoansByUser(ctx context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	return call(s.cb, "breaker.list_loans_by_user", func() ([]*circulation.Loan, error) {
		return s.next.ListLoansByUser(ctx, userID)
	})
}

func (s *LoanStore) ActiveBookIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	return call(s.cb, "breaker.active_book_ids", func() (map[uuid.UUID]struct{}, error) {
		return s.next.ActiveBookIDs(ctx, bookIDs)
	})
}

// BookStore wraps the read side of the catalog used by circulation.
type BookStore struct {
	next circulation.BookStore
	cb   *gobreaker.CircuitBreaker
}

func NewBookStore(next circulation.BookStore, cb *gobreaker.CircuitBreaker) *BookStore {
	return &BookStore{next: next, cb: cb}
}

func (s *BookStore) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	return call(s.cb, "breaker.get_book", func() (*catalog.Book, error) {
		return s.next.GetBook(ctx, id)
	})
}

func (s *BookStore) ListBooks(ctx context.Context, filter catalog.BookFilter) ([]*catalog.Book, error) {
	return call(s.cb, "breaker.list_books", func() ([]*catalog.Book, error) {
		return s.next.ListBooks(ctx, filter)
	})
}

func (s *BookStore) GetAuthors(ctx context.Context, ids []uuid.UUID) ([]*catalog.Author, error) {
	return call(s.cb, "breaker.get_authors", func() ([]*catalog.Author, error) {
		return s.next.GetAuthors(ctx, ids)
	})
}
