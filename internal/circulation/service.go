// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, bookID, userID uuid.UUID) (*Loan, error)
	Return(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	ListLoansForUser(ctx context.Context, userID uuid.UUID) ([]LoanView, error)
	ListAvailableBooks(ctx context.Context, filter AvailabilityFilter) ([]CatalogEntry, error)
	LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error)
}

// BookStore is the read side of the catalog the manager needs.
// GetAuthors skips ids it does not know.
type BookStore interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	ListBooks(ctx context.Context, filter catalog.BookFilter) ([]*catalog.Book, error)
	GetAuthors(ctx context.Context, ids []uuid.UUID) ([]*catalog.Author, error)
}

// UserStore resolves borrowers.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error)
}

// LoanStore persists loans.
//
// CreateLoan must refuse a second active loan for the same book with errs.KindConflict.
// MarkReturned must only transition an active loan and report errs.KindInvalidState otherwise.
// FindActiveLoan returns (nil, nil) when the book is not on loan.
type LoanStore interface {
	CreateLoan(ctx context.Context, loan *Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error)
	FindActiveLoan(ctx context.Context, bookID uuid.UUID) (*Loan, error)
	MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*Loan, error)
	ListLoansByUser(ctx context.Context, userID uuid.UUID) ([]*Loan, error)
	ActiveBookIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID]struct{}, error)
}
