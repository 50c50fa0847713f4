// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
)

// DefaultLoanPeriod is added to the borrow time to compute the due date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// LoanState is derived from ReturnedAt.
type LoanState string

const (
	LoanActive   LoanState = "active"
	LoanReturned LoanState = "returned"
)

// Loan records one user borrowing one book. It is active until ReturnedAt is set and is never deleted.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	BookID     uuid.UUID  `json:"bookId" db:"book_id"`
	UserID     uuid.UUID  `json:"userId" db:"user_id"`
	BorrowedAt time.Time  `json:"borrowedAt" db:"borrowed_at"`
	DueAt      time.Time  `json:"dueDate" db:"due_at"` // clients read dueDate, do not rename
	ReturnedAt *time.Time `json:"returnedAt,omitempty" db:"returned_at"`
}

func (l *Loan) Active() bool {
	return l.ReturnedAt == nil
}

func (l *Loan) State() LoanState {
	if l.Active() {
		return LoanActive
	}
	return LoanReturned
}

// Overdue reports whether an active loan is past its due date at now.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Active() && now.After(l.DueAt)
}

// BorrowedStatus restricts ListAvailableBooks by derived availability.
type BorrowedStatus string

const (
	StatusAny       BorrowedStatus = ""
	StatusAvailable BorrowedStatus = "available"
	StatusBorrowed  BorrowedStatus = "borrowed"
)

// AvailabilityFilter selects catalog entries by author and availability.
type AvailabilityFilter struct {
	AuthorID *uuid.UUID
	Status   BorrowedStatus
}

// LoanView is a loan with the book it refers to, retired books included.
type LoanView struct {
	*Loan
	Book *catalog.Book `json:"book,omitempty"`
}

// CatalogEntry is a book with its author and its availability computed from loans at read time.
type CatalogEntry struct {
	*catalog.Book
	Author   *catalog.Author `json:"author,omitempty"`
	Borrowed bool            `json:"borrowed"`
}

// Loan journal event types.
const (
	aggregateTypeLoan     = "loan"
	EventTypeLoanBorrowed = "LoanBorrowed"
	EventTypeLoanReturned = "LoanReturned"
)

// LoanBorrowedEvent is journaled when a loan is opened.
type LoanBorrowedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	UserID     uuid.UUID `json:"user_id"`
	BorrowedAt time.Time `json:"borrowed_at"`
	DueAt      time.Time `json:"due_at"`
}

// LoanReturnedEvent is journaled when a loan is closed.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BookID     uuid.UUID `json:"book_id"`
	UserID     uuid.UUID `json:"user_id"`
	ReturnedAt time.Time `json:"returned_at"`
}
