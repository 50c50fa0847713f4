// internal/catalog/service.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	CreateAuthor(ctx context.Context, author Author) (*Author, error)
	GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error)
	ListAuthors(ctx context.Context) ([]*Author, error)
	UpdateAuthor(ctx context.Context, id uuid.UUID, patch AuthorPatch) (*Author, error)
	DeleteAuthor(ctx context.Context, id uuid.UUID) error

	AddBook(ctx context.Context, book Book) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, patch BookPatch) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
}

// Store is the record store the catalog reads and writes.
type Store interface {
	CreateAuthor(ctx context.Context, author *Author) error
	GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error)
	ListAuthors(ctx context.Context) ([]*Author, error)
	GetAuthors(ctx context.Context, ids []uuid.UUID) ([]*Author, error)
	UpdateAuthor(ctx context.Context, author *Author) error
	DeleteAuthor(ctx context.Context, id uuid.UUID) error

	CreateBook(ctx context.Context, book *Book) error
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error)
	UpdateBook(ctx context.Context, book *Book) error
	RetireBook(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ActiveLoanChecker answers whether a book is currently on loan.
type ActiveLoanChecker interface {
	HasActiveLoan(ctx context.Context, bookID uuid.UUID) (bool, error)
}
