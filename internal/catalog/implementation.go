// internal/catalog/implementation.go
package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/errs"
)

// service implements the Service interface.
type service struct {
	store  Store
	loans  ActiveLoanChecker
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the catalog service.
type Option func(*service)

// WithLogger sets the logger used for catalog changes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates a new catalog service instance.
func NewService(store Store, loans ActiveLoanChecker, opts ...Option) Service {
	s := &service{
		store:  store,
		loans:  loans,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateAuthor(ctx context.Context, author Author) (*Author, error) {
	const op = "catalog.create_author"

	author.Name = strings.TrimSpace(author.Name)
	if author.Name == "" {
		return nil, errs.InvalidInput(op, "author name is required")
	}

	now := s.now().UTC()
	author.ID = uuid.New()
	author.CreatedAt = now
	author.UpdatedAt = now

	if err := s.store.CreateAuthor(ctx, &author); err != nil {
		return nil, errs.WithOp(op, err)
	}

	s.logger.InfoContext(ctx, "author created", slog.String("author_id", author.ID.String()))
	return &author, nil
}

func (s *service) GetAuthor(ctx context.Context, id uuid.UUID) (*Author, error) {
	author, err := s.store.GetAuthor(ctx, id)
	if err != nil {
		return nil, errs.WithOp("catalog.get_author", err)
	}
	return author, nil
}

func (s *service) ListAuthors(ctx context.Context) ([]*Author, error) {
	authors, err := s.store.ListAuthors(ctx)
	if err != nil {
		return nil, errs.WithOp("catalog.list_authors", err)
	}
	return authors, nil
}

func (s *service) UpdateAuthor(ctx context.Context, id uuid.UUID, patch AuthorPatch) (*Author, error) {
	const op = "catalog.update_author"

	author, err := s.store.GetAuthor(ctx, id)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}

	patch.apply(author)
	author.Name = strings.TrimSpace(author.Name)
	if author.Name == "" {
		return nil, errs.InvalidInput(op, "author name is required")
	}
	author.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateAuthor(ctx, author); err != nil {
		return nil, errs.WithOp(op, err)
	}
	return author, nil
}

// DeleteAuthor removes an author. The store refuses while books still reference it.
func (s *service) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteAuthor(ctx, id); err != nil {
		return errs.WithOp("catalog.delete_author", err)
	}
	s.logger.InfoContext(ctx, "author deleted", slog.String("author_id", id.String()))
	return nil
}

// AddBook creates a new book in the catalog.
func (s *service) AddBook(ctx context.Context, book Book) (*Book, error) {
	const op = "catalog.add_book"

	if err := normalizeBook(op, &book); err != nil {
		return nil, err
	}

	if _, err := s.store.GetAuthor(ctx, book.AuthorID); err != nil {
		return nil, errs.WithOp(op, err)
	}

	now := s.now().UTC()
	book.ID = uuid.New()
	book.Status = BookStatusActive
	book.CreatedAt = now
	book.UpdatedAt = now

	if err := s.store.CreateBook(ctx, &book); err != nil {
		return nil, errs.WithOp(op, err)
	}

	s.logger.InfoContext(ctx, "book added",
		slog.String("book_id", book.ID.String()),
		slog.String("isbn", book.ISBN),
	)
	return &book, nil
}

// GetBook retrieves a book by its ID. Retired books are still returned so their loan history stays readable.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, errs.WithOp("catalog.get_book", err)
	}
	return book, nil
}

func (s *service) ListBooks(ctx context.Context, filter BookFilter) ([]*Book, error) {
	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return nil, errs.WithOp("catalog.list_books", err)
	}
	return books, nil
}

func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, patch BookPatch) (*Book, error) {
	const op = "catalog.update_book"

	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	if book.Retired() {
		return nil, errs.InvalidState(op, "book", id, "book is retired")
	}

	patch.apply(book)
	if err := normalizeBook(op, book); err != nil {
		return nil, err
	}
	if patch.AuthorID != nil {
		if _, err := s.store.GetAuthor(ctx, book.AuthorID); err != nil {
			return nil, errs.WithOp(op, err)
		}
	}
	book.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateBook(ctx, book); err != nil {
		return nil, errs.WithOp(op, err)
	}
	return book, nil
}

// RemoveBook retires a book. Loans are never deleted, so the record stays for history;
// removal is refused while the book is on loan.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	const op = "catalog.remove_book"

	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return errs.WithOp(op, err)
	}
	if book.Retired() {
		return errs.NotFound(op, "book", id)
	}

	onLoan, err := s.loans.HasActiveLoan(ctx, id)
	if err != nil {
		return errs.WithOp(op, err)
	}
	if onLoan {
		return errs.Conflict(op, "book", id, "book currently on loan")
	}

	if err := s.store.RetireBook(ctx, id, s.now().UTC()); err != nil {
		return errs.WithOp(op, err)
	}

	s.logger.InfoContext(ctx, "book retired", slog.String("book_id", id.String()))
	return nil
}

func normalizeBook(op string, b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.ISBN = strings.TrimSpace(b.ISBN)
	switch {
	case b.Title == "":
		return errs.InvalidInput(op, "book title is required")
	case b.ISBN == "":
		return errs.InvalidInput(op, "book isbn is required")
	case b.AuthorID == uuid.Nil:
		return errs.InvalidInput(op, "book author is required")
	}
	return nil
}
