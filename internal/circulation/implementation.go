// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
)

const instrumentationName = "librarycatalog/circulation"

// service implements the Service interface.
type service struct {
	books   BookStore
	users   UserStore
	loans   LoanStore
	journal eventstore.Store

	locks      *keyedLocker
	now        func() time.Time
	loanPeriod time.Duration

	logger    *slog.Logger
	tracer    trace.Tracer
	borrows   metric.Int64Counter
	returns   metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithClock replaces time.Now for borrow and return timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithLoanPeriod overrides DefaultLoanPeriod. Non-positive values are ignored.
func WithLoanPeriod(d time.Duration) Option {
	return func(s *service) {
		if d > 0 {
			s.loanPeriod = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithJournal records LoanBorrowed and LoanReturned events in store.
func WithJournal(store eventstore.Store) Option {
	return func(s *service) {
		s.journal = store
	}
}

// NewService creates a new circulation service instance.
func NewService(books BookStore, users UserStore, loans LoanStore, opts ...Option) Service {
	s := &service{
		books:      books,
		users:      users,
		loans:      loans,
		locks:      newKeyedLocker(),
		now:        time.Now,
		loanPeriod: DefaultLoanPeriod,
		logger:     slog.Default(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(instrumentationName)
	s.borrows = s.counter(meter, "circulation.loans.borrowed", "Loans opened")
	s.returns = s.counter(meter, "circulation.loans.returned", "Loans closed")
	s.conflicts = s.counter(meter, "circulation.borrow.conflicts", "Borrow attempts rejected because the book was on loan")

	return s
}

func (s *service) counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		s.logger.Warn("create counter", slog.String("name", name), slog.String("error", err.Error()))
		return noop.Int64Counter{}
	}
	return c
}

// Borrow opens a loan for bookID on behalf of userID.
// The active-loan check and the insert run under a per-book lock; the store's
// uniqueness rule covers other processes sharing the same database.
func (s *service) Borrow(ctx context.Context, bookID, userID uuid.UUID) (loan *Loan, err error) {
	const op = "circulation.borrow"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("user.id", userID.String()),
	))
	defer func() { endSpan(span, err) }()

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	if book.Retired() {
		return nil, errs.NotFound(op, "book", bookID)
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, errs.WithOp(op, err)
	}

	unlock := s.locks.Lock(bookID)
	defer unlock()

	active, err := s.loans.FindActiveLoan(ctx, bookID)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	if active != nil {
		s.conflicts.Add(ctx, 1)
		return nil, errs.Conflict(op, "book", bookID, "book currently on loan")
	}

	borrowedAt := s.now().UTC()
	loan = &Loan{
		ID:         uuid.New(),
		BookID:     bookID,
		UserID:     userID,
		BorrowedAt: borrowedAt,
		DueAt:      borrowedAt.Add(s.loanPeriod),
	}

	if err := s.loans.CreateLoan(ctx, loan); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			s.conflicts.Add(ctx, 1)
			return nil, errs.Conflict(op, "book", bookID, "book currently on loan")
		}
		return nil, errs.WithOp(op, err)
	}

	s.borrows.Add(ctx, 1)
	s.record(ctx, loan.ID, 0, EventTypeLoanBorrowed, LoanBorrowedEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		UserID:     loan.UserID,
		BorrowedAt: loan.BorrowedAt,
		DueAt:      loan.DueAt,
	})

	s.logger.InfoContext(ctx, "book borrowed",
		slog.String("loan_id", loan.ID.String()),
		slog.String("book_id", bookID.String()),
		slog.String("user_id", userID.String()),
		slog.Time("due_at", loan.DueAt),
	)
	return loan, nil
}

// Return closes an active loan. Returning a loan twice is an error, not a no-op.
func (s *service) Return(ctx context.Context, loanID uuid.UUID) (loan *Loan, err error) {
	const op = "circulation.return"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	if !current.Active() {
		return nil, errs.InvalidState(op, "loan", loanID, "loan is not active")
	}

	unlock := s.locks.Lock(current.BookID)
	defer unlock()

	returnedAt := s.now().UTC()
	if returnedAt.Before(current.BorrowedAt) {
		returnedAt = current.BorrowedAt
	}

	loan, err = s.loans.MarkReturned(ctx, loanID, returnedAt)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}

	s.returns.Add(ctx, 1)
	s.record(ctx, loan.ID, 1, EventTypeLoanReturned, LoanReturnedEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		UserID:     loan.UserID,
		ReturnedAt: returnedAt,
	})

	s.logger.InfoContext(ctx, "book returned",
		slog.String("loan_id", loan.ID.String()),
		slog.String("book_id", loan.BookID.String()),
		slog.Bool("overdue", returnedAt.After(loan.DueAt)),
	)
	return loan, nil
}

// ListLoansForUser returns the user's whole borrowing history, newest first.
// Books are resolved in one batch, retired ones included, so history stays readable.
func (s *service) ListLoansForUser(ctx context.Context, userID uuid.UUID) ([]LoanView, error) {
	const op = "circulation.list_loans_for_user"

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, errs.WithOp(op, err)
	}

	loans, err := s.loans.ListLoansByUser(ctx, userID)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	views := make([]LoanView, 0, len(loans))
	if len(loans) == 0 {
		return views, nil
	}

	ids := make([]uuid.UUID, 0, len(loans))
	seen := make(map[uuid.UUID]struct{}, len(loans))
	for _, l := range loans {
		if _, dup := seen[l.BookID]; !dup {
			seen[l.BookID] = struct{}{}
			ids = append(ids, l.BookID)
		}
	}
	books, err := s.books.ListBooks(ctx, catalog.BookFilter{IDs: ids, IncludeRetired: true})
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	byID := make(map[uuid.UUID]*catalog.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}

	for _, l := range loans {
		views = append(views, LoanView{Loan: l, Book: byID[l.BookID]})
	}
	return views, nil
}

// ListAvailableBooks lists active books and derives each one's availability from active loans.
func (s *service) ListAvailableBooks(ctx context.Context, filter AvailabilityFilter) (entries []CatalogEntry, err error) {
	const op = "circulation.list_available_books"

	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("filter.status", string(filter.Status)),
	))
	defer func() { endSpan(span, err) }()

	switch filter.Status {
	case StatusAny, StatusAvailable, StatusBorrowed:
	default:
		return nil, errs.InvalidInput(op, "unknown borrowed status "+string(filter.Status))
	}

	books, err := s.books.ListBooks(ctx, catalog.BookFilter{AuthorID: filter.AuthorID})
	if err != nil {
		return nil, errs.WithOp(op, err)
	}
	if len(books) == 0 {
		return []CatalogEntry{}, nil
	}

	ids := make([]uuid.UUID, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	onLoan, err := s.loans.ActiveBookIDs(ctx, ids)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}

	entries = make([]CatalogEntry, 0, len(books))
	for _, b := range books {
		_, borrowed := onLoan[b.ID]
		switch {
		case filter.Status == StatusAvailable && borrowed:
			continue
		case filter.Status == StatusBorrowed && !borrowed:
			continue
		}
		entries = append(entries, CatalogEntry{Book: b, Borrowed: borrowed})
	}

	if err := s.attachAuthors(ctx, entries); err != nil {
		return nil, errs.WithOp(op, err)
	}

	span.SetAttributes(attribute.Int("result.count", len(entries)))
	return entries, nil
}

// attachAuthors fills in each entry's author with a single store call.
func (s *service) attachAuthors(ctx context.Context, entries []CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(entries))
	seen := make(map[uuid.UUID]struct{})
	for _, e := range entries {
		if _, dup := seen[e.AuthorID]; !dup {
			seen[e.AuthorID] = struct{}{}
			ids = append(ids, e.AuthorID)
		}
	}

	authors, err := s.books.GetAuthors(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*catalog.Author, len(authors))
	for _, a := range authors {
		byID[a.ID] = a
	}
	for i := range entries {
		entries[i].Author = byID[entries[i].AuthorID]
	}
	return nil
}

// LoanHistory returns the journal entries of a loan in order.
func (s *service) LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	const op = "circulation.loan_history"

	if _, err := s.loans.GetLoan(ctx, loanID); err != nil {
		return nil, errs.WithOp(op, err)
	}
	if s.journal == nil {
		return []eventstore.Event{}, nil
	}

	events, err := s.journal.LoadEvents(ctx, loanID)
	if err != nil {
		return nil, errs.Unavailable(op, err)
	}
	return events, nil
}

// record appends to the journal. The loan transition is already committed, so failures are only logged.
func (s *service) record(ctx context.Context, loanID uuid.UUID, expectedVersion int, eventType string, payload any) {
	if s.journal == nil {
		return
	}

	event, err := eventstore.NewEvent(eventType, payload)
	if err == nil {
		err = s.journal.AppendEvents(ctx, loanID, aggregateTypeLoan, expectedVersion, event)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "journal append failed",
			slog.String("loan_id", loanID.String()),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", errs.KindOf(err).String()))
	}
	span.End()
}
