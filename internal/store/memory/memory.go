// internal/store/memory/memory.go
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/membership"
)

// Store keeps every record in process memory behind one lock.
// It enforces the same uniqueness rules as the Postgres schema: one email per user,
// one ISBN per book and at most one active loan per book.
// Values are copied on the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	users       map[uuid.UUID]*membership.User
	credentials map[uuid.UUID]*membership.Credential
	emails      map[string]uuid.UUID

	authors map[uuid.UUID]*catalog.Author
	books   map[uuid.UUID]*catalog.Book
	isbns   map[string]uuid.UUID

	loans       map[uuid.UUID]*circulation.Loan
	activeLoans map[uuid.UUID]uuid.UUID // book ID -> loan ID
}

var (
	_ membership.Store          = (*Store)(nil)
	_ catalog.Store             = (*Store)(nil)
	_ catalog.ActiveLoanChecker = (*Store)(nil)
	_ circulation.LoanStore     = (*Store)(nil)
	_ circulation.BookStore     = (*Store)(nil)
	_ circulation.UserStore     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]*membership.User),
		credentials: make(map[uuid.UUID]*membership.Credential),
		emails:      make(map[string]uuid.UUID),
		authors:     make(map[uuid.UUID]*catalog.Author),
		books:       make(map[uuid.UUID]*catalog.Book),
		isbns:       make(map[string]uuid.UUID),
		loans:       make(map[uuid.UUID]*circulation.Loan),
		activeLoans: make(map[uuid.UUID]uuid.UUID),
	}
}

// Users

func (s *Store) CreateUser(_ context.Context, user *membership.User, credential *membership.Credential) error {
	const op = "memory.create_user"

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, taken := s.emails[email]; taken {
		return errs.Conflict(op, "user", user.ID, "email already registered")
	}

	u := *user
	c := *credential
	s.users[u.ID] = &u
	s.credentials[u.ID] = &c
	s.emails[email] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errs.NotFound("memory.get_user", "user", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*membership.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, &errs.Error{Kind: errs.KindNotFound, Op: "memory.get_user_by_email", Entity: "user", Reason: "not found"}
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) GetCredential(_ context.Context, userID uuid.UUID) (*membership.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[userID]
	if !ok {
		return nil, errs.NotFound("memory.get_credential", "credential", userID)
	}
	cp := *c
	return &cp, nil
}

// Authors

func (s *Store) CreateAuthor(_ context.Context, author *catalog.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authors[author.ID]; exists {
		return errs.Conflict("memory.create_author", "author", author.ID, "author already exists")
	}
	a := *author
	s.authors[a.ID] = &a
	return nil
}

func (s *Store) GetAuthor(_ context.Context, id uuid.UUID) (*catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.authors[id]
	if !ok {
		return nil, errs.NotFound("memory.get_author", "author", id)
	}
	cp := *a
	return &cp, nil
}

// ListAuthors returns authors ordered by name.
func (s *Store) ListAuthors(_ context.Context) ([]*catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Author, 0, len(s.authors))
	for _, a := range s.authors {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetAuthors returns the authors among ids that exist. Unknown ids are skipped.
func (s *Store) GetAuthors(_ context.Context, ids []uuid.UUID) ([]*catalog.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Author, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if a, ok := s.authors[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateAuthor(_ context.Context, author *catalog.Author) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[author.ID]; !ok {
		return errs.NotFound("memory.update_author", "author", author.ID)
	}
	a := *author
	s.authors[a.ID] = &a
	return nil
}

// DeleteAuthor refuses while any book, retired or not, references the author.
func (s *Store) DeleteAuthor(_ context.Context, id uuid.UUID) error {
	const op = "memory.delete_author"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[id]; !ok {
		return errs.NotFound(op, "author", id)
	}
	for _, b := range s.books {
		if b.AuthorID == id {
			return errs.Conflict(op, "author", id, "author still has books")
		}
	}
	delete(s.authors, id)
	return nil
}

// Books

func (s *Store) CreateBook(_ context.Context, book *catalog.Book) error {
	const op = "memory.create_book"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[book.AuthorID]; !ok {
		return errs.NotFound(op, "author", book.AuthorID)
	}
	if _, taken := s.isbns[book.ISBN]; taken {
		return errs.Conflict(op, "book", book.ID, "isbn already catalogued")
	}

	b := *book
	s.books[b.ID] = &b
	s.isbns[b.ISBN] = b.ID
	return nil
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return nil, errs.NotFound("memory.get_book", "book", id)
	}
	cp := *b
	return &cp, nil
}

// ListBooks returns matching books ordered by title.
func (s *Store) ListBooks(_ context.Context, filter catalog.BookFilter) ([]*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Book, 0, len(s.books))
	for _, b := range s.books {
		if !filter.Matches(b) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) UpdateBook(_ context.Context, book *catalog.Book) error {
	const op = "memory.update_book"

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.books[book.ID]
	if !ok {
		return errs.NotFound(op, "book", book.ID)
	}
	if _, ok := s.authors[book.AuthorID]; !ok {
		return errs.NotFound(op, "author", book.AuthorID)
	}
	if owner, taken := s.isbns[book.ISBN]; taken && owner != book.ID {
		return errs.Conflict(op, "book", book.ID, "isbn already catalogued")
	}

	delete(s.isbns, current.ISBN)
	b := *book
	s.books[b.ID] = &b
	s.isbns[b.ISBN] = b.ID
	return nil
}

// RetireBook marks a book retired. It re-checks for an active loan under the
// same lock that CreateLoan takes, so a concurrent borrow cannot slip in between.
func (s *Store) RetireBook(_ context.Context, id uuid.UUID, at time.Time) error {
	const op = "memory.retire_book"

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok || b.Retired() {
		return errs.NotFound(op, "book", id)
	}
	if _, onLoan := s.activeLoans[id]; onLoan {
		return errs.Conflict(op, "book", id, "book currently on loan")
	}

	b.Status = catalog.BookStatusRetired
	b.UpdatedAt = at
	return nil
}

// Loans

func (s *Store) CreateLoan(_ context.Context, loan *circulation.Loan) error {
	const op = "memory.create_loan"

	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.books[loan.BookID]; !ok || b.Retired() {
		return errs.NotFound(op, "book", loan.BookID)
	}
	if _, ok := s.users[loan.UserID]; !ok {
		return errs.NotFound(op, "user", loan.UserID)
	}
	if loan.Active() {
		if _, onLoan := s.activeLoans[loan.BookID]; onLoan {
			return errs.Conflict(op, "book", loan.BookID, "book currently on loan")
		}
	}

	l := copyLoan(loan)
	s.loans[l.ID] = l
	if l.Active() {
		s.activeLoans[l.BookID] = l.ID
	}
	return nil
}

func (s *Store) GetLoan(_ context.Context, id uuid.UUID) (*circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, errs.NotFound("memory.get_loan", "loan", id)
	}
	return copyLoan(l), nil
}

func (s *Store) FindActiveLoan(_ context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeLoans[bookID]
	if !ok {
		return nil, nil
	}
	return copyLoan(s.loans[id]), nil
}

func (s *Store) HasActiveLoan(_ context.Context, bookID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.activeLoans[bookID]
	return ok, nil
}

func (s *Store) MarkReturned(_ context.Context, id uuid.UUID, returnedAt time.Time) (*circulation.Loan, error) {
	const op = "memory.mark_returned"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return nil, errs.NotFound(op, "loan", id)
	}
	if !l.Active() {
		return nil, errs.InvalidState(op, "loan", id, "loan is not active")
	}

	at := returnedAt
	l.ReturnedAt = &at
	delete(s.activeLoans, l.BookID)
	return copyLoan(l), nil
}

// ListLoansByUser returns the user's loans, most recently borrowed first.
func (s *Store) ListLoansByUser(_ context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*circulation.Loan, 0)
	for _, l := range s.loans {
		if l.UserID == userID {
			out = append(out, copyLoan(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowedAt.Equal(out[j].BorrowedAt) {
			return out[i].BorrowedAt.After(out[j].BorrowedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ActiveBookIDs(_ context.Context, bookIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]struct{})
	for _, id := range bookIDs {
		if _, ok := s.activeLoans[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func copyLoan(l *circulation.Loan) *circulation.Loan {
	cp := *l
	if l.ReturnedAt != nil {
		at := *l.ReturnedAt
		cp.ReturnedAt = &at
	}
	return &cp
}
