package catalog_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/membership"
	"librarycatalog/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newCatalog(t *testing.T) (catalog.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := catalog.NewService(store, store,
		catalog.WithLogger(discard),
		catalog.WithClock(func() time.Time { return t0 }),
	)
	return svc, store
}

func ptr[T any](v T) *T { return &v }

func Test_CreateAuthor(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()

	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "  Ursula K. Le Guin  ", Nationality: "American"})
	require.NoError(t, err)
	assert.Equal(t, "Ursula K. Le Guin", author.Name)
	assert.NotEqual(t, uuid.Nil, author.ID)
	assert.Equal(t, t0, author.CreatedAt)

	_, err = svc.CreateAuthor(ctx, catalog.Author{Name: "   "})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func Test_UpdateAuthor(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)

	updated, err := svc.UpdateAuthor(ctx, author.ID, catalog.AuthorPatch{Biography: ptr("Wrote Dune.")})
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", updated.Name)
	assert.Equal(t, "Wrote Dune.", updated.Biography)

	_, err = svc.UpdateAuthor(ctx, author.ID, catalog.AuthorPatch{Name: ptr("")})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.UpdateAuthor(ctx, uuid.New(), catalog.AuthorPatch{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func Test_DeleteAuthor_WithBooks(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)
	_, err = svc.AddBook(ctx, catalog.Book{Title: "Dune", ISBN: "9780441013593", AuthorID: author.ID})
	require.NoError(t, err)

	err = svc.DeleteAuthor(ctx, author.ID)

	assert.ErrorIs(t, err, errs.ErrConflict)
}

func Test_AddBook(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)

	book, err := svc.AddBook(ctx, catalog.Book{Title: " Dune ", ISBN: "9780441013593", AuthorID: author.ID, Status: catalog.BookStatusRetired})
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, catalog.BookStatusActive, book.Status)

	tests := []struct {
		name string
		book catalog.Book
		want error
	}{
		{"missing title", catalog.Book{ISBN: "1", AuthorID: author.ID}, errs.ErrInvalidInput},
		{"missing isbn", catalog.Book{Title: "X", AuthorID: author.ID}, errs.ErrInvalidInput},
		{"missing author", catalog.Book{Title: "X", ISBN: "2"}, errs.ErrInvalidInput},
		{"unknown author", catalog.Book{Title: "X", ISBN: "3", AuthorID: uuid.New()}, errs.ErrNotFound},
		{"duplicate isbn", catalog.Book{Title: "Dune Again", ISBN: "9780441013593", AuthorID: author.ID}, errs.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddBook(ctx, tt.book)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func Test_ListBooks_Filters(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	herbert, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)
	leGuin, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Ursula K. Le Guin"})
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, catalog.Book{Title: "Dune", ISBN: "a", Genre: "Science Fiction", AuthorID: herbert.ID})
	require.NoError(t, err)
	_, err = svc.AddBook(ctx, catalog.Book{Title: "Dune Messiah", ISBN: "b", Genre: "Science Fiction", AuthorID: herbert.ID})
	require.NoError(t, err)
	_, err = svc.AddBook(ctx, catalog.Book{Title: "A Wizard of Earthsea", ISBN: "c", Genre: "Fantasy", AuthorID: leGuin.ID})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter catalog.BookFilter
		want   []string
	}{
		{"all", catalog.BookFilter{}, []string{"A Wizard of Earthsea", "Dune", "Dune Messiah"}},
		{"by author", catalog.BookFilter{AuthorID: &leGuin.ID}, []string{"A Wizard of Earthsea"}},
		{"by genre", catalog.BookFilter{Genre: "science fiction"}, []string{"Dune", "Dune Messiah"}},
		{"by title", catalog.BookFilter{Query: "messiah"}, []string{"Dune Messiah"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := svc.ListBooks(ctx, tt.filter)
			require.NoError(t, err)

			titles := make([]string, 0, len(books))
			for _, b := range books {
				titles = append(titles, b.Title)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func Test_UpdateBook(t *testing.T) {
	svc, _ := newCatalog(t)
	ctx := context.Background()
	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)
	book, err := svc.AddBook(ctx, catalog.Book{Title: "Dune", ISBN: "9780441013593", AuthorID: author.ID})
	require.NoError(t, err)

	updated, err := svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Genre: ptr("Science Fiction")})
	require.NoError(t, err)
	assert.Equal(t, "Science Fiction", updated.Genre)
	assert.Equal(t, "Dune", updated.Title)

	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookPatch{AuthorID: ptr(uuid.New())})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, svc.RemoveBook(ctx, book.ID))
	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookPatch{Title: ptr("Dune (retired)")})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func Test_RemoveBook(t *testing.T) {
	svc, store := newCatalog(t)
	ctx := context.Background()
	author, err := svc.CreateAuthor(ctx, catalog.Author{Name: "Frank Herbert"})
	require.NoError(t, err)
	book, err := svc.AddBook(ctx, catalog.Book{Title: "Dune", ISBN: "9780441013593", AuthorID: author.ID})
	require.NoError(t, err)

	user := &membership.User{ID: uuid.New(), Email: "paul@example.com", Name: "Paul"}
	require.NoError(t, store.CreateUser(ctx, user, &membership.Credential{UserID: user.ID}))
	loan := &circulation.Loan{ID: uuid.New(), BookID: book.ID, UserID: user.ID, BorrowedAt: t0, DueAt: t0.Add(circulation.DefaultLoanPeriod)}
	require.NoError(t, store.CreateLoan(ctx, loan))

	err = svc.RemoveBook(ctx, book.ID)
	assert.ErrorIs(t, err, errs.ErrConflict, "a book on loan cannot be removed")

	_, err = store.MarkReturned(ctx, loan.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, svc.RemoveBook(ctx, book.ID))

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, got.Retired())

	books, err := svc.ListBooks(ctx, catalog.BookFilter{})
	require.NoError(t, err)
	assert.Empty(t, books)

	err = svc.RemoveBook(ctx, book.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
