package clients_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/clients"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/server"
	"librarycatalog/internal/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastRetry() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newAPI(t *testing.T) *clients.LibraryClient {
	t.Helper()
	store := memory.New()
	svcs := server.NewServices(server.Stores{
		Users:   store,
		Catalog: store,
		Loans:   store,
		OnLoan:  store,
		Journal: eventstore.NewMemoryStore(),
	}, server.Settings{AuthRatePerMin: 600, AuthRateBurst: 50}, discard)

	tokens, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(server.New(svcs, tokens, nil, discard))
	t.Cleanup(srv.Close)

	return clients.NewLibraryClient(srv.URL, clients.WithBackOff(fastRetry))
}

func Test_BorrowReturnFlow(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)

	aliceSession, err := api.Signup(ctx, "alice@example.com", "Alice", "correct-horse")
	require.NoError(t, err)
	_, err = api.Signup(ctx, "bob@example.com", "Bob", "battery-staple")
	require.NoError(t, err)
	bobSession, err := api.Login(ctx, "BOB@example.com", "battery-staple")
	require.NoError(t, err)

	alice := api.WithToken(aliceSession.AccessToken)
	bob := api.WithToken(bobSession.AccessToken)

	author, err := alice.CreateAuthor(ctx, "Frank Herbert")
	require.NoError(t, err)
	book, err := alice.AddBook(ctx, author.ID, "Dune", "9780441013593")
	require.NoError(t, err)

	loan, err := alice.Borrow(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceSession.User.ID, loan.UserID)
	assert.Equal(t, circulation.DefaultLoanPeriod, loan.DueAt.Sub(loan.BorrowedAt))
	assert.Nil(t, loan.ReturnedAt)

	_, err = bob.Borrow(ctx, book.ID)
	require.ErrorIs(t, err, errs.ErrConflict)
	var apiErr *errs.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "book", apiErr.Entity)
	assert.Equal(t, book.ID.String(), apiErr.ID)

	available, err := bob.ListBooks(ctx, nil, circulation.StatusAvailable)
	require.NoError(t, err)
	assert.Empty(t, available)

	borrowed, err := bob.ListBooks(ctx, &author.ID, circulation.StatusBorrowed)
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	assert.True(t, borrowed[0].Borrowed)
	assert.Equal(t, "Dune", borrowed[0].Title)
	require.NotNil(t, borrowed[0].Author)
	assert.Equal(t, "Frank Herbert", borrowed[0].Author.Name)

	returned, err := alice.Return(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.False(t, returned.ReturnedAt.Before(returned.BorrowedAt))

	_, err = alice.Return(ctx, loan.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	_, err = bob.Borrow(ctx, book.ID)
	require.NoError(t, err)

	loans, err := alice.ListLoans(ctx, aliceSession.User.ID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.NotNil(t, loans[0].ReturnedAt)
	require.NotNil(t, loans[0].Book)
	assert.Equal(t, "Dune", loans[0].Book.Title)

	history, err := alice.LoanHistory(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, circulation.EventTypeLoanBorrowed, history[0].EventType)
	assert.Equal(t, circulation.EventTypeLoanReturned, history[1].EventType)
}

func Test_Errors(t *testing.T) {
	ctx := context.Background()
	api := newAPI(t)

	_, err := api.ListBooks(ctx, nil, circulation.StatusAny)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = api.Login(ctx, "nobody@example.com", "whatever-password")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	session, err := api.Signup(ctx, "carol@example.com", "Carol", "long-enough")
	require.NoError(t, err)
	carol := api.WithToken(session.AccessToken)

	_, err = carol.Borrow(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = carol.Return(ctx, uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = api.Signup(ctx, "carol@example.com", "Carol Again", "long-enough")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func Test_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"kind":"unavailable","message":"unavailable"}}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"loan":{"id":"` + uuid.NewString() + `"}}`))
	}))
	defer srv.Close()

	c := clients.NewLibraryClient(srv.URL, clients.WithBackOff(fastRetry), clients.WithMaxTries(5))

	loan, err := c.Borrow(context.Background(), uuid.New())

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, loan.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func Test_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := clients.NewLibraryClient(srv.URL, clients.WithBackOff(fastRetry), clients.WithMaxTries(2))

	_, err := c.Borrow(context.Background(), uuid.New())

	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func Test_DoesNotRetryDomainErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"kind":"conflict","message":"book currently on loan","entity":"book","id":"x"}}`))
	}))
	defer srv.Close()

	c := clients.NewLibraryClient(srv.URL, clients.WithBackOff(fastRetry))

	_, err := c.Borrow(context.Background(), uuid.New())

	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Contains(t, err.Error(), "book currently on loan")
	assert.Equal(t, int32(1), calls.Load())
}
