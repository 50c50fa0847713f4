// internal/clients/library_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is the result of a signup or login.
type Session struct {
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	User        *membership.User `json:"user"`
}

// LibraryClient talks to the library HTTP API. Unavailable responses are retried
// with exponential backoff; every other failure is returned as an *errs.Error.
type LibraryClient struct {
	baseURL  string
	http     *http.Client
	token    string
	maxTries uint
	backoff  func() backoff.BackOff
}

type ClientOption func(*LibraryClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(l *LibraryClient) {
		l.http = c
	}
}

// WithMaxTries bounds the attempts per call, including the first.
func WithMaxTries(n uint) ClientOption {
	return func(l *LibraryClient) {
		if n > 0 {
			l.maxTries = n
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(newBackOff func() backoff.BackOff) ClientOption {
	return func(l *LibraryClient) {
		l.backoff = newBackOff
	}
}

func NewLibraryClient(baseURL string, opts ...ClientOption) *LibraryClient {
	c := &LibraryClient{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		maxTries: 4,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of the client that sends token as a bearer credential.
func (c *LibraryClient) WithToken(token string) *LibraryClient {
	cp := *c
	cp.token = token
	return &cp
}

func (c *LibraryClient) Signup(ctx context.Context, email, name, password string) (*Session, error) {
	body := map[string]string{"email": email, "name": name, "password": password}
	var s Session
	if err := c.do(ctx, "client.signup", http.MethodPost, "/auth/signup", body, http.StatusCreated, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *LibraryClient) Login(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var s Session
	if err := c.do(ctx, "client.login", http.MethodPost, "/auth/login", body, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *LibraryClient) CreateAuthor(ctx context.Context, name string) (*catalog.Author, error) {
	var env struct {
		Author *catalog.Author `json:"author"`
	}
	body := map[string]string{"name": name}
	if err := c.do(ctx, "client.create_author", http.MethodPost, "/author", body, http.StatusCreated, &env); err != nil {
		return nil, err
	}
	return env.Author, nil
}

func (c *LibraryClient) AddBook(ctx context.Context, authorID uuid.UUID, title, isbn string) (*catalog.Book, error) {
	var env struct {
		Book *catalog.Book `json:"book"`
	}
	body := map[string]string{"title": title, "isbn": isbn, "authorId": authorID.String()}
	if err := c.do(ctx, "client.add_book", http.MethodPost, "/books", body, http.StatusCreated, &env); err != nil {
		return nil, err
	}
	return env.Book, nil
}

// ListBooks lists the catalog with availability. A nil authorID lists every author.
func (c *LibraryClient) ListBooks(ctx context.Context, authorID *uuid.UUID, status circulation.BorrowedStatus) ([]circulation.CatalogEntry, error) {
	q := url.Values{}
	if authorID != nil {
		q.Set("authorId", authorID.String())
	}
	switch status {
	case circulation.StatusBorrowed:
		q.Set("borrowed", strconv.FormatBool(true))
	case circulation.StatusAvailable:
		q.Set("borrowed", strconv.FormatBool(false))
	}

	path := "/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var env struct {
		Books []circulation.CatalogEntry `json:"books"`
	}
	if err := c.do(ctx, "client.list_books", http.MethodGet, path, nil, http.StatusOK, &env); err != nil {
		return nil, err
	}
	return env.Books, nil
}

func (c *LibraryClient) Borrow(ctx context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	var env struct {
		Loan *circulation.Loan `json:"loan"`
	}
	body := map[string]string{"bookId": bookID.String()}
	if err := c.do(ctx, "client.borrow", http.MethodPost, "/borrowed-books/borrow", body, http.StatusCreated, &env); err != nil {
		return nil, err
	}
	return env.Loan, nil
}

func (c *LibraryClient) Return(ctx context.Context, loanID uuid.UUID) (*circulation.Loan, error) {
	var env struct {
		Loan *circulation.Loan `json:"loan"`
	}
	body := map[string]string{"borrowedBookId": loanID.String()}
	if err := c.do(ctx, "client.return", http.MethodPost, "/borrowed-books/return", body, http.StatusOK, &env); err != nil {
		return nil, err
	}
	return env.Loan, nil
}

func (c *LibraryClient) ListLoans(ctx context.Context, userID uuid.UUID) ([]circulation.LoanView, error) {
	var env struct {
		Loans []circulation.LoanView `json:"loans"`
	}
	path := fmt.Sprintf("/borrowed-books/user/%s", userID)
	if err := c.do(ctx, "client.list_loans", http.MethodGet, path, nil, http.StatusOK, &env); err != nil {
		return nil, err
	}
	return env.Loans, nil
}

func (c *LibraryClient) LoanHistory(ctx context.Context, loanID uuid.UUID) ([]eventstore.Event, error) {
	var env struct {
		Events []eventstore.Event `json:"events"`
	}
	path := fmt.Sprintf("/borrowed-books/%s/history", loanID)
	if err := c.do(ctx, "client.loan_history", http.MethodGet, path, nil, http.StatusOK, &env); err != nil {
		return nil, err
	}
	return env.Events, nil
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Entity  string `json:"entity"`
		ID      string `json:"id"`
	} `json:"error"`
}

func (c *LibraryClient) do(ctx context.Context, op, method, path string, in any, want int, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	attempt := func() (struct{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return struct{}{}, errs.Unavailable(op, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return struct{}{}, errs.Unavailable(op, err)
		}

		if resp.StatusCode == want {
			if out == nil {
				return struct{}{}, nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("%s: decode response: %w", op, err))
			}
			return struct{}{}, nil
		}

		apiErr := decodeError(op, resp.StatusCode, data)
		if apiErr.Kind == errs.KindUnavailable {
			return struct{}{}, apiErr
		}
		return struct{}{}, backoff.Permanent(apiErr)
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(c.backoff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

func decodeError(op string, status int, data []byte) *errs.Error {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Kind == "" {
		return &errs.Error{Kind: kindForStatus(status), Op: op, Reason: http.StatusText(status)}
	}
	return &errs.Error{
		Kind:   errs.ParseKind(env.Error.Kind),
		Op:     op,
		Entity: env.Error.Entity,
		ID:     env.Error.ID,
		Reason: env.Error.Message,
	}
}

func kindForStatus(status int) errs.Kind {
	switch status {
	case http.StatusNotFound:
		return errs.KindNotFound
	case http.StatusConflict:
		return errs.KindConflict
	case http.StatusBadRequest:
		return errs.KindInvalidInput
	case http.StatusUnauthorized:
		return errs.KindUnauthorized
	case http.StatusTooManyRequests:
		return errs.KindRateLimited
	case http.StatusServiceUnavailable:
		return errs.KindUnavailable
	default:
		return errs.KindUnknown
	}
}
