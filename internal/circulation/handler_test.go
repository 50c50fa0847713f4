package circulation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/httpx"
)

// asUser stands in for the token middleware.
func asUser(id uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), id)))
		})
	}
}

func newRouter(lib *library, userID uuid.UUID) http.Handler {
	r := chi.NewRouter()
	r.Use(asUser(userID))
	circulation.NewHandler(lib.svc, discard).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func Test_Handler_BorrowAndReturn(t *testing.T) {
	lib := newLibrary(t)
	alice := lib.addUser(t, "Alice")
	book := lib.addBook(t, "Dune")
	h := newRouter(lib, alice)

	rec := do(t, h, http.MethodPost, "/borrowed-books/borrow", `{"bookId":"`+book.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var borrowed struct {
		Loan circulation.Loan `json:"loan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &borrowed))
	assert.Equal(t, alice, borrowed.Loan.UserID)
	assert.Equal(t, book, borrowed.Loan.BookID)

	rec = do(t, h, http.MethodPost, "/borrowed-books/borrow", `{"bookId":"`+book.String()+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/borrowed-books/return", `{"borrowedBookId":"`+borrowed.Loan.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/borrowed-books/return", `{"borrowedBookId":"`+borrowed.Loan.ID.String()+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var failed struct {
		Error httpx.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failed))
	assert.Equal(t, "invalid_state", failed.Error.Kind)
}

func Test_Handler_BadRequests(t *testing.T) {
	lib := newLibrary(t)
	h := newRouter(lib, lib.addUser(t, "Alice"))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/borrowed-books/borrow", `{"bookId":`, http.StatusBadRequest},
		{"missing book id", http.MethodPost, "/borrowed-books/borrow", `{}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/borrowed-books/return", `{"loanId":"x"}`, http.StatusBadRequest},
		{"unknown book", http.MethodPost, "/borrowed-books/borrow", `{"bookId":"` + uuid.NewString() + `"}`, http.StatusNotFound},
		{"bad user id", http.MethodGet, "/borrowed-books/user/not-a-uuid", "", http.StatusBadRequest},
		{"unknown user", http.MethodGet, "/borrowed-books/user/" + uuid.NewString(), "", http.StatusNotFound},
		{"bad borrowed flag", http.MethodGet, "/books?borrowed=maybe", "", http.StatusBadRequest},
		{"bad author id", http.MethodGet, "/books?authorId=nope", "", http.StatusBadRequest},
		{"unknown loan history", http.MethodGet, "/borrowed-books/" + uuid.NewString() + "/history", "", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.target, tc.body)

			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func Test_Handler_ListBooksByBorrowedFlag(t *testing.T) {
	lib := newLibrary(t)
	alice := lib.addUser(t, "Alice")
	dune := lib.addBook(t, "Dune")
	lib.addBook(t, "Dune Messiah")
	h := newRouter(lib, alice)

	rec := do(t, h, http.MethodPost, "/borrowed-books/borrow", `{"bookId":"`+dune.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	list := func(query string) []string {
		rec := do(t, h, http.MethodGet, "/books"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Books []struct {
				Title    string `json:"title"`
				Borrowed bool   `json:"borrowed"`
			} `json:"books"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		titles := make([]string, 0, len(body.Books))
		for _, b := range body.Books {
			titles = append(titles, b.Title)
		}
		return titles
	}

	assert.ElementsMatch(t, []string{"Dune", "Dune Messiah"}, list(""))
	assert.Equal(t, []string{"Dune"}, list("?borrowed=true"))
	assert.Equal(t, []string{"Dune Messiah"}, list("?borrowed=false"))
	assert.Equal(t, []string{"Dune Messiah"}, list("?status=available&authorId="+lib.author.ID.String()))
}

func Test_Handler_LoansAndHistory(t *testing.T) {
	lib := newLibrary(t)
	alice := lib.addUser(t, "Alice")
	h := newRouter(lib, alice)

	rec := do(t, h, http.MethodPost, "/borrowed-books/borrow", `{"bookId":"`+lib.addBook(t, "Dune").String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var borrowed struct {
		Loan circulation.Loan `json:"loan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &borrowed))

	rec = do(t, h, http.MethodGet, "/borrowed-books/user/"+alice.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loans struct {
		Loans []struct {
			ID      uuid.UUID `json:"id"`
			DueDate string    `json:"dueDate"`
			Book    struct {
				Title string `json:"title"`
			} `json:"book"`
		} `json:"loans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loans))
	require.Len(t, loans.Loans, 1)
	assert.Equal(t, borrowed.Loan.ID, loans.Loans[0].ID)
	assert.NotEmpty(t, loans.Loans[0].DueDate)
	assert.Equal(t, "Dune", loans.Loans[0].Book.Title)

	rec = do(t, h, http.MethodGet, "/borrowed-books/"+borrowed.Loan.ID.String()+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Events []struct {
			EventType string `json:"eventType"`
			Version   int    `json:"version"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Events, 1)
	assert.Equal(t, circulation.EventTypeLoanBorrowed, history.Events[0].EventType)
	assert.Equal(t, 1, history.Events[0].Version)
}

func Test_Handler_ListBooksIncludesAuthor(t *testing.T) {
	lib := newLibrary(t)
	lib.addBook(t, "Dune")
	h := newRouter(lib, lib.addUser(t, "Alice"))

	rec := do(t, h, http.MethodGet, "/books", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Books []struct {
			Title    string    `json:"title"`
			AuthorID uuid.UUID `json:"authorId"`
			Author   struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"books"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Books, 1)
	assert.Equal(t, lib.author.ID, body.Books[0].AuthorID)
	assert.Equal(t, "Frank Herbert", body.Books[0].Author.Name)
}

func Test_Handler_BorrowWithoutUser(t *testing.T) {
	lib := newLibrary(t)
	r := chi.NewRouter()
	circulation.NewHandler(lib.svc, discard).Routes(r)

	rec := do(t, r, http.MethodPost, "/borrowed-books/borrow", `{"bookId":"`+lib.addBook(t, "Dune").String()+`"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
