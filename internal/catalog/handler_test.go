package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/catalog"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _ := newCatalog(t)
	r := chi.NewRouter()
	catalog.NewHandler(svc, discard).Routes(r)
	return r
}

func send(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder, key string) T {
	t.Helper()
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var v T
	require.NoError(t, json.Unmarshal(env[key], &v))
	return v
}

func Test_Handler_AuthorAndBookLifecycle(t *testing.T) {
	h := newRouter(t)

	rec := send(t, h, http.MethodPost, "/author", `{"name":"Frank Herbert","birthDate":"1920-10-08"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	author := decode[catalog.Author](t, rec, "author")
	require.NotNil(t, author.BirthDate)
	assert.Equal(t, 1920, author.BirthDate.Year())

	rec = send(t, h, http.MethodPatch, "/author/"+author.ID.String(), `{"nationality":"American"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "American", decode[catalog.Author](t, rec, "author").Nationality)

	body := `{"title":"Dune","isbn":"9780441013593","publishedAt":"1965-08-01","authorId":"` + author.ID.String() + `"}`
	rec = send(t, h, http.MethodPost, "/books", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	book := decode[catalog.Book](t, rec, "book")
	assert.Equal(t, catalog.BookStatusActive, book.Status)

	rec = send(t, h, http.MethodGet, "/books/"+book.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dune", decode[catalog.Book](t, rec, "book").Title)

	rec = send(t, h, http.MethodDelete, "/author/"+author.ID.String(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = send(t, h, http.MethodDelete, "/books/"+book.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = send(t, h, http.MethodGet, "/author", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]catalog.Author](t, rec, "authors"), 1)
}

func Test_Handler_BadRequests(t *testing.T) {
	h := newRouter(t)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"bad id", http.MethodGet, "/author/42", "", http.StatusBadRequest},
		{"unknown author", http.MethodGet, "/author/7d9f3c5e-8a1b-4c2d-9e0f-1a2b3c4d5e6f", "", http.StatusNotFound},
		{"bad date", http.MethodPost, "/author", `{"name":"X","birthDate":"08/10/1920"}`, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/author", `{}`, http.StatusBadRequest},
		{"bad author id", http.MethodPost, "/books", `{"title":"X","isbn":"1234567890","authorId":"nope"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/books", `{"title":"X","copies":3}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, send(t, h, tt.method, tt.path, tt.body).Code)
		})
	}
}
