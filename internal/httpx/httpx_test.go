package httpx_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarycatalog/internal/errs"
	"librarycatalog/internal/httpx"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func Test_StatusFor(t *testing.T) {
	tests := map[errs.Kind]int{
		errs.KindNotFound:     http.StatusNotFound,
		errs.KindConflict:     http.StatusConflict,
		errs.KindInvalidState: http.StatusConflict,
		errs.KindInvalidInput: http.StatusBadRequest,
		errs.KindUnauthorized: http.StatusUnauthorized,
		errs.KindRateLimited:  http.StatusTooManyRequests,
		errs.KindUnavailable:  http.StatusServiceUnavailable,
		errs.KindUnknown:      http.StatusInternalServerError,
	}
	for kind, want := range tests {
		t.Run(kind.String(), func(t *testing.T) {
			assert.Equal(t, want, httpx.StatusFor(kind))
		})
	}
}

func Test_Error(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name       string
		err        error
		status     int
		body       []string
		retryAfter string
	}{
		{
			name:   "conflict",
			err:    errs.Conflict("circulation.borrow", "book", id, "book currently on loan"),
			status: http.StatusConflict,
			body:   []string{`"kind":"conflict"`, `"message":"book currently on loan"`, `"entity":"book"`, id.String()},
		},
		{
			name:       "unavailable",
			err:        errs.Unavailable("postgres.get_loan", errors.New("dial tcp: refused")),
			status:     http.StatusServiceUnavailable,
			body:       []string{`"kind":"unavailable"`},
			retryAfter: "1",
		},
		{
			name:   "unknown error is hidden",
			err:    errors.New("pq: password authentication failed"),
			status: http.StatusInternalServerError,
			body:   []string{`"kind":"unknown"`, "could not process your request"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			httpx.Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), discard, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			for _, s := range tt.body {
				assert.Contains(t, rec.Body.String(), s)
			}
			assert.NotContains(t, rec.Body.String(), "password authentication")
		})
	}
}

type payload struct {
	Name string `json:"name" validate:"required,max=5"`
}

func Test_ReadJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"ok", `{"name":"Dune"}`, ""},
		{"malformed", `{"name":`, "malformed JSON body"},
		{"unknown field", `{"name":"Dune","extra":1}`, "malformed JSON body"},
		{"two values", `{"name":"Dune"}{"name":"Emma"}`, "single JSON value"},
		{"missing field", `{}`, `name failed on "required"`},
		{"too long", `{"name":"Middlemarch"}`, `name failed on "max"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload

			err := httpx.ReadJSON(httptest.NewRecorder(), req, &dst)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "Dune", dst.Name)
				return
			}
			assert.ErrorIs(t, err, errs.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
