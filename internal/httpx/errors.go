// internal/httpx/errors.go
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"librarycatalog/internal/errs"
)

// ErrorBody is the JSON shape of a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindInvalidState:
		return http.StatusConflict
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON error envelope. Unknown errors are logged and hidden from the client.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	body := ErrorBody{Kind: errs.KindUnknown.String()}

	var e *errs.Error
	if errors.As(err, &e) && e.Kind != errs.KindUnknown {
		body = ErrorBody{Kind: e.Kind.String(), Message: e.Reason, Entity: e.Entity, ID: e.ID}
		if body.Message == "" {
			body.Message = e.Kind.String()
		}
	} else {
		body.Message = "the server encountered a problem and could not process your request"
	}

	status := StatusFor(errs.KindOf(err))
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), err.Error(),
			slog.String("request_method", r.Method),
			slog.String("request_url", r.URL.String()),
		)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	if werr := WriteJSON(w, status, Envelope{"error": body}); werr != nil {
		logger.ErrorContext(r.Context(), "write error response", slog.String("error", werr.Error()))
	}
}
