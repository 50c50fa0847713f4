// internal/circulation/handler.go
package circulation

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/httpx"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes registers the loan endpoints and the availability-aware book listing.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.HandleListBooks)

	r.Route("/borrowed-books", func(r chi.Router) {
		r.Post("/borrow", h.HandleBorrow)
		r.Post("/return", h.HandleReturn)
		r.Get("/user/{id}", h.HandleListLoansForUser)
		r.Get("/{id}/history", h.HandleLoanHistory)
	})
}

type borrowRequest struct {
	BookID uuid.UUID `json:"bookId" validate:"required"`
}

type returnRequest struct {
	BorrowedBookID uuid.UUID `json:"borrowedBookId" validate:"required"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.Error(w, r, h.logger, errs.Unauthorized("circulation.borrow", "missing user"))
		return
	}

	var req borrowRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Borrow(r.Context(), req.BookID, userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusCreated, httpx.Envelope{"loan": loan})
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	loan, err := h.service.Return(r.Context(), req.BorrowedBookID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"loan": loan})
}

func (h *Handler) HandleListLoansForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	loans, err := h.service.ListLoansForUser(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"loans": loans})
}

func (h *Handler) HandleLoanHistory(w http.ResponseWriter, r *http.Request) {
	loanID, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	events, err := h.service.LoanHistory(r.Context(), loanID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"events": events})
}

// HandleListBooks serves GET /books?authorId=&borrowed=true|false.
// status=available|borrowed is accepted as an alias for the borrowed flag.
func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAvailabilityFilter(r)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	entries, err := h.service.ListAvailableBooks(r.Context(), filter)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"books": entries})
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, body httpx.Envelope) {
	if err := httpx.WriteJSON(w, status, body); err != nil {
		h.logger.ErrorContext(r.Context(), "write response", slog.String("error", err.Error()))
	}
}

func parseAvailabilityFilter(r *http.Request) (AvailabilityFilter, error) {
	const op = "circulation.request"

	var filter AvailabilityFilter
	q := r.URL.Query()

	if raw := q.Get("authorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errs.InvalidInput(op, "invalid authorId")
		}
		filter.AuthorID = &id
	}

	if raw := q.Get("borrowed"); raw != "" {
		borrowed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errs.InvalidInput(op, "borrowed must be true or false")
		}
		filter.Status = StatusAvailable
		if borrowed {
			filter.Status = StatusBorrowed
		}
	}

	if raw := q.Get("status"); raw != "" {
		filter.Status = BorrowedStatus(raw)
	}

	return filter, nil
}
