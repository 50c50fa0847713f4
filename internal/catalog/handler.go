// internal/catalog/handler.go
package catalog

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarycatalog/internal/errs"
	"librarycatalog/internal/httpx"
)

const dateLayout = "2006-01-02"

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes registers author and book endpoints. Listing books is served by circulation,
// since the listing carries derived availability.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/author", h.HandleListAuthors)
	r.Post("/author", h.HandleCreateAuthor)
	r.Get("/author/{id}", h.HandleGetAuthor)
	r.Patch("/author/{id}", h.HandleUpdateAuthor)
	r.Delete("/author/{id}", h.HandleDeleteAuthor)

	r.Post("/books", h.HandleAddBook)
	r.Get("/books/{id}", h.HandleGetBook)
	r.Patch("/books/{id}", h.HandleUpdateBook)
	r.Delete("/books/{id}", h.HandleRemoveBook)
}

type authorRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Biography   *string `json:"biography" validate:"omitempty,max=5000"`
	Nationality *string `json:"nationality" validate:"omitempty,max=100"`
	BirthDate   *string `json:"birthDate" validate:"omitempty,datetime=2006-01-02"`
}

type bookRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=300"`
	ISBN        *string `json:"isbn" validate:"omitempty,min=10,max=20"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	Genre       *string `json:"genre" validate:"omitempty,max=100"`
	PublishedAt *string `json:"publishedAt" validate:"omitempty,datetime=2006-01-02"`
	AuthorID    *string `json:"authorId" validate:"omitempty,uuid"`
}

func (h *Handler) HandleListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.ListAuthors(r.Context())
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"authors": authors})
}

func (h *Handler) HandleCreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	patch, err := req.patch()
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	var author Author
	patch.apply(&author)

	created, err := h.service.CreateAuthor(r.Context(), author)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusCreated, httpx.Envelope{"author": created})
}

func (h *Handler) HandleGetAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	author, err := h.service.GetAuthor(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"author": author})
}

func (h *Handler) HandleUpdateAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	var req authorRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	author, err := h.service.UpdateAuthor(r.Context(), id, patch)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"author": author})
}

func (h *Handler) HandleDeleteAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	if err := h.service.DeleteAuthor(r.Context(), id); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	var book Book
	patch.apply(&book)

	created, err := h.service.AddBook(r.Context(), book)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusCreated, httpx.Envelope{"book": created})
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"book": book})
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	var req bookRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	h.write(w, r, http.StatusOK, httpx.Envelope{"book": book})
}

func (h *Handler) HandleRemoveBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, body httpx.Envelope) {
	if err := httpx.WriteJSON(w, status, body); err != nil {
		h.logger.ErrorContext(r.Context(), "write response", slog.String("error", err.Error()))
	}
}

func (req authorRequest) patch() (AuthorPatch, error) {
	birth, err := parseDate(req.BirthDate)
	if err != nil {
		return AuthorPatch{}, err
	}
	return AuthorPatch{
		Name:        req.Name,
		Biography:   req.Biography,
		Nationality: req.Nationality,
		BirthDate:   birth,
	}, nil
}

func (req bookRequest) patch() (BookPatch, error) {
	published, err := parseDate(req.PublishedAt)
	if err != nil {
		return BookPatch{}, err
	}
	p := BookPatch{
		Title:       req.Title,
		ISBN:        req.ISBN,
		Description: req.Description,
		Genre:       req.Genre,
		PublishedAt: published,
	}
	if req.AuthorID != nil {
		id, err := uuid.Parse(*req.AuthorID)
		if err != nil {
			return BookPatch{}, errs.InvalidInput("catalog.request", "invalid authorId")
		}
		p.AuthorID = &id
	}
	return p, nil
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil, errs.InvalidInput("catalog.request", "dates must use YYYY-MM-DD")
	}
	return &t, nil
}
