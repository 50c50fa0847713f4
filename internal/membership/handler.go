// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"librarycatalog/internal/httpx"
)

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID uuid.UUID) (string, time.Time, error)
}

type Handler struct {
	service Service
	tokens  TokenIssuer
	logger  *slog.Logger
}

func NewHandler(service Service, tokens TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, logger: logger}
}

// PublicRoutes registers the endpoints reachable without a token.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/auth/signup", h.HandleSignup)
	r.Post("/auth/login", h.HandleLogin)
}

// Routes registers the endpoints that require a token.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/{id}", h.HandleGetUser)
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user"`
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user)
}

func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	if err := httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{"user": user}); err != nil {
		h.logger.ErrorContext(r.Context(), "write response", slog.String("error", err.Error()))
	}
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *User) {
	token, expires, err := h.tokens.Issue(user.ID)
	if err != nil {
		httpx.Error(w, r, h.logger, err)
		return
	}

	resp := tokenResponse{AccessToken: token, ExpiresAt: expires, User: user}
	if err := httpx.WriteJSON(w, status, resp); err != nil {
		h.logger.ErrorContext(r.Context(), "write response", slog.String("error", err.Error()))
	}
}
