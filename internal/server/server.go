// internal/server/server.go
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"librarycatalog/internal/auth"
	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/httpx"
	"librarycatalog/internal/membership"
	"librarycatalog/internal/store/breaker"
)

// Stores is the persistence the services are built on. The memory and
// Postgres stores both satisfy every field.
type Stores struct {
	Users   membership.Store
	Catalog catalog.Store
	Loans   circulation.LoanStore
	OnLoan  catalog.ActiveLoanChecker
	Journal eventstore.Store
	Ping    func(context.Context) error
}

type Settings struct {
	LoanPeriod     time.Duration
	AuthRatePerMin int
	AuthRateBurst  int
	Breaker        breaker.Settings
}

type Services struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service
}

// NewServices wires the three services. Circulation reads go through circuit breakers.
func NewServices(stores Stores, s Settings, logger *slog.Logger) Services {
	bookSettings, loanSettings := s.Breaker, s.Breaker
	bookSettings.Name, loanSettings.Name = "books", "loans"

	books := breaker.NewBookStore(stores.Catalog, breaker.New(bookSettings, logger))
	loans := breaker.NewLoanStore(stores.Loans, breaker.New(loanSettings, logger))

	circOpts := []circulation.Option{
		circulation.WithLogger(logger),
		circulation.WithLoanPeriod(s.LoanPeriod),
	}
	if stores.Journal != nil {
		circOpts = append(circOpts, circulation.WithJournal(stores.Journal))
	}

	memberOpts := []membership.Option{membership.WithLogger(logger)}
	if s.AuthRatePerMin > 0 && s.AuthRateBurst > 0 {
		memberOpts = append(memberOpts, membership.WithRateLimit(rate.Every(time.Minute/time.Duration(s.AuthRatePerMin)), s.AuthRateBurst))
	}

	return Services{
		Catalog:     catalog.NewService(stores.Catalog, stores.OnLoan, catalog.WithLogger(logger)),
		Membership:  membership.NewService(stores.Users, memberOpts...),
		Circulation: circulation.NewService(books, stores.Users, loans, circOpts...),
	}
}

// Tokens issues and verifies access tokens.
type Tokens interface {
	membership.TokenIssuer
	auth.Verifier
}

// New builds the HTTP handler. ping backs /healthz and may be nil.
func New(svcs Services, tokens Tokens, ping func(context.Context) error, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz(ping, logger))

	members := membership.NewHandler(svcs.Membership, tokens, logger)
	members.PublicRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens, logger))

		members.Routes(r)
		catalog.NewHandler(svcs.Catalog, logger).Routes(r)
		circulation.NewHandler(svcs.Circulation, logger).Routes(r)
	})

	return r
}

func healthz(ping func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				httpx.Error(w, r, logger, errs.Unavailable("server.healthz", err))
				return
			}
		}
		if err := httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{"status": "ok"}); err != nil {
			logger.ErrorContext(r.Context(), "write response", slog.String("error", err.Error()))
		}
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.DebugContext(r.Context(), "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
