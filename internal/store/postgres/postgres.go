// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers "postgres"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/eventstore"
	"librarycatalog/internal/membership"
	"librarycatalog/internal/store/pgerr"
)

// Supported database/sql driver names.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

// Store implements every record store on top of PostgreSQL.
// Loan uniqueness is enforced by the loans_one_active_per_book partial index, so
// concurrent borrowers in separate processes still get exactly one active loan.
type Store struct {
	db *sqlx.DB
}

var (
	_ membership.Store          = (*Store)(nil)
	_ catalog.Store             = (*Store)(nil)
	_ catalog.ActiveLoanChecker = (*Store)(nil)
	_ circulation.LoanStore     = (*Store)(nil)
	_ circulation.BookStore     = (*Store)(nil)
	_ circulation.UserStore     = (*Store)(nil)
)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// OpenOption tunes Open.
type OpenOption func(*openConfig)

type openConfig struct {
	maxOpenConns int
	maxIdleConns int
	connMaxLife  time.Duration
	pingTries    uint
	logger       *slog.Logger
}

func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) OpenOption {
	return func(c *openConfig) {
		c.maxOpenConns = maxOpen
		c.maxIdleConns = maxIdle
		c.connMaxLife = maxLifetime
	}
}

// WithPingTries bounds how many times Open pings the database before giving up.
func WithPingTries(n uint) OpenOption {
	return func(c *openConfig) {
		c.pingTries = n
	}
}

func WithLogger(logger *slog.Logger) OpenOption {
	return func(c *openConfig) {
		c.logger = logger
	}
}

// Open connects with the given driver and waits, with exponential backoff, until the database answers.
func Open(ctx context.Context, driver, dsn string, opts ...OpenOption) (*sqlx.DB, error) {
	cfg := openConfig{
		maxOpenConns: 25,
		maxIdleConns: 5,
		connMaxLife:  30 * time.Minute,
		pingTries:    5,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch driver {
	case DriverPQ, DriverPGX:
	default:
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLife)

	ping := func() (struct{}, error) {
		err := db.PingContext(ctx)
		if err != nil {
			cfg.logger.WarnContext(ctx, "database not ready", slog.String("error", err.Error()))
		}
		return struct{}{}, err
	}
	if _, err := backoff.Retry(ctx, ping,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.pingTries),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the record tables and the loan journal if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := append(splitStatements(schema), splitStatements(eventstore.Schema)...)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.Unavailable("postgres.ping", err)
	}
	return nil
}

// toSQL renders a goqu builder as a prepared statement with positional args.
func toSQL(op string, b interface {
	ToSQL() (string, []any, error)
}) (string, []any, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	return query, args, nil
}

// classify maps driver errors onto errs kinds. Constraint violations come back as
// conflicts, connection trouble as unavailable; anything else is returned wrapped.
func classify(op, entity string, id fmt.Stringer, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(op, entity, id)
	}
	if constraint, ok := pgerr.UniqueViolation(err); ok {
		e := errs.Conflict(op, entity, id, uniqueReason(constraint))
		e.Err = err
		return e
	}
	if constraint, ok := pgerr.ForeignKeyViolation(err); ok {
		e := errs.Conflict(op, entity, id, "violates "+constraint)
		e.Err = err
		return e
	}
	if pgerr.Transient(err) {
		return errs.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// uuidStrings renders ids for IN lists; both drivers bind text to UUID columns.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func uniqueReason(constraint string) string {
	switch constraint {
	case "loans_one_active_per_book":
		return "book currently on loan"
	case "books_isbn_key":
		return "isbn already catalogued"
	case "users_email_key":
		return "email already registered"
	default:
		return "already exists"
	}
}
