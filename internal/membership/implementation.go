// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"librarycatalog/internal/errs"
)

const minPasswordLen = 8

// registerBucket is the limiter key for signups. It cannot collide with an
// email, which always contains "@".
const registerBucket = "register"

// service implements the Service interface.
type service struct {
	store    Store
	limiters *limiters
	logger   *slog.Logger
	now         func() time.Time
}

// Option configures the membership service.
type Option func(*service)

// WithRateLimit limits calls to r per second with the given burst. Authenticate
// is limited per email address; Register shares one bucket across all callers.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *service) {
		s.limiters = newLimiters(r, burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates a new membership service instance.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:    store,
		limiters: newLimiters(rate.Every(time.Minute/30), 10),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user.
func (s *service) Register(ctx context.Context, email, name, password string) (*User, error) {
	const op = "membership.register"

	if !s.limiters.allow(registerBucket, s.now()) {
		return nil, errs.RateLimited(op)
	}

	email, err := normalizeEmail(op, email)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.InvalidInput(op, "name is required")
	}
	if len(password) < minPasswordLen {
		return nil, errs.InvalidInput(op, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &User{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	credential := &Credential{
		UserID:       user.ID,
		PasswordHash: passwordHash,
		Salt:         salt,
	}

	if err := s.store.CreateUser(ctx, user, credential); err != nil {
		return nil, errs.WithOp(op, err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID.String()))
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	const op = "membership.authenticate"

	email = strings.ToLower(strings.TrimSpace(email))
	if !s.limiters.allow(email, s.now()) {
		return nil, errs.RateLimited(op)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Unauthorized(op, "invalid credentials")
	}
	if err != nil {
		return nil, errs.WithOp(op, err)
	}

	credential, err := s.store.GetCredential(ctx, user.ID)
	if err != nil {
		return nil, errs.WithOp(op, err)
	}

	ok, err := verifyPassword(password, credential)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "failed login", slog.String("user_id", user.ID.String()))
		return nil, errs.Unauthorized(op, "invalid credentials")
	}

	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, errs.WithOp("membership.get_user", err)
	}
	return user, nil
}

func normalizeEmail(op, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errs.InvalidInput(op, "a valid email is required")
	}
	return email, nil
}
