// internal/auth/token.go
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"librarycatalog/internal/errs"
)

const issuerName = "librarycatalog"

var ErrEmptySecret = errors.New("jwt secret must not be empty")

// Issuer signs and verifies HS256 access tokens whose subject is the user id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock replaces time.Now when stamping tokens.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(secret string, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	i := &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue returns a signed token for userID and its expiry.
func (i *Issuer) Issue(userID uuid.UUID) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks signature, algorithm, issuer and expiry, and returns the user id.
func (i *Issuer) Verify(token string) (uuid.UUID, error) {
	const op = "auth.verify"

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, &errs.Error{Kind: errs.KindUnauthorized, Op: op, Reason: "invalid token", Err: err}
	}
	if !claims.VerifyIssuer(issuerName, true) {
		return uuid.Nil, errs.Unauthorized(op, "invalid token issuer")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.Unauthorized(op, "invalid token subject")
	}
	return userID, nil
}
