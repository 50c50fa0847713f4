// internal/store/postgres/users.go
package postgres

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"librarycatalog/internal/membership"
)

const (
	tableUsers       = "users"
	tableCredentials = "credentials"
)

var userColumns = []any{"id", "email", "name", "created_at", "updated_at"}

// CreateUser stores the user and their credential in one transaction.
func (s *Store) CreateUser(ctx context.Context, user *membership.User, credential *membership.Credential) error {
	const op = "postgres.create_user"

	u := *user
	u.Email = strings.ToLower(u.Email)

	insertUser, userArgs, err := toSQL(op, dialect.Insert(tableUsers).Prepared(true).Rows(u))
	if err != nil {
		return err
	}
	insertCred, credArgs, err := toSQL(op, dialect.Insert(tableCredentials).Prepared(true).Rows(credential))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, "user", user.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, insertUser, userArgs...); err != nil {
		return classify(op, "user", user.ID, err)
	}
	if _, err := tx.ExecContext(ctx, insertCred, credArgs...); err != nil {
		return classify(op, "user", user.ID, err)
	}
	return classify(op, "user", user.ID, tx.Commit())
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	const op = "postgres.get_user"

	query, args, err := toSQL(op, dialect.From(tableUsers).Prepared(true).
		Select(userColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var user membership.User
	if err := s.db.GetContext(ctx, &user, query, args...); err != nil {
		return nil, classify(op, "user", id, err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*membership.User, error) {
	const op = "postgres.get_user_by_email"

	query, args, err := toSQL(op, dialect.From(tableUsers).Prepared(true).
		Select(userColumns...).
		Where(goqu.C("email").Eq(strings.ToLower(email))))
	if err != nil {
		return nil, err
	}

	var user membership.User
	if err := s.db.GetContext(ctx, &user, query, args...); err != nil {
		return nil, classify(op, "user", nil, err)
	}
	return &user, nil
}

func (s *Store) GetCredential(ctx context.Context, userID uuid.UUID) (*membership.Credential, error) {
	const op = "postgres.get_credential"

	query, args, err := toSQL(op, dialect.From(tableCredentials).Prepared(true).
		Select("user_id", "password_hash", "salt").
		Where(goqu.C("user_id").Eq(userID)))
	if err != nil {
		return nil, err
	}

	var cred membership.Credential
	if err := s.db.GetContext(ctx, &cred, query, args...); err != nil {
		return nil, classify(op, "credential", userID, err)
	}
	return &cred, nil
}
