// internal/store/postgres/loans.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/store/pgerr"
)

const tableLoans = "loans"

var loanColumns = []any{"id", "book_id", "user_id", "borrowed_at", "due_at", "returned_at"}

// CreateLoan inserts a loan. The row is selected from the book while the book is
// active and share-locked, so a concurrent RetireBook either waits for the loan or
// leaves nothing to insert. A second active loan for the same book trips the
// loans_one_active_per_book index and comes back as a conflict.
func (s *Store) CreateLoan(ctx context.Context, loan *circulation.Loan) error {
	const op = "postgres.create_loan"

	source := dialect.From(tableBooks).
		Select(
			goqu.Cast(goqu.V(loan.ID), "UUID"),
			goqu.C("id"),
			goqu.Cast(goqu.V(loan.UserID), "UUID"),
			goqu.Cast(goqu.V(loan.BorrowedAt), "TIMESTAMPTZ"),
			goqu.Cast(goqu.V(loan.DueAt), "TIMESTAMPTZ"),
			goqu.Cast(goqu.V(loan.ReturnedAt), "TIMESTAMPTZ"),
		).
		Where(goqu.C("id").Eq(loan.BookID), goqu.C("status").Eq(catalog.BookStatusActive)).
		ForShare(exp.Wait)

	query, args, err := toSQL(op, dialect.Insert(tableLoans).Prepared(true).
		Cols(loanColumns...).
		FromQuery(source))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if constraint, ok := pgerr.ForeignKeyViolation(err); ok && constraint == "loans_user_id_fkey" {
		return errs.NotFound(op, "user", loan.UserID)
	}
	if _, ok := pgerr.UniqueViolation(err); ok {
		e := errs.Conflict(op, "book", loan.BookID, "book currently on loan")
		e.Err = err
		return e
	}
	if err != nil {
		return classify(op, "loan", loan.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, "loan", loan.ID, err)
	}
	if n == 0 {
		// Missing and retired books both select no row.
		return errs.NotFound(op, "book", loan.BookID)
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*circulation.Loan, error) {
	const op = "postgres.get_loan"

	query, args, err := toSQL(op, dialect.From(tableLoans).Prepared(true).
		Select(loanColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var loan circulation.Loan
	if err := s.db.GetContext(ctx, &loan, query, args...); err != nil {
		return nil, classify(op, "loan", id, err)
	}
	return &loan, nil
}

func (s *Store) FindActiveLoan(ctx context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	const op = "postgres.find_active_loan"

	query, args, err := toSQL(op, dialect.From(tableLoans).Prepared(true).
		Select(loanColumns...).
		Where(goqu.C("book_id").Eq(bookID), goqu.C("returned_at").IsNull()))
	if err != nil {
		return nil, err
	}

	var loan circulation.Loan
	err = s.db.GetContext(ctx, &loan, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, "book", bookID, err)
	}
	return &loan, nil
}

func (s *Store) HasActiveLoan(ctx context.Context, bookID uuid.UUID) (bool, error) {
	const op = "postgres.has_active_loan"

	active := dialect.From(tableLoans).
		Select(goqu.L("1")).
		Where(goqu.C("book_id").Eq(bookID), goqu.C("returned_at").IsNull())
	query, args, err := toSQL(op, dialect.Select(goqu.L("EXISTS ?", active)).Prepared(true))
	if err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, classify(op, "book", bookID, err)
	}
	return exists, nil
}

// MarkReturned closes the loan only while it is still open. When no row changes the
// loan is looked up again to report NotFound or InvalidState.
func (s *Store) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) (*circulation.Loan, error) {
	const op = "postgres.mark_returned"

	query, args, err := toSQL(op, dialect.Update(tableLoans).Prepared(true).
		Set(goqu.Record{"returned_at": returnedAt}).
		Where(goqu.C("id").Eq(id), goqu.C("returned_at").IsNull()).
		Returning(loanColumns...))
	if err != nil {
		return nil, err
	}

	var loan circulation.Loan
	err = s.db.GetContext(ctx, &loan, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.GetLoan(ctx, id); err != nil {
			return nil, errs.WithOp(op, err)
		}
		return nil, errs.InvalidState(op, "loan", id, "loan is not active")
	}
	if err != nil {
		return nil, classify(op, "loan", id, err)
	}
	return &loan, nil
}

func (s *Store) ListLoansByUser(ctx context.Context, userID uuid.UUID) ([]*circulation.Loan, error) {
	const op = "postgres.list_loans_by_user"

	query, args, err := toSQL(op, dialect.From(tableLoans).Prepared(true).
		Select(loanColumns...).
		Where(goqu.C("user_id").Eq(userID)).
		Order(goqu.C("borrowed_at").Desc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, err
	}

	loans := []*circulation.Loan{}
	if err := s.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, classify(op, "user", userID, err)
	}
	return loans, nil
}

// ActiveBookIDs returns the subset of bookIDs that currently have an open loan.
func (s *Store) ActiveBookIDs(ctx context.Context, bookIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	const op = "postgres.active_book_ids"

	out := make(map[uuid.UUID]struct{})
	if len(bookIDs) == 0 {
		return out, nil
	}

	query, args, err := toSQL(op, dialect.From(tableLoans).Prepared(true).
		Select("book_id").
		Where(goqu.C("book_id").In(uuidStrings(bookIDs)), goqu.C("returned_at").IsNull()))
	if err != nil {
		return nil, err
	}

	var active []uuid.UUID
	if err := s.db.SelectContext(ctx, &active, query, args...); err != nil {
		return nil, classify(op, "loan", nil, err)
	}
	for _, id := range active {
		out[id] = struct{}{}
	}
	return out, nil
}
