// internal/store/postgres/catalog.go
package postgres

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/store/pgerr"
)

const (
	tableAuthors = "authors"
	tableBooks   = "books"
)

var (
	authorColumns = []any{"id", "name", "biography", "nationality", "birth_date", "created_at", "updated_at"}
	bookColumns   = []any{"id", "title", "isbn", "description", "genre", "published_at", "author_id", "status", "created_at", "updated_at"}
)

func (s *Store) CreateAuthor(ctx context.Context, author *catalog.Author) error {
	const op = "postgres.create_author"

	query, args, err := toSQL(op, dialect.Insert(tableAuthors).Prepared(true).Rows(author))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return classify(op, "author", author.ID, err)
}

func (s *Store) GetAuthor(ctx context.Context, id uuid.UUID) (*catalog.Author, error) {
	const op = "postgres.get_author"

	query, args, err := toSQL(op, dialect.From(tableAuthors).Prepared(true).
		Select(authorColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var author catalog.Author
	if err := s.db.GetContext(ctx, &author, query, args...); err != nil {
		return nil, classify(op, "author", id, err)
	}
	return &author, nil
}

func (s *Store) ListAuthors(ctx context.Context) ([]*catalog.Author, error) {
	const op = "postgres.list_authors"

	query, args, err := toSQL(op, dialect.From(tableAuthors).Prepared(true).
		Select(authorColumns...).
		Order(goqu.C("name").Asc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, err
	}

	authors := []*catalog.Author{}
	if err := s.db.SelectContext(ctx, &authors, query, args...); err != nil {
		return nil, classify(op, "author", nil, err)
	}
	return authors, nil
}

// GetAuthors returns the authors among ids that exist. Unknown ids are skipped.
func (s *Store) GetAuthors(ctx context.Context, ids []uuid.UUID) ([]*catalog.Author, error) {
	const op = "postgres.get_authors"

	authors := []*catalog.Author{}
	if len(ids) == 0 {
		return authors, nil
	}

	query, args, err := toSQL(op, dialect.From(tableAuthors).Prepared(true).
		Select(authorColumns...).
		Where(goqu.C("id").In(uuidStrings(ids))))
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &authors, query, args...); err != nil {
		return nil, classify(op, "author", nil, err)
	}
	return authors, nil
}

func (s *Store) UpdateAuthor(ctx context.Context, author *catalog.Author) error {
	const op = "postgres.update_author"

	query, args, err := toSQL(op, dialect.Update(tableAuthors).Prepared(true).
		Set(goqu.Record{
			"name":        author.Name,
			"biography":   author.Biography,
			"nationality": author.Nationality,
			"birth_date":  author.BirthDate,
			"updated_at":  author.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(author.ID)))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify(op, "author", author.ID, err)
	}
	return requireRow(op, "author", author.ID, res)
}

// DeleteAuthor relies on the books foreign key to refuse authors that still have books.
func (s *Store) DeleteAuthor(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.delete_author"

	query, args, err := toSQL(op, dialect.Delete(tableAuthors).Prepared(true).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if _, ok := pgerr.ForeignKeyViolation(err); ok {
		return errs.Conflict(op, "author", id, "author still has books")
	}
	if err != nil {
		return classify(op, "author", id, err)
	}
	return requireRow(op, "author", id, res)
}

func (s *Store) CreateBook(ctx context.Context, book *catalog.Book) error {
	const op = "postgres.create_book"

	query, args, err := toSQL(op, dialect.Insert(tableBooks).Prepared(true).Rows(book))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return bookWriteError(op, book, err)
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	const op = "postgres.get_book"

	query, args, err := toSQL(op, dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var book catalog.Book
	if err := s.db.GetContext(ctx, &book, query, args...); err != nil {
		return nil, classify(op, "book", id, err)
	}
	return &book, nil
}

// ListBooks pushes the filter down to SQL. Title search is a case-insensitive substring match.
func (s *Store) ListBooks(ctx context.Context, filter catalog.BookFilter) ([]*catalog.Book, error) {
	const op = "postgres.list_books"

	where := []goqu.Expression{}
	if !filter.IncludeRetired {
		where = append(where, goqu.C("status").Eq(catalog.BookStatusActive))
	}
	if len(filter.IDs) > 0 {
		where = append(where, goqu.C("id").In(uuidStrings(filter.IDs)))
	}
	if filter.AuthorID != nil {
		where = append(where, goqu.C("author_id").Eq(*filter.AuthorID))
	}
	if filter.Genre != "" {
		where = append(where, goqu.Func("LOWER", goqu.C("genre")).Eq(goqu.Func("LOWER", filter.Genre)))
	}
	if filter.Query != "" {
		where = append(where, goqu.C("title").ILike("%"+escapeLike(filter.Query)+"%"))
	}

	query, args, err := toSQL(op, dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(where...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, err
	}

	books := []*catalog.Book{}
	if err := s.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, classify(op, "book", nil, err)
	}
	return books, nil
}

func (s *Store) UpdateBook(ctx context.Context, book *catalog.Book) error {
	const op = "postgres.update_book"

	query, args, err := toSQL(op, dialect.Update(tableBooks).Prepared(true).
		Set(goqu.Record{
			"title":        book.Title,
			"isbn":         book.ISBN,
			"description":  book.Description,
			"genre":        book.Genre,
			"published_at": book.PublishedAt,
			"author_id":    book.AuthorID,
			"updated_at":   book.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(book.ID)))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return bookWriteError(op, book, err)
	}
	return requireRow(op, "book", book.ID, res)
}

// RetireBook locks the book row before looking for an open loan. CreateLoan
// share-locks the same row, so a borrow either commits first and is seen here
// or runs after the retire and finds no active book.
func (s *Store) RetireBook(ctx context.Context, id uuid.UUID, at time.Time) error {
	const op = "postgres.retire_book"

	lockBook, lockArgs, err := toSQL(op, dialect.From(tableBooks).Prepared(true).
		Select("status").
		Where(goqu.C("id").Eq(id)).
		ForUpdate(exp.Wait))
	if err != nil {
		return err
	}
	activeLoan := dialect.From(tableLoans).
		Select(goqu.L("1")).
		Where(goqu.C("book_id").Eq(id), goqu.C("returned_at").IsNull())
	hasLoan, hasArgs, err := toSQL(op, dialect.Select(goqu.L("EXISTS ?", activeLoan)).Prepared(true))
	if err != nil {
		return err
	}
	retire, retireArgs, err := toSQL(op, dialect.Update(tableBooks).Prepared(true).
		Set(goqu.Record{"status": catalog.BookStatusRetired, "updated_at": at}).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify(op, "book", id, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var status string
	if err := tx.GetContext(ctx, &status, lockBook, lockArgs...); err != nil {
		return classify(op, "book", id, err)
	}
	if status == catalog.BookStatusRetired {
		return errs.NotFound(op, "book", id)
	}

	var onLoan bool
	if err := tx.GetContext(ctx, &onLoan, hasLoan, hasArgs...); err != nil {
		return classify(op, "book", id, err)
	}
	if onLoan {
		return errs.Conflict(op, "book", id, "book currently on loan")
	}

	if _, err := tx.ExecContext(ctx, retire, retireArgs...); err != nil {
		return classify(op, "book", id, err)
	}
	return classify(op, "book", id, tx.Commit())
}

func bookWriteError(op string, book *catalog.Book, err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := pgerr.ForeignKeyViolation(err); ok && constraint == "books_author_id_fkey" {
		return errs.NotFound(op, "author", book.AuthorID)
	}
	return classify(op, "book", book.ID, err)
}

func requireRow(op, entity string, id uuid.UUID, res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, entity, id, err)
	}
	if n == 0 {
		return errs.NotFound(op, entity, id)
	}
	return nil
}

func escapeLike(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
