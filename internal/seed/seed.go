// internal/seed/seed.go
package seed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/errs"
	"librarycatalog/internal/membership"
)

// DemoPassword is shared by every demo user.
const DemoPassword = "password123"

type demoUser struct {
	email, name string
}

type demoBook struct {
	title, isbn, description, genre string
	publishedAt                     time.Time
}

type demoAuthor struct {
	name, biography, nationality string
	birthDate                    time.Time
	books                        []demoBook
}

var users = []demoUser{
	{email: "john@example.com", name: "John Doe"},
	{email: "jane@example.com", name: "Jane Doe"},
}

var authors = []demoAuthor{
	{
		name:        "J.K. Rowling",
		biography:   "British author, best known for the Harry Potter series.",
		nationality: "British",
		birthDate:   date(1965, time.July, 31),
		books: []demoBook{{
			title:       "Harry Potter and the Philosopher's Stone",
			isbn:        "978-0747532743",
			description: "The first novel in the Harry Potter series.",
			genre:       "Fantasy",
			publishedAt: date(1997, time.June, 26),
		}},
	},
	{
		name:        "George R.R. Martin",
		biography:   "American novelist and short story writer.",
		nationality: "American",
		birthDate:   date(1948, time.September, 20),
		books: []demoBook{{
			title:       "A Game of Thrones",
			isbn:        "978-0553103540",
			description: "The first novel in A Song of Ice and Fire.",
			genre:       "Fantasy",
			publishedAt: date(1996, time.August, 1),
		}},
	},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Demo loads the demo users, authors and books. Records that already exist are
// left alone, so running it twice is harmless.
func Demo(ctx context.Context, members membership.Service, books catalog.Service, logger *slog.Logger) error {
	for _, u := range users {
		_, err := members.Register(ctx, u.email, u.name, DemoPassword)
		switch {
		case err == nil:
			logger.InfoContext(ctx, "seeded user", slog.String("email", u.email))
		case errors.Is(err, errs.ErrConflict):
		default:
			return err
		}
	}

	existing, err := books.ListAuthors(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*catalog.Author, len(existing))
	for _, a := range existing {
		byName[a.Name] = a
	}

	for _, da := range authors {
		author, ok := byName[da.name]
		if !ok {
			birth := da.birthDate
			author, err = books.CreateAuthor(ctx, catalog.Author{
				Name:        da.name,
				Biography:   da.biography,
				Nationality: da.nationality,
				BirthDate:   &birth,
			})
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "seeded author", slog.String("name", author.Name))
		}

		for _, db := range da.books {
			published := db.publishedAt
			book, err := books.AddBook(ctx, catalog.Book{
				Title:       db.title,
				ISBN:        db.isbn,
				Description: db.description,
				Genre:       db.genre,
				PublishedAt: &published,
				AuthorID:    author.ID,
			})
			switch {
			case err == nil:
				logger.InfoContext(ctx, "seeded book", slog.String("title", book.Title))
			case errors.Is(err, errs.ErrConflict):
			default:
				return err
			}
		}
	}
	return nil
}
