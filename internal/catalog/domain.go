// internal/catalog/domain.go
package catalog

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	BookStatusActive  = "active"
	BookStatusRetired = "retired"
)

// Author writes books. One author has many books; the book holds the reference.
type Author struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Biography   string     `json:"biography,omitempty" db:"biography"`
	Nationality string     `json:"nationality,omitempty" db:"nationality"`
	BirthDate   *time.Time `json:"birthDate,omitempty" db:"birth_date"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// Book is a single catalog record. Whether it is currently borrowed is derived from loans, never stored here.
type Book struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	ISBN        string     `json:"isbn" db:"isbn"`
	Description string     `json:"description,omitempty" db:"description"`
	Genre       string     `json:"genre,omitempty" db:"genre"`
	PublishedAt *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	AuthorID    uuid.UUID  `json:"authorId" db:"author_id"`
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// Retired reports whether the book was removed from the catalog.
func (b *Book) Retired() bool {
	return b.Status == BookStatusRetired
}

// BookFilter narrows ListBooks. Zero values mean "no restriction".
type BookFilter struct {
	IDs            []uuid.UUID
	AuthorID       *uuid.UUID
	Genre          string
	Query          string
	IncludeRetired bool
}

// Matches applies the filter to a single book. Stores that cannot push the filter down use it directly.
func (f BookFilter) Matches(b *Book) bool {
	if !f.IncludeRetired && b.Retired() {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, b.ID) {
		return false
	}
	if f.AuthorID != nil && b.AuthorID != *f.AuthorID {
		return false
	}
	if f.Genre != "" && !equalFold(b.Genre, f.Genre) {
		return false
	}
	if f.Query != "" && !containsFold(b.Title, f.Query) {
		return false
	}
	return true
}

// BookPatch carries a partial update; nil fields are left untouched.
type BookPatch struct {
	Title       *string
	ISBN        *string
	Description *string
	Genre       *string
	PublishedAt *time.Time
	AuthorID    *uuid.UUID
}

// AuthorPatch carries a partial update; nil fields are left untouched.
type AuthorPatch struct {
	Name        *string
	Biography   *string
	Nationality *string
	BirthDate   *time.Time
}

func (p AuthorPatch) apply(a *Author) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Biography != nil {
		a.Biography = *p.Biography
	}
	if p.Nationality != nil {
		a.Nationality = *p.Nationality
	}
	if p.BirthDate != nil {
		a.BirthDate = p.BirthDate
	}
}

func (p BookPatch) apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.PublishedAt != nil {
		b.PublishedAt = p.PublishedAt
	}
	if p.AuthorID != nil {
		b.AuthorID = *p.AuthorID
	}
}
