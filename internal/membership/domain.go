// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered library user. It is the borrower identity for loans.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Credential represents a user's login credentials.
type Credential struct {
	UserID       uuid.UUID `json:"-" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
}
