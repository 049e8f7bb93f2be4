// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

// Account is a registered holder of reservations.
type Account struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Phone     string    `json:"phone" db:"phone"`
	Admin     bool      `json:"admin" db:"admin"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Credential represents an account's login credentials.
type Credential struct {
	AccountID    uuid.UUID `json:"-" db:"account_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
}

// Registration is the input to RegisterAccount.
type Registration struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Password  string
}

// Profile holds the fields an account may change about itself.
type Profile struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// AccountRegisteredEvent is recorded when a new account registers.
type AccountRegisteredEvent struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// ProfileUpdatedEvent is recorded when an account edits its profile.
type ProfileUpdatedEvent struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}
