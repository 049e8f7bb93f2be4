// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterAccount(ctx context.Context, reg Registration) (*Account, error)
	Authenticate(ctx context.Context, username, password string) (*Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) (*Account, error)
}

// Repository is the persistence membership needs.
type Repository interface {
	// InsertAccount fails with a Duplicate conflict when username or email is taken.
	InsertAccount(ctx context.Context, account *Account, credential *Credential) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	GetCredential(ctx context.Context, accountID uuid.UUID) (*Credential, error)
	UpdateAccount(ctx context.Context, account *Account, expectedVersion int) error
}
