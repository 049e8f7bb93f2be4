// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddItem(ctx context.Context, fields Fields) (*Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	// UpdateItem fails with a StaleVersion conflict when version is not the stored one.
	UpdateItem(ctx context.Context, id uuid.UUID, fields Fields, version int) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
}

// Repository is the persistence the catalog needs.
type Repository interface {
	InsertItem(ctx context.Context, item *Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*Item, error)
	// UpdateItem writes the item only if the stored version equals expectedVersion,
	// then sets item.Version to the new value.
	UpdateItem(ctx context.Context, item *Item, expectedVersion int) error
	ListItems(ctx context.Context) ([]Item, error)
}
