// internal/circulation/service.go
package circulation

import (
	"context"
	"iter"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/membership"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
)

// Service defines the interface for the circulation service.
type Service interface {
	// Reserve places a HoldDuration hold. It fails with NotFound when the item
	// or account is missing and Conflict(AlreadyReserved) when the item is not
	// available or another reservation of it is in flight.
	Reserve(ctx context.Context, itemID, accountID uuid.UUID) (*Reservation, error)
	// Rent fails with Conflict(AlreadyReturned) on returned reservations and
	// is a no-op on rented ones.
	Rent(ctx context.Context, id uuid.UUID) error
	// ReturnItem is terminal; repeating it is a no-op.
	ReturnItem(ctx context.Context, id uuid.UUID) error
	// Cancel deletes the reservation whatever its state.
	Cancel(ctx context.Context, id uuid.UUID) error

	GetReservation(ctx context.Context, id uuid.UUID) (*View, error)
	ListReservations(ctx context.Context, filter Filter) ([]View, error)
	History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)

	IsAvailable(ctx context.Context, itemID uuid.UUID) (bool, error)
	Search(ctx context.Context, query string) iter.Seq2[ItemSummary, error]

	// ReapLapsed deletes holds that lapsed at or before now.
	ReapLapsed(ctx context.Context) (int, error)
}

// Repository is the persistence circulation needs.
type Repository interface {
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
	// SearchItems returns items whose title contains query, case-insensitively,
	// in storage order.
	SearchItems(ctx context.Context, query string) ([]catalog.Item, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*membership.Account, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ItemReservations(ctx context.Context, itemID uuid.UUID) ([]Reservation, error)
	ListReservations(ctx context.Context, q Query) ([]Reservation, error)

	// WithinItem runs decide while holding itemID's serialization point and
	// persists the reservation decide returns: inserted when its Version is 0,
	// otherwise written under a version check. A nil reservation writes
	// nothing. When the point is already held it fails at once with
	// Conflict(Busy); it never waits for the holder.
	WithinItem(ctx context.Context, itemID uuid.UUID, decide func(item *catalog.Item, history []Reservation) (*Reservation, error)) (*Reservation, error)
	// UpdateReservation loads the row, lets mutate change it and writes it
	// back under a version check. Losing the check fails with Conflict(Busy).
	// When mutate reports no change nothing is written.
	UpdateReservation(ctx context.Context, id uuid.UUID, mutate func(r *Reservation) (bool, error)) (*Reservation, error)
	// DeleteReservation removes the row and returns it as it was.
	DeleteReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// DeleteLapsed removes every hold lapsed at now and returns them.
	DeleteLapsed(ctx context.Context, now time.Time) ([]Reservation, error)
}
