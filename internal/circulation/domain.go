// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldDuration is how long a new reservation blocks its item before it lapses.
const HoldDuration = 48 * time.Hour

// Reservation is a time-boxed claim by one account on one item.
// Returned is terminal and supersedes Rented.
type Reservation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ItemID    uuid.UUID `json:"item_id" db:"item_id"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Rented    bool      `json:"rented" db:"rented"`
	Returned  bool      `json:"returned" db:"returned"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// State is the lifecycle position of a reservation, computed at read time.
type State string

const (
	StateHeld     State = "held"
	StateLapsed   State = "lapsed"
	StateRented   State = "rented"
	StateReturned State = "returned"
)

func (r Reservation) State(now time.Time) State {
	switch {
	case r.Returned:
		return StateReturned
	case r.Rented:
		return StateRented
	case IsLapsed(r, now):
		return StateLapsed
	default:
		return StateHeld
	}
}

// View is a reservation as listed to callers, with its computed state.
type View struct {
	Reservation
	State State `json:"state"`
}

// ItemSummary is what search yields for an available item.
type ItemSummary struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	Publisher string          `json:"publisher"`
	Price     decimal.Decimal `json:"price"`
}

// Filter selects reservations for listings. Zero values match everything.
type Filter struct {
	AccountID uuid.UUID
	States    []State
}

// Query is the stored-flag subset of a Filter a repository can evaluate.
type Query struct {
	AccountID uuid.UUID
	Rented    *bool
	Returned  *bool
}

// ItemReservedEvent is recorded when a hold is created.
type ItemReservedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ItemID        uuid.UUID `json:"item_id"`
	AccountID     uuid.UUID `json:"account_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReservationRentedEvent is recorded when staff hand the item out.
type ReservationRentedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ItemID        uuid.UUID `json:"item_id"`
	Lapsed        bool      `json:"lapsed,omitempty"`
}

// ReservationReturnedEvent is recorded when the item comes back.
type ReservationReturnedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ItemID        uuid.UUID `json:"item_id"`
	ReturnedAt    time.Time `json:"returned_at"`
}

// ReservationCancelledEvent is recorded when a reservation is deleted,
// by a caller or by the reaper.
type ReservationCancelledEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ItemID        uuid.UUID `json:"item_id"`
	State         State     `json:"state"`
	Reaped        bool      `json:"reaped,omitempty"`
}
