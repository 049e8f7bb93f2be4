// Package guard decides whether items and accounts may be deleted without
// losing reservation history or stranding a lent-out item.
package guard

import (
	"context"
	"fmt"
	"log/slog"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/membership"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
)

// ItemDecision is the outcome of GuardDeleteItem.
type ItemDecision string

const (
	HardDelete ItemDecision = "hard_delete"
	SoftDelete ItemDecision = "soft_delete"
	RejectItem ItemDecision = "reject"
)

// AccountDecision is the outcome of GuardDeleteAccount.
type AccountDecision string

const (
	Allow         AccountDecision = "allow"
	RejectAccount AccountDecision = "reject"
)

// DecideItem: any unreturned reservation rejects, history made only of
// returned reservations soft-deletes, no history at all hard-deletes.
func DecideItem(history []circulation.Reservation) ItemDecision {
	for _, r := range history {
		if !r.Returned {
			return RejectItem
		}
	}
	if len(history) > 0 {
		return SoftDelete
	}
	return HardDelete
}

// DecideAccount rejects only while the account has an item rented out.
// Held reservations do not block; they are removed along with the account.
func DecideAccount(history []circulation.Reservation) AccountDecision {
	for _, r := range history {
		if r.Rented {
			return RejectAccount
		}
	}
	return Allow
}

// Repository is the persistence the guard needs. The Apply methods run
// decide under the same serialization point Reserve uses, so the decision
// and the write see one consistent history.
type Repository interface {
	GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*membership.Account, error)
	ItemReservations(ctx context.Context, itemID uuid.UUID) ([]circulation.Reservation, error)
	AccountReservations(ctx context.Context, accountID uuid.UUID) ([]circulation.Reservation, error)

	// ApplyItemDecision hard-deletes the item on HardDelete and sets
	// permanently_unavailable on SoftDelete. Any other decision writes nothing.
	ApplyItemDecision(ctx context.Context, itemID uuid.UUID, decide func(history []circulation.Reservation) (ItemDecision, error)) error
	// ApplyAccountDecision deletes the account, its credential and its
	// reservations on Allow.
	ApplyAccountDecision(ctx context.Context, accountID uuid.UUID, decide func(history []circulation.Reservation) (AccountDecision, error)) error
}

type Guard struct {
	repo    Repository
	journal eventstore.Journal
	log     *slog.Logger
}

// New creates a guard. journal may be nil.
func New(repo Repository, journal eventstore.Journal, log *slog.Logger) *Guard {
	return &Guard{repo: repo, journal: journal, log: log}
}

// GuardDeleteItem previews what deleting the item would do.
func (g *Guard) GuardDeleteItem(ctx context.Context, itemID uuid.UUID) (ItemDecision, error) {
	if _, err := g.repo.GetItem(ctx, itemID); err != nil {
		return "", err
	}
	history, err := g.repo.ItemReservations(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("reservations of item %s: %w", itemID, err)
	}
	return DecideItem(history), nil
}

// GuardDeleteAccount previews whether the account may be deleted.
func (g *Guard) GuardDeleteAccount(ctx context.Context, accountID uuid.UUID) (AccountDecision, error) {
	if _, err := g.repo.GetAccount(ctx, accountID); err != nil {
		return "", err
	}
	history, err := g.repo.AccountReservations(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("reservations of account %s: %w", accountID, err)
	}
	return DecideAccount(history), nil
}

// DeleteItem applies the item decision and reports which one was taken.
// A rejection surfaces as Conflict(HasReservations).
func (g *Guard) DeleteItem(ctx context.Context, itemID uuid.UUID) (ItemDecision, error) {
	var decision ItemDecision
	err := g.repo.ApplyItemDecision(ctx, itemID, func(history []circulation.Reservation) (ItemDecision, error) {
		decision = DecideItem(history)
		if decision == RejectItem {
			return decision, apperror.Conflict(apperror.ReasonHasReservations,
				"item %s has unreturned reservations", itemID)
		}
		return decision, nil
	})
	if err != nil {
		return decision, err
	}

	switch decision {
	case HardDelete:
		g.record(ctx, itemID, "item", "ItemDeleted")
	case SoftDelete:
		g.record(ctx, itemID, "item", "ItemRetired")
	}
	g.log.InfoContext(ctx, "item deleted", "item_id", itemID, "decision", decision)
	return decision, nil
}

// DeleteAccount removes the account when it has nothing rented out.
// A rejection surfaces as Conflict(RentedItems).
func (g *Guard) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	err := g.repo.ApplyAccountDecision(ctx, accountID, func(history []circulation.Reservation) (AccountDecision, error) {
		decision := DecideAccount(history)
		if decision == RejectAccount {
			return decision, apperror.Conflict(apperror.ReasonRentedItems,
				"account %s has rented items", accountID)
		}
		return decision, nil
	})
	if err != nil {
		return err
	}

	g.record(ctx, accountID, "account", "AccountDeleted")
	g.log.InfoContext(ctx, "account deleted", "account_id", accountID)
	return nil
}

type deletedEvent struct {
	ID uuid.UUID `json:"id"`
}

// record appends a terminal event at the end of the aggregate's stream.
func (g *Guard) record(ctx context.Context, id uuid.UUID, aggregate, eventType string) {
	if g.journal == nil {
		return
	}
	events, err := g.journal.LoadEvents(ctx, id, 0, 0)
	if err == nil {
		err = eventstore.Record(ctx, g.journal, id, aggregate, len(events), eventType, deletedEvent{ID: id})
	}
	if err != nil {
		g.log.ErrorContext(ctx, "failed to journal deletion",
			"aggregate_id", id, "event_type", eventType, "error", err)
	}
}
