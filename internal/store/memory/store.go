// Package memory is a single-instance store for every repository interface.
// Reservation writes for an item are serialized by a keyed, non-blocking lock.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/lock"
	"bookhold/internal/membership"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	items     map[uuid.UUID]catalog.Item
	itemOrder []uuid.UUID

	accounts    map[uuid.UUID]membership.Account
	credentials map[uuid.UUID]membership.Credential

	reservations     map[uuid.UUID]circulation.Reservation
	reservationOrder []uuid.UUID

	locks *lock.Keyed
}

func NewStore() *Store {
	return &Store{
		items:        make(map[uuid.UUID]catalog.Item),
		accounts:     make(map[uuid.UUID]membership.Account),
		credentials:  make(map[uuid.UUID]membership.Credential),
		reservations: make(map[uuid.UUID]circulation.Reservation),
		locks:        lock.NewKeyed(),
	}
}

var (
	_ catalog.Repository     = (*Store)(nil)
	_ membership.Repository  = (*Store)(nil)
	_ circulation.Repository = (*Store)(nil)
	_ guard.Repository       = (*Store)(nil)
)

// tryLock takes the serialization point for key or fails with Conflict(Busy).
func (s *Store) tryLock(ctx context.Context, key string) (func(), error) {
	release, err := s.locks.TryLock(ctx, key, 0)
	if errors.Is(err, lock.ErrHeld) {
		return nil, apperror.Conflict(apperror.ReasonBusy, "%s is locked by another request", key)
	}
	return release, err
}

func itemKey(id uuid.UUID) string    { return "item:" + id.String() }
func accountKey(id uuid.UUID) string { return "account:" + id.String() }

// Items

func (s *Store) InsertItem(_ context.Context, item *catalog.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return apperror.Conflict(apperror.ReasonDuplicate, "item %s already exists", item.ID)
	}
	s.items[item.ID] = *item
	s.itemOrder = append(s.itemOrder, item.ID)
	return nil
}

func (s *Store) GetItem(_ context.Context, id uuid.UUID) (*catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, apperror.NotFound("item %s not found", id)
	}
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item *catalog.Item, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[item.ID]
	if !ok {
		return apperror.NotFound("item %s not found", item.ID)
	}
	if stored.Version != expectedVersion {
		return apperror.Conflict(apperror.ReasonStaleVersion,
			"item %s is at version %d, not %d", item.ID, stored.Version, expectedVersion)
	}
	item.Version = expectedVersion + 1
	// the soft-delete flag is owned by the guard, not by edits
	item.PermanentlyUnavailable = stored.PermanentlyUnavailable
	s.items[item.ID] = *item
	return nil
}

func (s *Store) ListItems(_ context.Context) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *Store) SearchItems(_ context.Context, query string) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []catalog.Item
	for _, id := range s.itemOrder {
		item := s.items[id]
		if strings.Contains(strings.ToLower(item.Title), q) {
			out = append(out, item)
		}
	}
	return out, nil
}

// Accounts

func (s *Store) InsertAccount(_ context.Context, account *membership.Account, credential *membership.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUniqueLocked(account); err != nil {
		return err
	}
	s.accounts[account.ID] = *account
	s.credentials[account.ID] = *credential
	return nil
}

func (s *Store) checkUniqueLocked(account *membership.Account) error {
	for id, other := range s.accounts {
		if id == account.ID {
			continue
		}
		if strings.EqualFold(other.Username, account.Username) {
			return apperror.Conflict(apperror.ReasonDuplicate, "username %q is taken", account.Username)
		}
		if strings.EqualFold(other.Email, account.Email) {
			return apperror.Conflict(apperror.ReasonDuplicate, "email %q is taken", account.Email)
		}
	}
	return nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*membership.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account %s not found", id)
	}
	return &account, nil
}

func (s *Store) GetAccountByUsername(_ context.Context, username string) (*membership.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Username, username) {
			return &account, nil
		}
	}
	return nil, apperror.NotFound("account %q not found", username)
}

func (s *Store) GetCredential(_ context.Context, accountID uuid.UUID) (*membership.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[accountID]
	if !ok {
		return nil, apperror.NotFound("credential of account %s not found", accountID)
	}
	return &cred, nil
}

func (s *Store) UpdateAccount(_ context.Context, account *membership.Account, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[account.ID]
	if !ok {
		return apperror.NotFound("account %s not found", account.ID)
	}
	if stored.Version != expectedVersion {
		return apperror.Conflict(apperror.ReasonStaleVersion,
			"account %s is at version %d, not %d", account.ID, stored.Version, expectedVersion)
	}
	if err := s.checkUniqueLocked(account); err != nil {
		return err
	}
	account.Version = expectedVersion + 1
	account.Admin = stored.Admin
	s.accounts[account.ID] = *account
	return nil
}

// collectLocked returns reservations matching keep in storage order.
func (s *Store) collectLocked(keep func(circulation.Reservation) bool) []circulation.Reservation {
	var out []circulation.Reservation
	for _, id := range s.reservationOrder {
		if r := s.reservations[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) removeReservationsLocked(drop func(circulation.Reservation) bool) []circulation.Reservation {
	var removed []circulation.Reservation
	s.reservationOrder = slices.DeleteFunc(s.reservationOrder, func(id uuid.UUID) bool {
		r := s.reservations[id]
		if !drop(r) {
			return false
		}
		removed = append(removed, r)
		delete(s.reservations, id)
		return true
	})
	return removed
}
