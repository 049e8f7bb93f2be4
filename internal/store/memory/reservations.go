package memory

import (
	"context"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"

	"github.com/google/uuid"
)

func (s *Store) GetReservation(_ context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, apperror.NotFound("reservation %s not found", id)
	}
	return &r, nil
}

func (s *Store) ItemReservations(_ context.Context, itemID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r circulation.Reservation) bool { return r.ItemID == itemID }), nil
}

func (s *Store) AccountReservations(_ context.Context, accountID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r circulation.Reservation) bool { return r.AccountID == accountID }), nil
}

func (s *Store) ListReservations(_ context.Context, q circulation.Query) ([]circulation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r circulation.Reservation) bool {
		switch {
		case q.AccountID != uuid.Nil && r.AccountID != q.AccountID:
			return false
		case q.Rented != nil && r.Rented != *q.Rented:
			return false
		case q.Returned != nil && r.Returned != *q.Returned:
			return false
		}
		return true
	}), nil
}

// WithinItem reads under the shared lock, decides without any store lock and
// writes under the exclusive one. Every writer that can make a reservation
// active holds the item key for the whole sequence.
func (s *Store) WithinItem(ctx context.Context, itemID uuid.UUID, decide func(item *catalog.Item, history []circulation.Reservation) (*circulation.Reservation, error)) (*circulation.Reservation, error) {
	release, err := s.tryLock(ctx, itemKey(itemID))
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	item, ok := s.items[itemID]
	history := s.collectLocked(func(r circulation.Reservation) bool { return r.ItemID == itemID })
	s.mu.RUnlock()
	if !ok {
		return nil, apperror.NotFound("item %s not found", itemID)
	}

	r, err := decide(&item, history)
	if err != nil || r == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Version == 0 {
		if _, ok := s.accounts[r.AccountID]; !ok {
			return nil, apperror.NotFound("account %s not found", r.AccountID)
		}
		if _, ok := s.items[r.ItemID]; !ok {
			return nil, apperror.NotFound("item %s not found", r.ItemID)
		}
		r.Version = 1
		s.reservations[r.ID] = *r
		s.reservationOrder = append(s.reservationOrder, r.ID)
		return r, nil
	}

	stored, ok := s.reservations[r.ID]
	if !ok {
		return nil, apperror.NotFound("reservation %s not found", r.ID)
	}
	if stored.Version != r.Version {
		return nil, apperror.Conflict(apperror.ReasonBusy, "reservation %s changed concurrently", r.ID)
	}
	r.Version++
	s.reservations[r.ID] = *r
	return r, nil
}

func (s *Store) UpdateReservation(_ context.Context, id uuid.UUID, mutate func(r *circulation.Reservation) (bool, error)) (*circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, apperror.NotFound("reservation %s not found", id)
	}
	changed, err := mutate(&r)
	if err != nil {
		return nil, err
	}
	if changed {
		r.Version++
		s.reservations[id] = r
	}
	return &r, nil
}

func (s *Store) DeleteReservation(_ context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.removeReservationsLocked(func(r circulation.Reservation) bool { return r.ID == id })
	if len(removed) == 0 {
		return nil, apperror.NotFound("reservation %s not found", id)
	}
	return &removed[0], nil
}

func (s *Store) DeleteLapsed(_ context.Context, now time.Time) ([]circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeReservationsLocked(func(r circulation.Reservation) bool {
		return circulation.IsLapsed(r, now)
	}), nil
}

func (s *Store) ApplyItemDecision(ctx context.Context, itemID uuid.UUID, decide func(history []circulation.Reservation) (guard.ItemDecision, error)) error {
	release, err := s.tryLock(ctx, itemKey(itemID))
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return apperror.NotFound("item %s not found", itemID)
	}
	history := s.collectLocked(func(r circulation.Reservation) bool { return r.ItemID == itemID })
	decision, err := decide(history)
	if err != nil {
		return err
	}

	switch decision {
	case guard.HardDelete:
		delete(s.items, itemID)
		for i, id := range s.itemOrder {
			if id == itemID {
				s.itemOrder = append(s.itemOrder[:i], s.itemOrder[i+1:]...)
				break
			}
		}
	case guard.SoftDelete:
		item.PermanentlyUnavailable = true
		item.Version++
		item.UpdatedAt = time.Now().UTC()
		s.items[itemID] = item
	}
	return nil
}

func (s *Store) ApplyAccountDecision(ctx context.Context, accountID uuid.UUID, decide func(history []circulation.Reservation) (guard.AccountDecision, error)) error {
	release, err := s.tryLock(ctx, accountKey(accountID))
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return apperror.NotFound("account %s not found", accountID)
	}
	history := s.collectLocked(func(r circulation.Reservation) bool { return r.AccountID == accountID })
	decision, err := decide(history)
	if err != nil || decision != guard.Allow {
		return err
	}

	s.removeReservationsLocked(func(r circulation.Reservation) bool { return r.AccountID == accountID })
	delete(s.credentials, accountID)
	delete(s.accounts, accountID)
	return nil
}
