package circulation

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"bookhold/internal/catalog"

	"github.com/google/uuid"
)

// ItemAvailable is the availability predicate over an item and every
// reservation that references it.
func ItemAvailable(item *catalog.Item, history []Reservation, now time.Time) bool {
	if item.PermanentlyUnavailable {
		return false
	}
	for _, r := range history {
		if IsActive(r, now) {
			return false
		}
	}
	return true
}

func activeHold(history []Reservation, now time.Time) (Reservation, bool) {
	for _, r := range history {
		if IsActive(r, now) {
			return r, true
		}
	}
	return Reservation{}, false
}

func summarize(item *catalog.Item) ItemSummary {
	return ItemSummary{
		ID:        item.ID,
		Title:     item.Title,
		Author:    item.Author,
		Publisher: item.Publisher,
		Price:     item.Price,
	}
}

// matchesTitle is the case-insensitive substring match used by search.
func matchesTitle(title, query string) bool {
	return strings.Contains(strings.ToLower(title), strings.ToLower(strings.TrimSpace(query)))
}

// Search yields available items whose title contains query. Each range
// re-reads the repository, so the sequence can be iterated again for a fresh view.
func (s *service) Search(ctx context.Context, query string) iter.Seq2[ItemSummary, error] {
	return func(yield func(ItemSummary, error) bool) {
		items, err := s.repo.SearchItems(ctx, strings.TrimSpace(query))
		if err != nil {
			yield(ItemSummary{}, fmt.Errorf("search items: %w", err))
			return
		}
		for i := range items {
			item := &items[i]
			// stores may match more loosely than we do
			if !matchesTitle(item.Title, query) {
				continue
			}
			history, err := s.repo.ItemReservations(ctx, item.ID)
			if err != nil {
				yield(ItemSummary{}, fmt.Errorf("reservations of item %s: %w", item.ID, err))
				return
			}
			if !ItemAvailable(item, history, s.now()) {
				continue
			}
			if !yield(summarize(item), nil) {
				return
			}
		}
	}
}

// IsAvailable reports whether itemID can be reserved right now.
func (s *service) IsAvailable(ctx context.Context, itemID uuid.UUID) (bool, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	history, err := s.repo.ItemReservations(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("reservations of item %s: %w", itemID, err)
	}
	return ItemAvailable(item, history, s.now()), nil
}
