// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bookhold/internal/apperror"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
)

// service implements the Service interface.
type service struct {
	repo    Repository
	journal eventstore.Journal
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a new catalog service instance. journal may be nil.
func NewService(repo Repository, journal eventstore.Journal, log *slog.Logger) Service {
	return &service{
		repo:    repo,
		journal: journal,
		log:     log,
		now:     time.Now,
	}
}

// AddItem creates a new item in the catalog.
func (s *service) AddItem(ctx context.Context, fields Fields) (*Item, error) {
	if err := fields.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	item := &Item{
		ID:        uuid.New(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.apply(fields)

	if err := s.repo.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	s.record(ctx, item.ID, 0, "ItemAdded", ItemAddedEvent{
		ID:    item.ID,
		Title: item.Title,
		Price: item.Price,
	})
	return item, nil
}

// GetItem retrieves an item from the catalog by its ID.
func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetItem(ctx, id)
}

// UpdateItem edits descriptive fields under the caller's last observed version.
func (s *service) UpdateItem(ctx context.Context, id uuid.UUID, fields Fields, version int) (*Item, error) {
	if err := fields.validate(); err != nil {
		return nil, err
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Version != version {
		return nil, apperror.Conflict(apperror.ReasonStaleVersion,
			"item %s was modified by someone else (version %d, have %d)", id, item.Version, version)
	}

	item.apply(fields)
	item.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateItem(ctx, item, version); err != nil {
		return nil, err
	}

	s.record(ctx, item.ID, version, "ItemUpdated", ItemUpdatedEvent{
		ID:         item.ID,
		Title:      item.Title,
		Author:     item.Author,
		Publisher:  item.Publisher,
		Price:      item.Price,
		NewVersion: item.Version,
	})
	return item, nil
}

func (s *service) ListItems(ctx context.Context) ([]Item, error) {
	return s.repo.ListItems(ctx)
}

// record appends to the journal after the write has committed; a journal
// failure does not undo the write, it is logged.
func (s *service) record(ctx context.Context, id uuid.UUID, expectedVersion int, eventType string, payload any) {
	if err := eventstore.Record(ctx, s.journal, id, "item", expectedVersion, eventType, payload); err != nil {
		s.log.ErrorContext(ctx, "failed to journal item event",
			"item_id", id, "event_type", eventType, "error", err)
	}
}
