package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
)

func (s *Store) InsertItem(ctx context.Context, item *catalog.Item) error {
	query, args, err := build(dialect.Insert("items").Prepared(true).Rows(goqu.Record{
		"id":                      item.ID,
		"title":                   item.Title,
		"author":                  item.Author,
		"publisher":               item.Publisher,
		"published_at":            item.PublishedAt,
		"price":                   item.Price,
		"permanently_unavailable": item.PermanentlyUnavailable,
		"version":                 item.Version,
		"created_at":              item.CreatedAt,
		"updated_at":              item.UpdatedAt,
	}))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return apperror.Conflict(apperror.ReasonDuplicate, "item %s already exists", item.ID)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*catalog.Item, error) {
	query, args, err := build(dialect.From("items").Prepared(true).
		Select(itemColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var item catalog.Item
	if err := s.db.GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("item %s not found", id)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

// UpdateItem writes descriptive fields only; the soft-delete flag is owned
// by the guard.
func (s *Store) UpdateItem(ctx context.Context, item *catalog.Item, expectedVersion int) error {
	query, args, err := build(dialect.Update("items").Prepared(true).
		Set(goqu.Record{
			"title":        item.Title,
			"author":       item.Author,
			"publisher":    item.Publisher,
			"published_at": item.PublishedAt,
			"price":        item.Price,
			"updated_at":   item.UpdatedAt,
			"version":      goqu.L("version + 1"),
		}).
		Where(goqu.C("id").Eq(item.ID), goqu.C("version").Eq(expectedVersion)))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n == 0 {
		if _, err := s.GetItem(ctx, item.ID); err != nil {
			return err
		}
		return apperror.Conflict(apperror.ReasonStaleVersion, "item %s is no longer at version %d", item.ID, expectedVersion)
	}
	item.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]catalog.Item, error) {
	return s.selectItems(ctx, dialect.From("items").Prepared(true).Select(itemColumns...).Order(goqu.C("seq").Asc()))
}

func (s *Store) SearchItems(ctx context.Context, query string) ([]catalog.Item, error) {
	ds := dialect.From("items").Prepared(true).Select(itemColumns...).Order(goqu.C("seq").Asc())
	if query != "" {
		ds = ds.Where(goqu.C("title").ILike("%" + escapeLike(query) + "%"))
	}
	return s.selectItems(ctx, ds)
}

func (s *Store) selectItems(ctx context.Context, ds *goqu.SelectDataset) ([]catalog.Item, error) {
	query, args, err := build(ds)
	if err != nil {
		return nil, err
	}
	var items []catalog.Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	return items, nil
}
