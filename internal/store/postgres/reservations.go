package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/membership"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
)

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	query, args, err := build(dialect.From("reservations").Prepared(true).
		Select(reservationColumns...).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, err
	}

	var r circulation.Reservation
	if err := s.db.GetContext(ctx, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("reservation %s not found", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &r, nil
}

func (s *Store) ItemReservations(ctx context.Context, itemID uuid.UUID) ([]circulation.Reservation, error) {
	return s.selectReservations(ctx, s.db, goqu.C("item_id").Eq(itemID))
}

func (s *Store) AccountReservations(ctx context.Context, accountID uuid.UUID) ([]circulation.Reservation, error) {
	return s.selectReservations(ctx, s.db, goqu.C("account_id").Eq(accountID))
}

func (s *Store) ListReservations(ctx context.Context, q circulation.Query) ([]circulation.Reservation, error) {
	var where []exp.Expression
	if q.AccountID != uuid.Nil {
		where = append(where, goqu.C("account_id").Eq(q.AccountID))
	}
	if q.Rented != nil {
		where = append(where, goqu.C("rented").Eq(*q.Rented))
	}
	if q.Returned != nil {
		where = append(where, goqu.C("returned").Eq(*q.Returned))
	}
	return s.selectReservations(ctx, s.db, where...)
}

func (s *Store) selectReservations(ctx context.Context, q sqlx.QueryerContext, where ...exp.Expression) ([]circulation.Reservation, error) {
	query, args, err := build(dialect.From("reservations").Prepared(true).
		Select(reservationColumns...).
		Where(where...).
		Order(goqu.C("seq").Asc()))
	if err != nil {
		return nil, err
	}

	var out []circulation.Reservation
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	return out, nil
}

// lockItem takes the item row without waiting. A held lock is Conflict(Busy).
func lockItem(ctx context.Context, tx *sqlx.Tx, itemID uuid.UUID) (*catalog.Item, error) {
	query, args, err := build(dialect.From("items").Prepared(true).
		Select(itemColumns...).
		Where(goqu.C("id").Eq(itemID)).
		ForUpdate(exp.NoWait))
	if err != nil {
		return nil, err
	}

	var item catalog.Item
	if err := tx.GetContext(ctx, &item, query, args...); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, apperror.NotFound("item %s not found", itemID)
		case pgCode(err) == pgerrcode.LockNotAvailable:
			return nil, apperror.Conflict(apperror.ReasonBusy, "item %s is locked by another request", itemID)
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}
	return &item, nil
}

func (s *Store) WithinItem(ctx context.Context, itemID uuid.UUID, decide func(item *catalog.Item, history []circulation.Reservation) (*circulation.Reservation, error)) (*circulation.Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	item, err := lockItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	history, err := s.selectReservations(ctx, tx, goqu.C("item_id").Eq(itemID))
	if err != nil {
		return nil, err
	}

	r, err := decide(item, history)
	if err != nil || r == nil {
		return nil, err
	}

	if r.Version == 0 {
		r.Version = 1
		err = insertReservation(ctx, tx, r)
	} else {
		err = casReservation(ctx, tx, r)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservation: %w", err)
	}
	return r, nil
}

func insertReservation(ctx context.Context, tx *sqlx.Tx, r *circulation.Reservation) error {
	query, args, err := build(dialect.Insert("reservations").Prepared(true).Rows(goqu.Record{
		"id":         r.ID,
		"item_id":    r.ItemID,
		"account_id": r.AccountID,
		"expires_at": r.ExpiresAt,
		"rented":     r.Rented,
		"returned":   r.Returned,
		"version":    r.Version,
		"created_at": r.CreatedAt,
	}))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return apperror.NotFound("account %s not found", r.AccountID)
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// casReservation writes r if the row is still at r.Version and bumps it.
func casReservation(ctx context.Context, e sqlx.ExecerContext, r *circulation.Reservation) error {
	query, args, err := build(dialect.Update("reservations").Prepared(true).
		Set(goqu.Record{
			"rented":   r.Rented,
			"returned": r.Returned,
			"version":  goqu.L("version + 1"),
		}).
		Where(goqu.C("id").Eq(r.ID), goqu.C("version").Eq(r.Version)))
	if err != nil {
		return err
	}

	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return apperror.Conflict(apperror.ReasonAlreadyReserved, "item %s is already lent out", r.ItemID)
		}
		return fmt.Errorf("update reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if n == 0 {
		return apperror.Conflict(apperror.ReasonBusy, "reservation %s changed concurrently", r.ID)
	}
	r.Version++
	return nil
}

func (s *Store) UpdateReservation(ctx context.Context, id uuid.UUID, mutate func(r *circulation.Reservation) (bool, error)) (*circulation.Reservation, error) {
	r, err := s.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := mutate(r)
	if err != nil {
		return nil, err
	}
	if !changed {
		return r, nil
	}
	if err := casReservation(ctx, s.db, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) DeleteReservation(ctx context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	removed, err := s.deleteReservations(ctx, goqu.C("id").Eq(id))
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, apperror.NotFound("reservation %s not found", id)
	}
	return &removed[0], nil
}

func (s *Store) DeleteLapsed(ctx context.Context, now time.Time) ([]circulation.Reservation, error) {
	return s.deleteReservations(ctx,
		goqu.C("rented").IsFalse(),
		goqu.C("returned").IsFalse(),
		goqu.C("expires_at").Lte(now),
	)
}

func (s *Store) deleteReservations(ctx context.Context, where ...exp.Expression) ([]circulation.Reservation, error) {
	query, args, err := build(dialect.Delete("reservations").Prepared(true).
		Where(where...).
		Returning(reservationColumns...))
	if err != nil {
		return nil, err
	}

	var removed []circulation.Reservation
	if err := s.db.SelectContext(ctx, &removed, query, args...); err != nil {
		return nil, fmt.Errorf("delete reservations: %w", err)
	}
	return removed, nil
}

func (s *Store) ApplyItemDecision(ctx context.Context, itemID uuid.UUID, decide func(history []circulation.Reservation) (guard.ItemDecision, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := lockItem(ctx, tx, itemID); err != nil {
		return err
	}
	history, err := s.selectReservations(ctx, tx, goqu.C("item_id").Eq(itemID))
	if err != nil {
		return err
	}
	decision, err := decide(history)
	if err != nil {
		return err
	}

	switch decision {
	case guard.HardDelete:
		_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return apperror.Conflict(apperror.ReasonHasReservations, "item %s has reservations", itemID)
		}
	case guard.SoftDelete:
		_, err = tx.ExecContext(ctx, `
			UPDATE items
			SET permanently_unavailable = TRUE, version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, itemID)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s to item %s: %w", decision, itemID, err)
	}
	return tx.Commit()
}

// ApplyAccountDecision locks the account row so new reservations referencing
// it wait on the foreign key check, then locks the account's reservations so
// a concurrent rent cannot slip in between the decision and the delete.
func (s *Store) ApplyAccountDecision(ctx context.Context, accountID uuid.UUID, decide func(history []circulation.Reservation) (guard.AccountDecision, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	query, args, err := build(dialect.From("accounts").Prepared(true).
		Select(accountColumns...).
		Where(goqu.C("id").Eq(accountID)).
		ForUpdate(exp.NoWait))
	if err != nil {
		return err
	}
	var account membership.Account
	if err := tx.GetContext(ctx, &account, query, args...); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return apperror.NotFound("account %s not found", accountID)
		case pgCode(err) == pgerrcode.LockNotAvailable:
			return apperror.Conflict(apperror.ReasonBusy, "account %s is locked by another request", accountID)
		}
		return fmt.Errorf("lock account: %w", err)
	}

	query, args, err = build(dialect.From("reservations").Prepared(true).
		Select(reservationColumns...).
		Where(goqu.C("account_id").Eq(accountID)).
		Order(goqu.C("seq").Asc()).
		ForUpdate(exp.NoWait))
	if err != nil {
		return err
	}
	var history []circulation.Reservation
	if err := tx.SelectContext(ctx, &history, query, args...); err != nil {
		if pgCode(err) == pgerrcode.LockNotAvailable {
			return apperror.Conflict(apperror.ReasonBusy, "reservations of account %s are being changed", accountID)
		}
		return fmt.Errorf("lock reservations: %w", err)
	}

	decision, err := decide(history)
	if err != nil || decision != guard.Allow {
		return err
	}

	// credentials and reservations go with the row
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return tx.Commit()
}
