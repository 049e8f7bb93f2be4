package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bookhold/internal/apperror"
	"bookhold/internal/membership"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
)

func (s *Store) InsertAccount(ctx context.Context, account *membership.Account, credential *membership.Credential) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(tx)

	query, args, err := build(dialect.Insert("accounts").Prepared(true).Rows(goqu.Record{
		"id":         account.ID,
		"username":   account.Username,
		"email":      account.Email,
		"first_name": account.FirstName,
		"last_name":  account.LastName,
		"phone":      account.Phone,
		"admin":      account.Admin,
		"version":    account.Version,
		"created_at": account.CreatedAt,
		"updated_at": account.UpdatedAt,
	}))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return apperror.Conflict(apperror.ReasonDuplicate, "username or email is taken")
		}
		return fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (account_id, password_hash, salt) VALUES ($1, $2, $3)`,
		credential.AccountID, credential.PasswordHash, credential.Salt,
	); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*membership.Account, error) {
	return s.getAccount(ctx, goqu.C("id").Eq(id), id.String())
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*membership.Account, error) {
	// Usernames are unique case-insensitively; see accounts_username_key.
	return s.getAccount(ctx, goqu.Func("LOWER", goqu.C("username")).Eq(strings.ToLower(username)), username)
}

func (s *Store) getAccount(ctx context.Context, where goqu.Expression, key string) (*membership.Account, error) {
	query, args, err := build(dialect.From("accounts").Prepared(true).Select(accountColumns...).Where(where))
	if err != nil {
		return nil, err
	}

	var account membership.Account
	if err := s.db.GetContext(ctx, &account, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account %s not found", key)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (s *Store) GetCredential(ctx context.Context, accountID uuid.UUID) (*membership.Credential, error) {
	var cred membership.Credential
	err := s.db.GetContext(ctx, &cred,
		`SELECT account_id, password_hash, salt FROM credentials WHERE account_id = $1`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("credential of account %s not found", accountID)
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (s *Store) UpdateAccount(ctx context.Context, account *membership.Account, expectedVersion int) error {
	query, args, err := build(dialect.Update("accounts").Prepared(true).
		Set(goqu.Record{
			"username":   account.Username,
			"email":      account.Email,
			"first_name": account.FirstName,
			"last_name":  account.LastName,
			"phone":      account.Phone,
			"updated_at": account.UpdatedAt,
			"version":    goqu.L("version + 1"),
		}).
		Where(goqu.C("id").Eq(account.ID), goqu.C("version").Eq(expectedVersion)))
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return apperror.Conflict(apperror.ReasonDuplicate, "username or email is taken")
		}
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n == 0 {
		if _, err := s.GetAccount(ctx, account.ID); err != nil {
			return err
		}
		return apperror.Conflict(apperror.ReasonStaleVersion, "account %s is no longer at version %d", account.ID, expectedVersion)
	}
	account.Version = expectedVersion + 1
	return nil
}
