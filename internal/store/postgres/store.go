// Package postgres implements every repository interface on PostgreSQL.
// The per-item serialization point is the item row, taken with
// SELECT ... FOR UPDATE NOWAIT so that losers fail instead of queueing.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/membership"
	"bookhold/pkg/eventstore"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	seq BIGSERIAL UNIQUE,
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	author TEXT NOT NULL,
	publisher TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	price NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
	permanently_unavailable BOOLEAN NOT NULL DEFAULT FALSE,
	version INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	phone TEXT NOT NULL,
	admin BOOLEAN NOT NULL DEFAULT FALSE,
	version INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_key ON accounts (LOWER(username));
CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_key ON accounts (LOWER(email));

CREATE TABLE IF NOT EXISTS credentials (
	account_id UUID PRIMARY KEY REFERENCES accounts (id) ON DELETE CASCADE,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
	seq BIGSERIAL UNIQUE,
	id UUID PRIMARY KEY,
	item_id UUID NOT NULL REFERENCES items (id) ON DELETE RESTRICT,
	account_id UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	rented BOOLEAN NOT NULL DEFAULT FALSE,
	returned BOOLEAN NOT NULL DEFAULT FALSE,
	version INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS reservations_item_idx ON reservations (item_id);
CREATE INDEX IF NOT EXISTS reservations_account_idx ON reservations (account_id);
-- at most one loan per item, whatever the lock discipline above it does
CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_loan_per_item
	ON reservations (item_id) WHERE rented AND NOT returned;
`

var (
	itemColumns        = []any{"id", "title", "author", "publisher", "published_at", "price", "permanently_unavailable", "version", "created_at", "updated_at"}
	accountColumns     = []any{"id", "username", "email", "first_name", "last_name", "phone", "admin", "version", "created_at", "updated_at"}
	reservationColumns = []any{"id", "item_id", "account_id", "expires_at", "rented", "returned", "version", "created_at"}
)

var dialect = goqu.Dialect("postgres")

type Store struct {
	db *sqlx.DB
}

var (
	_ catalog.Repository     = (*Store)(nil)
	_ membership.Repository  = (*Store)(nil)
	_ circulation.Repository = (*Store)(nil)
	_ guard.Repository       = (*Store)(nil)
)

// Open connects and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the pool for the event journal.
func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables this store and the event journal use.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, eventstore.Schema); err != nil {
		return fmt.Errorf("apply event schema: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// build renders a goqu dataset with placeholders.
func build(ds interface {
	ToSQL() (string, []any, error)
}) (string, []any, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

// escapeLike makes user input literal inside a LIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func rollback(tx *sqlx.Tx) {
	_ = tx.Rollback()
}
