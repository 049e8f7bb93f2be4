package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/guard"
	"bookhold/internal/membership"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			os.Getenv("PGUSER"), os.Getenv("PGPASSWORD"), os.Getenv("PGHOST"), os.Getenv("PGPORT"), os.Getenv("PGDATABASE"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) (*catalog.Item, *membership.Account) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	item := &catalog.Item{
		ID:        uuid.New(),
		Title:     "The Pragmatic Programmer",
		Author:    "Hunt",
		Publisher: "Addison-Wesley",
		Price:     decimal.RequireFromString("39.90"),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InsertItem(ctx, item))

	name := "reader-" + uuid.NewString()[:8]
	account := &membership.Account{
		ID:        uuid.New(),
		Username:  name,
		Email:     name + "@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     "+15555550100",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.InsertAccount(ctx, account, &membership.Credential{AccountID: account.ID, PasswordHash: "h", Salt: "s"}))
	return item, account
}

func hold(item *catalog.Item, account *membership.Account) func(*catalog.Item, []circulation.Reservation) (*circulation.Reservation, error) {
	return func(it *catalog.Item, history []circulation.Reservation) (*circulation.Reservation, error) {
		now := time.Now().UTC()
		if !circulation.ItemAvailable(it, history, now) {
			return nil, apperror.Conflict(apperror.ReasonAlreadyReserved, "taken")
		}
		return &circulation.Reservation{
			ID:        uuid.New(),
			ItemID:    item.ID,
			AccountID: account.ID,
			ExpiresAt: now.Add(circulation.HoldDuration),
			CreatedAt: now,
		}, nil
	}
}

func TestItemVersionCheck(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	item, _ := seed(t, s)

	item.Title = "The Pragmatic Programmer, 2nd ed."
	require.NoError(t, s.UpdateItem(ctx, item, 1))
	assert.Equal(t, 2, item.Version)

	err := s.UpdateItem(ctx, item, 1)
	assert.ErrorIs(t, err, apperror.ErrStaleVersion)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Pragmatic Programmer, 2nd ed.", got.Title)
	assert.True(t, item.Price.Equal(got.Price))
}

func TestWithinItemSingleWinner(t *testing.T) {
	s := setupTestStore(t)
	item, account := seed(t, s)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.WithinItem(context.Background(), item.ID, hold(item, account))
			if err == nil {
				winners.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperror.ErrConflict)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	history, err := s.ItemReservations(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDeleteLapsedAndGuards(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	item, account := seed(t, s)

	r, err := s.WithinItem(ctx, item.ID, hold(item, account))
	require.NoError(t, err)

	err = s.ApplyItemDecision(ctx, item.ID, func(history []circulation.Reservation) (guard.ItemDecision, error) {
		return guard.DecideItem(history), nil
	})
	require.NoError(t, err)
	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.PermanentlyUnavailable, "a rejected decision writes nothing")

	reaped, err := s.DeleteLapsed(ctx, r.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(reaped))
	for _, x := range reaped {
		ids = append(ids, x.ID)
	}
	assert.Contains(t, ids, r.ID)

	err = s.ApplyItemDecision(ctx, item.ID, func(history []circulation.Reservation) (guard.ItemDecision, error) {
		return guard.DecideItem(history), nil
	})
	require.NoError(t, err)
	_, err = s.GetItem(ctx, item.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	err = s.ApplyAccountDecision(ctx, account.ID, func(history []circulation.Reservation) (guard.AccountDecision, error) {
		return guard.DecideAccount(history), nil
	})
	require.NoError(t, err)
	_, err = s.GetAccount(ctx, account.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSearchItemsEscapesPattern(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seed(t, s)

	items, err := s.SearchItems(ctx, "100%")
	require.NoError(t, err)
	for _, it := range items {
		assert.Contains(t, it.Title, "100%")
	}
}

func TestAccountUsernameIgnoresCase(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, account := seed(t, s)

	got, err := s.GetAccountByUsername(ctx, strings.ToUpper(account.Username))
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	now := time.Now().UTC()
	twin := &membership.Account{
		ID:        uuid.New(),
		Username:  strings.ToUpper(account.Username),
		Email:     "twin-" + account.Email,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.InsertAccount(ctx, twin, &membership.Credential{AccountID: twin.ID, PasswordHash: "h", Salt: "s"})
	assert.ErrorIs(t, err, &apperror.Error{Kind: apperror.KindConflict, Reason: apperror.ReasonDuplicate})
}
