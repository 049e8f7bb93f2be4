package clients_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/internal/circulation"
	"bookhold/internal/clients"
	"bookhold/internal/guard"
	"bookhold/internal/httpapi"
	"bookhold/internal/membership"
	"bookhold/internal/store/memory"
	"bookhold/pkg/eventstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewStore()
	journal := eventstore.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Services{
		Catalog: catalog.NewService(store, journal, log),
		Membership: membership.NewService(store, journal, log, membership.Options{
			AdminUsernames: []string{"staff"},
			AuthRate:       rate.Inf,
		}),
		Circulation: circulation.NewService(store, journal, log, circulation.Options{}),
		Guard:       guard.New(store, journal, log),
		Tokens:      membership.NewTokenIssuer("test-secret", time.Hour),
		Log:         log,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func register(t *testing.T, c *clients.Client, username string) string {
	t.Helper()
	ctx := context.Background()
	_, err := c.Register(ctx, clients.Registration{
		Username:  username,
		Email:     username + "@example.com",
		FirstName: "Grace",
		LastName:  "Hopper",
		Phone:     "+15555550123",
		Password:  "correct horse battery",
	})
	require.NoError(t, err)
	token, err := c.Login(ctx, username, "correct horse battery")
	require.NoError(t, err)
	return token
}

func TestClientReserveFlow(t *testing.T) {
	srv := newServer(t)
	c := clients.New(srv.URL, clients.Options{})
	ctx := context.Background()

	staff := register(t, c, "staff")
	reader := register(t, c, "reader")

	item, err := c.AddItem(ctx, staff, clients.NewItem{
		Title:     "The Mythical Man-Month",
		Author:    "Brooks",
		Publisher: "Addison-Wesley",
		Price:     "29.95",
	})
	require.NoError(t, err)
	assert.Equal(t, "29.95", item.Price.StringFixed(2))

	ok, err := c.Available(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := c.Search(ctx, "mythical")
	require.NoError(t, err)
	require.Len(t, found, 1)

	view, err := c.Reserve(ctx, reader, item.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateHeld, view.State)

	_, err = c.Reserve(ctx, reader, item.ID)
	assert.ErrorIs(t, err, apperror.ErrAlreadyReserved)

	held, err := c.HeldReservations(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, held, 1)

	_, err = c.HeldReservations(ctx, reader)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	require.NoError(t, c.Cancel(ctx, reader, view.ID))
	ok, err = c.Available(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "closed", c.BreakerState())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := newServer(t)
	c := clients.New(srv.URL, clients.Options{ConsecutiveFails: 2})

	for i := 0; i < 5; i++ {
		_, err := c.Login(context.Background(), "nobody", "wrong password")
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := clients.New(srv.URL, clients.Options{ConsecutiveFails: 3, OpenFor: time.Minute})
	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), "")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Search(context.Background(), "")
	assert.ErrorIs(t, err, clients.ErrBreakerOpen)
	assert.Equal(t, int32(3), hits.Load())
}
