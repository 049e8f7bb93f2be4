package chaos_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"bookhold/internal/catalog"
	"bookhold/internal/chaos"
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

func setup(t *testing.T) (*clients.Client, *chaos.Engine) {
	t.Helper()
	store := memory.NewStore()
	journal := eventstore.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Services{
		Catalog: catalog.NewService(store, journal, log),
		Membership: membership.NewService(store, journal, log, membership.Options{
			AdminUsernames: []string{"gameday"},
			AuthRate:       rate.Inf,
		}),
		Circulation: circulation.NewService(store, journal, log, circulation.Options{}),
		Guard:       guard.New(store, journal, log),
		Tokens:      membership.NewTokenIssuer("test-secret", time.Hour),
		Log:         log,
	}))
	t.Cleanup(srv.Close)

	return clients.New(srv.URL, clients.Options{}),
		chaos.NewEngine(log, chaos.Options{SampleInterval: 10 * time.Millisecond})
}

func TestReserveRaceHolds(t *testing.T) {
	c, engine := setup(t)
	ctx := context.Background()

	f, err := chaos.Prepare(ctx, c, "gameday", "chaos-password", 4)
	require.NoError(t, err)
	require.Len(t, f.ReaderTokens, 4)

	exp := chaos.ReserveRace(c, f, 32)
	exp.Duration = 50 * time.Millisecond
	res, err := engine.Run(ctx, exp)
	require.NoError(t, err)
	assert.True(t, res.HypothesisHeld, "failed: %v", res.Failed)
	assert.Empty(t, res.ErrorEvents)

	ok, err := c.Available(ctx, f.ItemID)
	require.NoError(t, err)
	assert.True(t, ok, "rollback cancels the winning hold")
}

func TestPrepareReusesStaffAccount(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	_, err := chaos.Prepare(ctx, c, "gameday", "chaos-password", 1)
	require.NoError(t, err)
	_, err = chaos.Prepare(ctx, c, "gameday", "chaos-password", 1)
	require.NoError(t, err)
}

func TestSearchBurstHolds(t *testing.T) {
	c, engine := setup(t)

	exp := chaos.SearchBurst(c, 200, 16)
	exp.Duration = 20 * time.Millisecond
	res, err := engine.Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, res.HypothesisHeld)
	require.NotEmpty(t, res.Observations["error_rate"])
	assert.Zero(t, res.Observations["error_rate"][0].Value)
}
