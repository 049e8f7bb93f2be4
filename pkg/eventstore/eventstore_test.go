package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
			envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type testPayload struct {
	Message string `json:"message"`
}

func TestMemoryStoreVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	require.NoError(t, Record(ctx, store, id, "reservation", 0, "ReservationPlaced", testPayload{Message: "a"}))
	require.NoError(t, Record(ctx, store, id, "reservation", 1, "ReservationRented", testPayload{Message: "b"}))

	err := Record(ctx, store, id, "reservation", 1, "ReservationReturned", testPayload{Message: "c"})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ReservationPlaced", events[0].EventType)
	assert.Equal(t, 2, events[1].Version)

	var p testPayload
	require.NoError(t, json.Unmarshal(events[1].EventData, &p))
	assert.Equal(t, "b", p.Message)

	bounded, err := store.LoadEvents(ctx, id, 2, 2)
	require.NoError(t, err)
	require.Len(t, bounded, 1)
	assert.Equal(t, "ReservationRented", bounded[0].EventType)
}

func TestRecordWithNilJournal(t *testing.T) {
	assert.NoError(t, Record(context.Background(), nil, uuid.New(), "item", 0, "ItemAdded", testPayload{}))
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := NewEventStore(db)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, Record(ctx, store, id, "reservation", 0, "ReservationPlaced", testPayload{Message: "placed"}))
	assert.ErrorIs(t, Record(ctx, store, id, "reservation", 0, "ReservationPlaced", testPayload{}), ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		aggregateID := uuid.New()
		eventData, _ := json.Marshal(testPayload{Message: fmt.Sprintf("event %d", i)})
		events := []Event{{EventType: "TestEvent", EventData: eventData}}
		b.StartTimer()

		if err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", 0, events); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	aggregateID := uuid.New()
	for i := 0; i < 10; i++ {
		eventData, _ := json.Marshal(testPayload{Message: fmt.Sprintf("event %d", i)})
		events := []Event{{EventType: "TestEvent", EventData: eventData}}
		if err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", i, events); err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := store.LoadEvents(context.Background(), aggregateID, 0, 0); err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
