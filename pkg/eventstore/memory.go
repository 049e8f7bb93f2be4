package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Journal with the same version semantics as EventStore.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[uuid.UUID][]Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[uuid.UUID][]Event)}
}

func (m *MemoryStore) AppendEvents(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.events[aggregateID]
	if len(stream) != expectedVersion {
		return ErrConcurrencyConflict
	}
	for i, e := range events {
		m.nextID++
		e.ID = m.nextID
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		e.Version = expectedVersion + i + 1
		e.CreatedAt = time.Now().UTC()
		stream = append(stream, e)
	}
	m.events[aggregateID] = stream
	return nil
}

func (m *MemoryStore) LoadEvents(_ context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events[aggregateID] {
		if e.Version < fromVersion {
			continue
		}
		if toVersion > 0 && e.Version > toVersion {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

var (
	_ Journal = (*EventStore)(nil)
	_ Journal = (*MemoryStore)(nil)
)
