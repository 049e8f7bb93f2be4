// Package lock provides non-blocking, keyed mutual exclusion. Callers that
// lose never wait: TryLock reports ErrHeld and the caller decides what to do.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock: key is held")

// Locker hands out exclusive ownership of a key for at most ttl.
// Implementations must be safe for concurrent use.
type Locker interface {
	// TryLock acquires key or fails immediately with ErrHeld. The returned
	// release func is safe to call more than once.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Keyed is an in-process Locker. A zero ttl means the key never expires on its own.
type Keyed struct {
	mu    sync.Mutex
	held  map[string]held
	now   func() time.Time
	token uint64
}

type held struct {
	token   uint64
	expires time.Time
}

func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]held), now: time.Now}
}

func (k *Keyed) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if h, ok := k.held[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, ErrHeld
	}

	k.token++
	h := held{token: k.token}
	if ttl > 0 {
		h.expires = now.Add(ttl)
	}
	k.held[key] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			defer k.mu.Unlock()
			// an expired lock may have been taken over by someone else
			if cur, ok := k.held[key]; ok && cur.token == h.token {
				delete(k.held, key)
			}
		})
	}, nil
}

var _ Locker = (*Keyed)(nil)
