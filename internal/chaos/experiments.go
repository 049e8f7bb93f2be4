package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/clients"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Fixture is the accounts and item an experiment run works against.
type Fixture struct {
	StaffToken   string
	ReaderTokens []string
	ItemID       uuid.UUID
}

// Prepare logs in as staff, registers readers fresh accounts and adds a
// target item. The staff account must be listed in ADMIN_USERNAMES on the
// server; it is registered if it does not exist yet.
func Prepare(ctx context.Context, c *clients.Client, staffUser, staffPassword string, readers int) (*Fixture, error) {
	if readers < 1 {
		readers = 1
	}
	if err := ensureAccount(ctx, c, staffUser, staffPassword); err != nil {
		return nil, fmt.Errorf("staff account: %w", err)
	}
	staff, err := c.Login(ctx, staffUser, staffPassword)
	if err != nil {
		return nil, fmt.Errorf("staff login: %w", err)
	}

	f := &Fixture{StaffToken: staff}
	run := uuid.NewString()[:8]
	for i := 0; i < readers; i++ {
		name := fmt.Sprintf("chaos-%s-%d", run, i)
		if err := ensureAccount(ctx, c, name, staffPassword); err != nil {
			return nil, fmt.Errorf("reader %s: %w", name, err)
		}
		token, err := c.Login(ctx, name, staffPassword)
		if err != nil {
			return nil, fmt.Errorf("reader %s login: %w", name, err)
		}
		f.ReaderTokens = append(f.ReaderTokens, token)
	}

	item, err := c.AddItem(ctx, staff, clients.NewItem{
		Title:     "Chaos target " + run,
		Author:    "Game Day",
		Publisher: "bookhold",
		Price:     "1,00",
	})
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	f.ItemID = item.ID
	return f, nil
}

func ensureAccount(ctx context.Context, c *clients.Client, username, password string) error {
	_, err := c.Register(ctx, clients.Registration{
		Username:  username,
		Email:     username + "@chaos.invalid",
		FirstName: "Chaos",
		LastName:  "Monkey",
		Phone:     "+15555550199",
		Password:  password,
	})
	if errors.Is(err, &apperror.Error{Kind: apperror.KindConflict, Reason: apperror.ReasonDuplicate}) {
		return nil
	}
	return err
}

// ReserveRace fires concurrency reserve requests at one item at once and
// expects exactly one of them to win.
func ReserveRace(c *clients.Client, f *Fixture, concurrency int) Experiment {
	var wins atomic.Int64

	heldOnItem := func(ctx context.Context) (float64, error) {
		held, err := c.HeldReservations(ctx, f.StaffToken)
		if err != nil {
			return 0, err
		}
		n := 0
		for _, v := range held {
			if v.ItemID == f.ItemID {
				n++
			}
		}
		return float64(n), nil
	}

	return Experiment{
		Name:       "concurrent-reserve-race",
		Hypothesis: "At most one reservation is active per item when many readers reserve it at once",
		SteadyState: []Metric{
			{
				Name:      "held_reservations_on_item",
				Query:     heldOnItem,
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name:      "reserve_wins",
				Query:     func(context.Context) (float64, error) { return float64(wins.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "reserve",
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					var unexpected atomic.Int64
					for i := 0; i < concurrency; i++ {
						token := f.ReaderTokens[i%len(f.ReaderTokens)]
						wg.Add(1)
						go func() {
							defer wg.Done()
							_, err := c.Reserve(ctx, token, f.ItemID)
							switch {
							case err == nil:
								wins.Add(1)
							case errors.Is(err, apperror.ErrAlreadyReserved):
							default:
								unexpected.Add(1)
							}
						}()
					}
					wg.Wait()
					if n := unexpected.Load(); n > 0 {
						return fmt.Errorf("%d reserve requests failed unexpectedly", n)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "cancel-holds",
				Target: "reserve",
				Execute: func(ctx context.Context) error {
					held, err := c.HeldReservations(ctx, f.StaffToken)
					if err != nil {
						return err
					}
					for _, v := range held {
						if v.ItemID != f.ItemID {
							continue
						}
						if err := c.Cancel(ctx, f.StaffToken, v.ID); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "held_reservations_on_item",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one hold should exist on the contested item",
			},
			{
				Metric:    "reserve_wins",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one reserve request should succeed",
			},
		},
		Duration: 2 * time.Second,
	}
}

// SearchBurst issues requests availability searches with at most
// concurrency in flight and expects the error rate to stay below 5%.
func SearchBurst(c *clients.Client, requests, concurrency int) Experiment {
	var total, failed atomic.Int64

	errorRate := func(context.Context) (float64, error) {
		n := total.Load()
		if n == 0 {
			return 0, nil
		}
		return float64(failed.Load()) / float64(n) * 100, nil
	}

	return Experiment{
		Name:       "search-burst-load",
		Hypothesis: "Availability search keeps serving under a burst of concurrent readers",
		SteadyState: []Metric{
			{
				Name:      "error_rate",
				Query:     errorRate,
				Threshold: Threshold{Operator: "<", Value: 5},
			},
		},
		Method: []Action{
			{
				Type:   "burst",
				Target: "search",
				Execute: func(ctx context.Context) error {
					g, ctx := errgroup.WithContext(ctx)
					g.SetLimit(concurrency)
					for i := 0; i < requests; i++ {
						g.Go(func() error {
							total.Add(1)
							if _, err := c.Search(ctx, "chaos"); err != nil {
								failed.Add(1)
							}
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "error_rate",
				Condition: func(v float64) bool { return v < 5 },
				Message:   "Search error rate should stay below 5%",
			},
		},
		Duration: 2 * time.Second,
	}
}
