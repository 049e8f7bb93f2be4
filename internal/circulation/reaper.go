package circulation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bookhold/internal/lock"
)

const reaperLockKey = "reaper:lapsed-holds"

// Reaper periodically deletes lapsed holds to bound storage growth.
// Availability never depends on it having run.
type Reaper struct {
	service  Service
	locker   lock.Locker
	interval time.Duration
	log      *slog.Logger
}

func NewReaper(service Service, locker lock.Locker, interval time.Duration, log *slog.Logger) *Reaper {
	return &Reaper{service: service, locker: locker, interval: interval, log: log}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.ErrorContext(ctx, "reaper sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one sweep unless another instance is already sweeping,
// in which case it reports zero and no error.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	release, err := r.locker.TryLock(ctx, reaperLockKey, r.interval)
	if errors.Is(err, lock.ErrHeld) {
		r.log.DebugContext(ctx, "reaper sweep skipped, another sweep is running")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := r.service.ReapLapsed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.InfoContext(ctx, "lapsed holds reaped", "count", n)
	}
	return n, nil
}
