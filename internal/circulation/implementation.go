// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"bookhold/internal/apperror"
	"bookhold/internal/catalog"
	"bookhold/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options tunes the circulation service.
type Options struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// service implements the Service interface.
type service struct {
	repo    Repository
	journal eventstore.Journal
	log     *slog.Logger
	clock   func() time.Time
	tel     telemetry
}

// NewService creates a new circulation service instance. journal may be nil.
func NewService(repo Repository, journal eventstore.Journal, log *slog.Logger, opts Options) Service {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &service{
		repo:    repo,
		journal: journal,
		log:     log,
		clock:   opts.Clock,
		tel:     newTelemetry(),
	}
}

func (s *service) now() time.Time { return s.clock().UTC() }

// Reserve checks availability and writes the hold as one step inside the
// item's serialization point.
func (s *service) Reserve(ctx context.Context, itemID, accountID uuid.UUID) (res *Reservation, err error) {
	ctx, span := s.tel.tracer.Start(ctx, "circulation.reserve", trace.WithAttributes(
		attribute.String("item.id", itemID.String()),
		attribute.String("account.id", accountID.String()),
	))
	defer func() { s.finish(ctx, span, "reserve", err) }()

	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	res, err = s.repo.WithinItem(ctx, itemID, func(item *catalog.Item, history []Reservation) (*Reservation, error) {
		now := s.now()
		if !ItemAvailable(item, history, now) {
			return nil, apperror.Conflict(apperror.ReasonAlreadyReserved, "item %s is not available", itemID)
		}
		return &Reservation{
			ID:        uuid.New(),
			ItemID:    itemID,
			AccountID: accountID,
			ExpiresAt: now.Add(HoldDuration),
			CreatedAt: now,
		}, nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrBusy) {
			// someone else is reserving this item right now
			return nil, apperror.Conflict(apperror.ReasonAlreadyReserved, "item %s is being reserved", itemID)
		}
		return nil, err
	}

	s.record(ctx, res.ID, 0, "ItemReserved", ItemReservedEvent{
		ReservationID: res.ID,
		ItemID:        res.ItemID,
		AccountID:     res.AccountID,
		ExpiresAt:     res.ExpiresAt,
	})
	s.log.InfoContext(ctx, "item reserved",
		"reservation_id", res.ID, "item_id", itemID, "account_id", accountID, "expires_at", res.ExpiresAt)
	return res, nil
}

// Rent hands a held item out. The transition runs under the item's
// serialization point: a lapsed hold may have been superseded by a newer one.
func (s *service) Rent(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tel.tracer.Start(ctx, "circulation.rent", trace.WithAttributes(
		attribute.String("reservation.id", id.String()),
	))
	defer func() { s.finish(ctx, span, "rent", err) }()

	current, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case current.Returned:
		return apperror.Conflict(apperror.ReasonAlreadyReturned, "reservation %s was already returned", id)
	case current.Rented:
		return nil
	}

	var (
		previous int
		lapsed   bool
	)
	r, err := s.repo.WithinItem(ctx, current.ItemID, func(_ *catalog.Item, history []Reservation) (*Reservation, error) {
		i := slices.IndexFunc(history, func(h Reservation) bool { return h.ID == id })
		if i < 0 {
			return nil, apperror.NotFound("reservation %s not found", id)
		}
		r := history[i]
		switch {
		case r.Returned:
			return nil, apperror.Conflict(apperror.ReasonAlreadyReturned, "reservation %s was already returned", id)
		case r.Rented:
			return nil, nil
		}
		now := s.now()
		if lapsed = IsLapsed(r, now); lapsed {
			if other, ok := activeHold(history, now); ok {
				return nil, apperror.Conflict(apperror.ReasonAlreadyReserved,
					"hold %s lapsed and item %s is now held by reservation %s", id, r.ItemID, other.ID)
			}
		}
		previous = r.Version
		r.Rented = true
		return &r, nil
	})
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}

	s.record(ctx, r.ID, previous, "ReservationRented", ReservationRentedEvent{
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		Lapsed:        lapsed,
	})
	s.log.InfoContext(ctx, "reservation rented", "reservation_id", r.ID, "item_id", r.ItemID, "lapsed", lapsed)
	return nil
}

func (s *service) ReturnItem(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tel.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("reservation.id", id.String()),
	))
	defer func() { s.finish(ctx, span, "return", err) }()

	var previous int
	r, err := s.repo.UpdateReservation(ctx, id, func(r *Reservation) (bool, error) {
		if r.Returned {
			return false, nil
		}
		previous = r.Version
		r.Rented = false
		r.Returned = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if previous == 0 {
		return nil
	}

	s.record(ctx, r.ID, previous, "ReservationReturned", ReservationReturnedEvent{
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		ReturnedAt:    s.now(),
	})
	s.log.InfoContext(ctx, "item returned", "reservation_id", r.ID, "item_id", r.ItemID)
	return nil
}

// Cancel deletes the reservation in any state, rented ones included.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tel.tracer.Start(ctx, "circulation.cancel", trace.WithAttributes(
		attribute.String("reservation.id", id.String()),
	))
	defer func() { s.finish(ctx, span, "cancel", err) }()

	r, err := s.repo.DeleteReservation(ctx, id)
	if err != nil {
		return err
	}

	state := r.State(s.now())
	s.record(ctx, r.ID, r.Version, "ReservationCancelled", ReservationCancelledEvent{
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		State:         state,
	})
	if state == StateRented {
		s.log.WarnContext(ctx, "rented reservation cancelled", "reservation_id", r.ID, "item_id", r.ItemID)
	} else {
		s.log.InfoContext(ctx, "reservation cancelled", "reservation_id", r.ID, "state", state)
	}
	return nil
}

func (s *service) GetReservation(ctx context.Context, id uuid.UUID) (*View, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Reservation: *r, State: r.State(s.now())}, nil
}

// ListReservations narrows by stored flags in the repository and by computed
// state here, since lapsing depends on the clock.
func (s *service) ListReservations(ctx context.Context, filter Filter) ([]View, error) {
	rows, err := s.repo.ListReservations(ctx, queryFor(filter))
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	now := s.now()
	views := make([]View, 0, len(rows))
	for _, r := range rows {
		state := r.State(now)
		if len(filter.States) > 0 && !slices.Contains(filter.States, state) {
			continue
		}
		views = append(views, View{Reservation: r, State: state})
	}
	return views, nil
}

func queryFor(filter Filter) Query {
	q := Query{AccountID: filter.AccountID}
	if len(filter.States) == 0 {
		return q
	}
	f, t := false, true
	only := func(states ...State) bool {
		for _, st := range filter.States {
			if !slices.Contains(states, st) {
				return false
			}
		}
		return true
	}
	switch {
	case only(StateHeld, StateLapsed):
		q.Rented, q.Returned = &f, &f
	case only(StateRented):
		q.Rented, q.Returned = &t, &f
	case only(StateReturned):
		q.Returned = &t
	}
	return q
}

func (s *service) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	if s.journal == nil {
		return nil, apperror.NotFound("no history for reservation %s", id)
	}
	events, err := s.journal.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load events of reservation %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, apperror.NotFound("no history for reservation %s", id)
	}
	return events, nil
}

func (s *service) ReapLapsed(ctx context.Context) (int, error) {
	ctx, span := s.tel.tracer.Start(ctx, "circulation.reap")
	defer span.End()

	reaped, err := s.repo.DeleteLapsed(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("delete lapsed holds: %w", err)
	}
	for _, r := range reaped {
		s.record(ctx, r.ID, r.Version, "ReservationCancelled", ReservationCancelledEvent{
			ReservationID: r.ID,
			ItemID:        r.ItemID,
			State:         StateLapsed,
			Reaped:        true,
		})
	}
	s.tel.reaped.Add(ctx, int64(len(reaped)))
	span.SetAttributes(attribute.Int("reaped", len(reaped)))
	return len(reaped), nil
}

func (s *service) finish(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		if apperror.KindOf(err) == apperror.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	s.tel.observe(ctx, op, err)
	span.End()
}

// record appends to the journal after the write has committed; a journal
// failure does not undo the write, it is logged.
func (s *service) record(ctx context.Context, id uuid.UUID, expectedVersion int, eventType string, payload any) {
	if err := eventstore.Record(ctx, s.journal, id, "reservation", expectedVersion, eventType, payload); err != nil {
		s.log.ErrorContext(ctx, "failed to journal reservation event",
			"reservation_id", id, "event_type", eventType, "error", err)
	}
}
