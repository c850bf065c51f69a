// Package booking implements the admission controller and waitlist manager
// for capacity-constrained class bookings.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/metrics"
	"gymflow/internal/models"
)

// Service admits or queues member bookings against a schedule's capacity.
// It holds no authoritative state; every counter and status mutation is a
// conditional update in the schedule store.
type Service struct {
	db      *database.DB
	bus     *events.Bus
	logger  *zerolog.Logger
	timeout time.Duration
}

// NewService creates a booking service. timeout bounds client-facing calls;
// zero disables the bound.
func NewService(db *database.DB, bus *events.Bus, timeout time.Duration, logger *zerolog.Logger) *Service {
	return &Service{
		db:      db,
		bus:     bus,
		logger:  logger,
		timeout: timeout,
	}
}

// CreateOptions tunes booking admission.
type CreateOptions struct {
	Notes string
	// NoWaitlist surfaces ErrCapacityFull instead of queueing when the
	// schedule is full.
	NoWaitlist bool
}

// CreateBooking admits a member onto a schedule. A full schedule degrades to
// a waitlist entry unless the caller opted out. The capacity check and the
// increment are one conditional update, so concurrent admissions cannot
// overshoot max_capacity.
func (s *Service) CreateBooking(ctx context.Context, scheduleID, memberID int64, opts CreateOptions) (*models.Booking, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	schedule, err := s.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.OpenForBooking() {
		return nil, models.ErrScheduleNotOpen
	}

	existing, err := s.db.GetActiveBooking(ctx, scheduleID, memberID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.ErrDuplicateBooking
	}

	reserved, err := s.db.TryReserve(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	if reserved {
		b, err := s.db.InsertConfirmed(ctx, scheduleID, memberID, opts.Notes)
		if err != nil {
			// A racing request for the same member slipped in between the
			// duplicate check and the insert; give the spot back.
			s.release(ctx, scheduleID)
			return nil, err
		}
		metrics.IncBookingCreated(string(models.BookingStatusConfirmed))
		s.bus.PublishJSON(events.TypeBookingCreated, b.ID, b)
		return b, nil
	}

	if opts.NoWaitlist {
		return nil, models.ErrCapacityFull
	}

	b, err := s.db.EnqueueWaitlist(ctx, scheduleID, memberID, opts.Notes)
	if err != nil {
		return nil, err
	}
	metrics.IncBookingCreated(string(models.BookingStatusWaitlist))
	s.bus.PublishJSON(events.TypeBookingCreated, b.ID, b)
	return b, nil
}

// CancelBooking cancels a booking. Cancelling an already-cancelled booking is
// a no-op. A confirmed cancel frees capacity and promotes the head of the
// waitlist; a waitlist cancel renumbers the remaining queue.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64, reason string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch b.Status {
	case models.BookingStatusCancelled:
		return nil

	case models.BookingStatusConfirmed:
		ok, err := s.db.CancelConfirmed(ctx, bookingID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.resolveCancelRace(ctx, bookingID)
		}
		s.release(ctx, b.ScheduleID)
		metrics.IncBookingCancelled()
		s.publishCancelled(bookingID, b.ScheduleID, b.MemberID)
		if err := s.PromoteNext(ctx, b.ScheduleID); err != nil {
			s.logger.Error().Err(err).
				Int64("schedule_id", b.ScheduleID).
				Msg("waitlist promotion after cancel failed")
		}
		return nil

	case models.BookingStatusWaitlist:
		ok, err := s.db.CancelWaitlisted(ctx, bookingID, b.ScheduleID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return s.resolveCancelRace(ctx, bookingID)
		}
		metrics.IncBookingCancelled()
		s.publishCancelled(bookingID, b.ScheduleID, b.MemberID)
		return nil

	default:
		// NO_SHOW and COMPLETED are settled; nothing to cancel.
		return nil
	}
}

// publishCancelled emits the cancellation event. The payload carries ids
// only: the booking row itself is the post-cancel state of record, and
// re-reading it here would put a query on the event path.
func (s *Service) publishCancelled(bookingID, scheduleID, memberID int64) {
	s.bus.PublishJSON(events.TypeBookingCancelled, bookingID, map[string]int64{
		"booking_id":  bookingID,
		"schedule_id": scheduleID,
		"member_id":   memberID,
	})
}

// resolveCancelRace decides what a zero-row conditional cancel means: either
// someone else cancelled first (fine) or the booking changed state underneath
// us (caller retries).
func (s *Service) resolveCancelRace(ctx context.Context, bookingID int64) error {
	b, err := s.db.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status == models.BookingStatusCancelled {
		return nil
	}
	return models.ErrConcurrencyConflict
}

// release gives a confirmed spot back to the schedule, logging the invariant
// violation when the counter was already zero.
func (s *Service) release(ctx context.Context, scheduleID int64) {
	released, err := s.db.Release(ctx, scheduleID)
	if err != nil {
		s.logger.Error().Err(err).Int64("schedule_id", scheduleID).Msg("capacity release failed")
		return
	}
	if !released {
		metrics.IncCapacityClamped()
		s.logger.Error().
			Int64("schedule_id", scheduleID).
			Msg("capacity release clamped at zero")
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// IsRetryable reports whether the caller should retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, models.ErrConcurrencyConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}
