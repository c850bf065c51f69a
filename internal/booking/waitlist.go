package booking

import (
	"context"
	"time"

	"gymflow/internal/events"
	"gymflow/internal/metrics"
)

// PromoteNext promotes the waitlist booking with the smallest position to
// CONFIRMED, if capacity allows. Capacity is reserved before the flip; when
// the flip loses a race against a concurrent cancellation the reservation is
// given back and the next candidate is tried. Doing nothing when capacity is
// gone is correct: the next cancellation triggers another promotion attempt.
func (s *Service) PromoteNext(ctx context.Context, scheduleID int64) error {
	for {
		next, err := s.db.NextWaitlisted(ctx, scheduleID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		reserved, err := s.db.TryReserve(ctx, scheduleID)
		if err != nil {
			return err
		}
		if !reserved {
			// A concurrent promotion or admission consumed the spot.
			return nil
		}

		promoted, err := s.db.PromoteWaitlisted(ctx, next.ID, scheduleID, time.Now().UTC())
		if err != nil {
			s.release(ctx, scheduleID)
			return err
		}
		if !promoted {
			// The candidate was cancelled underneath us; give the spot back
			// and try the next one.
			s.release(ctx, scheduleID)
			continue
		}

		metrics.IncWaitlistPromoted()
		s.bus.PublishJSON(events.TypeBookingConfirmed, next.ID, map[string]int64{
			"booking_id":  next.ID,
			"schedule_id": scheduleID,
			"member_id":   next.MemberID,
		})
		s.logger.Info().
			Int64("booking_id", next.ID).
			Int64("schedule_id", scheduleID).
			Int64("member_id", next.MemberID).
			Msg("waitlist booking promoted")
		return nil
	}
}

// Compact renumbers the schedule's active waitlist to a contiguous 1..N run.
// Cancellation and promotion renumber on their own; this is the standalone
// repair path. Safe to call any number of times.
func (s *Service) Compact(ctx context.Context, scheduleID int64) error {
	return s.db.CompactWaitlist(ctx, scheduleID)
}
