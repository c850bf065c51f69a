// Package attendance records physical check-in and check-out events against
// confirmed bookings.
package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/models"
)

// Service is the attendance tracker.
type Service struct {
	db      *database.DB
	bus     *events.Bus
	logger  *zerolog.Logger
	timeout time.Duration
}

// NewService creates an attendance service. timeout bounds client-facing
// calls; zero disables the bound.
func NewService(db *database.DB, bus *events.Bus, timeout time.Duration, logger *zerolog.Logger) *Service {
	return &Service{
		db:      db,
		bus:     bus,
		logger:  logger,
		timeout: timeout,
	}
}

// CheckIn opens an attendance session for a member. The member needs a
// CONFIRMED booking and the schedule must have check-in enabled. Checking in
// with a session already open returns that session.
func (s *Service) CheckIn(ctx context.Context, scheduleID, memberID int64, method models.CheckMethod) (*models.Attendance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	schedule, err := s.db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.CheckInEnabled {
		return nil, models.ErrNotEligible
	}

	b, err := s.db.GetActiveBooking(ctx, scheduleID, memberID)
	if err != nil {
		return nil, err
	}
	if b == nil || b.Status != models.BookingStatusConfirmed {
		return nil, models.ErrNotEligible
	}

	if open, err := s.db.OpenAttendance(ctx, scheduleID, memberID); err != nil {
		return nil, err
	} else if open != nil {
		return open, nil
	}

	a, err := s.db.InsertAttendance(ctx, scheduleID, memberID, method, time.Now().UTC())
	if errors.Is(err, models.ErrConcurrencyConflict) {
		// A racing check-in opened the session first; return it.
		open, rerr := s.db.OpenAttendance(ctx, scheduleID, memberID)
		if rerr == nil && open != nil {
			return open, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("schedule_id", scheduleID).
		Int64("member_id", memberID).
		Str("method", string(method)).
		Msg("member checked in")
	return a, nil
}

// CheckOut closes the member's open session. The conditional update on
// checked_out_at means a concurrent auto-checkout wins harmlessly: this call
// then reports no open session.
func (s *Service) CheckOut(ctx context.Context, scheduleID, memberID int64, method models.CheckMethod) (*models.Attendance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	a, err := s.db.CloseAttendance(ctx, scheduleID, memberID, method, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("schedule_id", scheduleID).
		Int64("member_id", memberID).
		Str("method", string(method)).
		Msg("member checked out")
	return a, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
