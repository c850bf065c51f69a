package models

import "errors"

// Domain errors returned by the booking and attendance services. API handlers
// translate them to HTTP statuses; everything else surfaces as a persistence
// failure.
var (
	// ErrScheduleNotFound means the referenced schedule does not exist.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrScheduleNotOpen means the schedule's status does not allow the
	// requested operation.
	ErrScheduleNotOpen = errors.New("schedule is not open for booking")

	// ErrBookingNotFound means the referenced booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrDuplicateBooking means the member already holds an active booking
	// on the schedule.
	ErrDuplicateBooking = errors.New("member already has an active booking for this schedule")

	// ErrCapacityFull is surfaced only when the caller opted out of the
	// waitlist; otherwise a full schedule degrades to a waitlist entry.
	ErrCapacityFull = errors.New("schedule is at full capacity")

	// ErrNotEligible means check-in was attempted without a confirmed
	// booking or with check-in disabled.
	ErrNotEligible = errors.New("member is not eligible to check in")

	// ErrNoOpenSession means check-out was attempted with no open
	// attendance session.
	ErrNoOpenSession = errors.New("no open attendance session")

	// ErrConcurrencyConflict means a conditional update affected zero rows
	// unexpectedly; the caller should retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)
