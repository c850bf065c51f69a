package models

import "time"

// ScheduleStatus is the lifecycle state of a class occurrence.
type ScheduleStatus string

const (
	ScheduleStatusScheduled  ScheduleStatus = "scheduled"
	ScheduleStatusInProgress ScheduleStatus = "in_progress"
	ScheduleStatusCompleted  ScheduleStatus = "completed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
	ScheduleStatusPostponed  ScheduleStatus = "postponed"
)

// scheduleTransitions lists allowed status transitions. The scanner only ever
// performs scheduled->in_progress and in_progress->completed; the rest are
// administrative moves.
var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusScheduled:  {ScheduleStatusInProgress, ScheduleStatusCancelled, ScheduleStatusPostponed},
	ScheduleStatusInProgress: {ScheduleStatusCompleted, ScheduleStatusCancelled, ScheduleStatusPostponed},
	ScheduleStatusPostponed:  {ScheduleStatusScheduled},
	ScheduleStatusCompleted:  {},
	ScheduleStatusCancelled:  {},
}

// Valid reports whether s is a known schedule status.
func (s ScheduleStatus) Valid() bool {
	_, ok := scheduleTransitions[s]
	return ok
}

// Terminal reports whether no automatic transition may leave s.
func (s ScheduleStatus) Terminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusCancelled, ScheduleStatusPostponed:
		return true
	}
	return false
}

// CanTransition checks if moving from one status to another is allowed.
func (s ScheduleStatus) CanTransition(to ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Schedule represents one class occurrence with a fixed time window and capacity.
// All timestamps are stored and compared in UTC.
type Schedule struct {
	ID                    int64          `json:"id"`
	ClassID               int64          `json:"class_id"`
	RoomID                int64          `json:"room_id"`
	InstructorID          *int64         `json:"instructor_id,omitempty"`
	StartTime             time.Time      `json:"start_time"`
	EndTime               time.Time      `json:"end_time"`
	Status                ScheduleStatus `json:"status"`
	MaxCapacity           int            `json:"max_capacity"`
	CurrentBookings       int            `json:"current_bookings"`
	WaitlistCount         int            `json:"waitlist_count"`
	CheckInEnabled        bool           `json:"check_in_enabled"`
	AutoCheckoutCompleted bool           `json:"auto_checkout_completed"`
	AutoCheckoutAt        *time.Time     `json:"auto_checkout_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// OpenForBooking reports whether new bookings are accepted.
func (s *Schedule) OpenForBooking() bool {
	return s.Status == ScheduleStatusScheduled
}

// HasCapacity reports whether a confirmed spot is still available.
func (s *Schedule) HasCapacity() bool {
	return s.CurrentBookings < s.MaxCapacity
}

// BookingStatus is the state of a member's claim on a schedule.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusWaitlist  BookingStatus = "waitlist"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
	BookingStatusCompleted BookingStatus = "completed"
)

// Booking represents one member's claim on a schedule. Bookings are soft
// state: they are cancelled, never deleted.
type Booking struct {
	ID                 int64         `json:"id"`
	ScheduleID         int64         `json:"schedule_id"`
	MemberID           int64         `json:"member_id"`
	Status             BookingStatus `json:"status"`
	IsWaitlist         bool          `json:"is_waitlist"`
	WaitlistPosition   *int          `json:"waitlist_position,omitempty"`
	Notes              string        `json:"notes,omitempty"`
	BookedAt           time.Time     `json:"booked_at"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Active reports whether the booking still claims a spot or waitlist slot.
func (b *Booking) Active() bool {
	return b.Status != BookingStatusCancelled
}

// CheckMethod identifies who or what recorded a check-in/out event.
type CheckMethod string

const (
	CheckMethodSelf          CheckMethod = "self"
	CheckMethodTrainerManual CheckMethod = "trainer_manual"
	CheckMethodAuto          CheckMethod = "auto"
)

// Valid reports whether m is a known check method.
func (m CheckMethod) Valid() bool {
	switch m {
	case CheckMethodSelf, CheckMethodTrainerManual, CheckMethodAuto:
		return true
	}
	return false
}

// Attendance is one check-in session for a (schedule, member) pair.
type Attendance struct {
	ID             int64        `json:"id"`
	ScheduleID     int64        `json:"schedule_id"`
	MemberID       int64        `json:"member_id"`
	CheckedInAt    time.Time    `json:"checked_in_at"`
	CheckedOutAt   *time.Time   `json:"checked_out_at,omitempty"`
	CheckInMethod  CheckMethod  `json:"check_in_method"`
	CheckOutMethod *CheckMethod `json:"check_out_method,omitempty"`
	IsAutoCheckout bool         `json:"is_auto_checkout"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Open reports whether the session has not been checked out yet.
func (a *Attendance) Open() bool {
	return a.CheckedOutAt == nil
}
