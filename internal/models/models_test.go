package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ScheduleStatus
		to      ScheduleStatus
		allowed bool
	}{
		{"scheduled to in_progress", ScheduleStatusScheduled, ScheduleStatusInProgress, true},
		{"in_progress to completed", ScheduleStatusInProgress, ScheduleStatusCompleted, true},
		{"scheduled to cancelled", ScheduleStatusScheduled, ScheduleStatusCancelled, true},
		{"scheduled to postponed", ScheduleStatusScheduled, ScheduleStatusPostponed, true},
		{"in_progress to cancelled", ScheduleStatusInProgress, ScheduleStatusCancelled, true},
		{"postponed back to scheduled", ScheduleStatusPostponed, ScheduleStatusScheduled, true},
		{"no regression to scheduled", ScheduleStatusInProgress, ScheduleStatusScheduled, false},
		{"no regression from completed", ScheduleStatusCompleted, ScheduleStatusInProgress, false},
		{"completed is terminal", ScheduleStatusCompleted, ScheduleStatusCancelled, false},
		{"cancelled is terminal", ScheduleStatusCancelled, ScheduleStatusScheduled, false},
		{"scheduled cannot skip to completed", ScheduleStatusScheduled, ScheduleStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestScheduleStatusTerminal(t *testing.T) {
	assert.False(t, ScheduleStatusScheduled.Terminal())
	assert.False(t, ScheduleStatusInProgress.Terminal())
	assert.True(t, ScheduleStatusCompleted.Terminal())
	assert.True(t, ScheduleStatusCancelled.Terminal())
	assert.True(t, ScheduleStatusPostponed.Terminal())
}

func TestScheduleStatusValid(t *testing.T) {
	assert.True(t, ScheduleStatusScheduled.Valid())
	assert.False(t, ScheduleStatus("archived").Valid())
	assert.False(t, ScheduleStatus("").Valid())
}

func TestScheduleHasCapacity(t *testing.T) {
	s := Schedule{MaxCapacity: 2, CurrentBookings: 1}
	assert.True(t, s.HasCapacity())

	s.CurrentBookings = 2
	assert.False(t, s.HasCapacity())
}

func TestBookingActive(t *testing.T) {
	b := Booking{Status: BookingStatusConfirmed}
	assert.True(t, b.Active())

	b.Status = BookingStatusWaitlist
	assert.True(t, b.Active())

	b.Status = BookingStatusCancelled
	assert.False(t, b.Active())
}

func TestCheckMethodValid(t *testing.T) {
	assert.True(t, CheckMethodSelf.Valid())
	assert.True(t, CheckMethodTrainerManual.Valid())
	assert.True(t, CheckMethodAuto.Valid())
	assert.False(t, CheckMethod("rfid").Valid())
}
