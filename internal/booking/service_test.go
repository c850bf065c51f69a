package booking

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *database.DB, *eventRecorder) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.NewBus()
	recorder := &eventRecorder{}
	bus.SubscribeAll(recorder.record)

	logger := zerolog.Nop()
	return NewService(db, bus, 5*time.Second, &logger), db, recorder
}

func newOpenSchedule(t *testing.T, db *database.DB, capacity int) *models.Schedule {
	t.Helper()
	start := time.Now().UTC().Add(time.Hour)
	s := &models.Schedule{
		ClassID:        1,
		RoomID:         1,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		MaxCapacity:    capacity,
		CheckInEnabled: true,
	}
	require.NoError(t, db.CreateSchedule(context.Background(), s))
	return s
}

func TestCreateBookingConfirmed(t *testing.T) {
	svc, db, recorder := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 2)

	b, err := svc.CreateBooking(ctx, s.ID, 100, CreateOptions{Notes: "first time"})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentBookings)

	created := recorder.byType(events.TypeBookingCreated)
	require.Len(t, created, 1)
	assert.Equal(t, b.ID, created[0].EntityID)
	assert.False(t, created[0].OccurredAt.IsZero())
	assert.NotEmpty(t, created[0].ID)
}

func TestCreateBookingErrors(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, 9999, 100, CreateOptions{})
	assert.ErrorIs(t, err, models.ErrScheduleNotFound)

	s := newOpenSchedule(t, db, 2)
	_, err = db.ForceStatus(ctx, s.ID, models.ScheduleStatusCancelled)
	require.NoError(t, err)

	_, err = svc.CreateBooking(ctx, s.ID, 100, CreateOptions{})
	assert.ErrorIs(t, err, models.ErrScheduleNotOpen)

	open := newOpenSchedule(t, db, 2)
	_, err = svc.CreateBooking(ctx, open.ID, 100, CreateOptions{})
	require.NoError(t, err)

	_, err = svc.CreateBooking(ctx, open.ID, 100, CreateOptions{})
	assert.ErrorIs(t, err, models.ErrDuplicateBooking)
}

func TestCreateBookingFullGoesToWaitlist(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 1)

	_, err := svc.CreateBooking(ctx, s.ID, 1, CreateOptions{})
	require.NoError(t, err)

	b, err := svc.CreateBooking(ctx, s.ID, 2, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusWaitlist, b.Status)
	require.NotNil(t, b.WaitlistPosition)
	assert.Equal(t, 1, *b.WaitlistPosition)

	// Opting out of the waitlist surfaces the capacity error instead.
	_, err = svc.CreateBooking(ctx, s.ID, 3, CreateOptions{NoWaitlist: true})
	assert.ErrorIs(t, err, models.ErrCapacityFull)

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentBookings)
	assert.Equal(t, 1, got.WaitlistCount)
}

func TestConcurrentBookingsNeverOverbook(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 2)

	const members = 3
	var wg sync.WaitGroup
	results := make([]*models.Booking, members)
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := svc.CreateBooking(ctx, s.ID, int64(i+1), CreateOptions{})
			require.NoError(t, err)
			results[i] = b
		}(i)
	}
	wg.Wait()

	confirmed, waitlisted := 0, 0
	for _, b := range results {
		switch b.Status {
		case models.BookingStatusConfirmed:
			confirmed++
		case models.BookingStatusWaitlist:
			waitlisted++
			require.NotNil(t, b.WaitlistPosition)
			assert.Equal(t, 1, *b.WaitlistPosition)
		}
	}
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 1, waitlisted)

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentBookings)
	assert.Equal(t, 1, got.WaitlistCount)
}

func TestCancelConfirmedPromotesWaitlist(t *testing.T) {
	svc, db, recorder := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 2)

	first, err := svc.CreateBooking(ctx, s.ID, 1, CreateOptions{})
	require.NoError(t, err)
	_, err = svc.CreateBooking(ctx, s.ID, 2, CreateOptions{})
	require.NoError(t, err)
	queued, err := svc.CreateBooking(ctx, s.ID, 3, CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusWaitlist, queued.Status)

	require.NoError(t, svc.CancelBooking(ctx, first.ID, "schedule conflict"))

	promoted, err := db.GetBooking(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, promoted.Status)
	assert.False(t, promoted.IsWaitlist)
	assert.Nil(t, promoted.WaitlistPosition)

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentBookings)
	assert.Equal(t, 0, got.WaitlistCount)

	cancelled := recorder.byType(events.TypeBookingCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first.ID, cancelled[0].EntityID)

	// The payload carries ids, not a stale pre-cancellation snapshot.
	var cancelPayload struct {
		BookingID  int64 `json:"booking_id"`
		ScheduleID int64 `json:"schedule_id"`
		MemberID   int64 `json:"member_id"`
	}
	require.NoError(t, json.Unmarshal(cancelled[0].Payload, &cancelPayload))
	assert.Equal(t, first.ID, cancelPayload.BookingID)
	assert.Equal(t, s.ID, cancelPayload.ScheduleID)
	assert.Equal(t, int64(1), cancelPayload.MemberID)
	assert.NotContains(t, string(cancelled[0].Payload), "confirmed")

	confirmed := recorder.byType(events.TypeBookingConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, queued.ID, confirmed[0].EntityID)
}

func TestCancelIsIdempotent(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 2)

	b, err := svc.CreateBooking(ctx, s.ID, 1, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.CancelBooking(ctx, b.ID, "first"))
	require.NoError(t, svc.CancelBooking(ctx, b.ID, "second"))

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentBookings)

	assert.ErrorIs(t, svc.CancelBooking(ctx, 9999, ""), models.ErrBookingNotFound)
}

func TestCancelWaitlistedCompactsQueue(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 1)

	_, err := svc.CreateBooking(ctx, s.ID, 1, CreateOptions{})
	require.NoError(t, err)

	var queued []*models.Booking
	for m := int64(2); m <= 4; m++ {
		b, err := svc.CreateBooking(ctx, s.ID, m, CreateOptions{})
		require.NoError(t, err)
		queued = append(queued, b)
	}

	// Cancel the middle entry; the queue renumbers to 1..2.
	require.NoError(t, svc.CancelBooking(ctx, queued[1].ID, ""))

	remaining, err := db.ListWaitlisted(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, queued[0].ID, remaining[0].ID)
	assert.Equal(t, 1, *remaining[0].WaitlistPosition)
	assert.Equal(t, queued[2].ID, remaining[1].ID)
	assert.Equal(t, 2, *remaining[1].WaitlistPosition)

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.WaitlistCount)
}

func TestPromoteNextWithEmptyWaitlist(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 2)

	require.NoError(t, svc.PromoteNext(ctx, s.ID))

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentBookings)
}

func TestPromoteNextWithoutCapacityDoesNothing(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 1)

	_, err := svc.CreateBooking(ctx, s.ID, 1, CreateOptions{})
	require.NoError(t, err)
	queued, err := svc.CreateBooking(ctx, s.ID, 2, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.PromoteNext(ctx, s.ID))

	got, err := db.GetBooking(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusWaitlist, got.Status)
}

func TestConcurrentCancelsKeepCounterConsistent(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	s := newOpenSchedule(t, db, 5)

	var bookings []*models.Booking
	for m := int64(1); m <= 5; m++ {
		b, err := svc.CreateBooking(ctx, s.ID, m, CreateOptions{})
		require.NoError(t, err)
		bookings = append(bookings, b)
	}

	// Every booking is cancelled twice concurrently; the conditional
	// updates make the duplicates harmless.
	var wg sync.WaitGroup
	for _, b := range bookings {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				assert.NoError(t, svc.CancelBooking(ctx, id, ""))
			}(b.ID)
		}
	}
	wg.Wait()

	got, err := db.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentBookings)
	assert.Equal(t, 0, got.WaitlistCount)
}
