package sweep

import (
	"context"
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

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestSchedule(t *testing.T, db *database.DB, start, end time.Time) *models.Schedule {
	t.Helper()
	s := &models.Schedule{
		ClassID:        1,
		RoomID:         1,
		StartTime:      start,
		EndTime:        end,
		MaxCapacity:    5,
		CheckInEnabled: true,
	}
	require.NoError(t, db.CreateSchedule(context.Background(), s))
	return s
}

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

func newRecordingBus() (*events.Bus, *eventRecorder) {
	bus := events.NewBus()
	recorder := &eventRecorder{}
	bus.SubscribeAll(recorder.record)
	return bus, recorder
}

func TestScannerRunNow(t *testing.T) {
	db := newTestDB(t)
	bus, recorder := newRecordingBus()
	logger := zerolog.Nop()
	scanner := NewScanner(db, bus, time.Minute, &logger)

	ctx := context.Background()
	now := time.Now().UTC()

	due := newTestSchedule(t, db, now.Add(-time.Second), now.Add(time.Hour))
	over := newTestSchedule(t, db, now.Add(-2*time.Hour), now.Add(-time.Hour))
	newTestSchedule(t, db, now.Add(time.Hour), now.Add(2*time.Hour))

	result, err := scanner.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Started)
	assert.Equal(t, 1, result.Completed)

	got, err := db.GetSchedule(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusInProgress, got.Status)

	got, err = db.GetSchedule(ctx, over.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCompleted, got.Status)

	changes := recorder.byType(events.TypeScheduleStatusChange)
	assert.Len(t, changes, 3)

	// A second run finds nothing left to move.
	result, err = scanner.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, result)
}

func TestScannerSkipsTerminalStatuses(t *testing.T) {
	db := newTestDB(t)
	bus, _ := newRecordingBus()
	logger := zerolog.Nop()
	scanner := NewScanner(db, bus, time.Minute, &logger)

	ctx := context.Background()
	now := time.Now().UTC()

	cancelled := newTestSchedule(t, db, now.Add(-2*time.Hour), now.Add(-time.Hour))
	_, err := db.ForceStatus(ctx, cancelled.ID, models.ScheduleStatusCancelled)
	require.NoError(t, err)

	postponed := newTestSchedule(t, db, now.Add(-2*time.Hour), now.Add(-time.Hour))
	_, err = db.ForceStatus(ctx, postponed.ID, models.ScheduleStatusPostponed)
	require.NoError(t, err)

	result, err := scanner.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, result)

	got, err := db.GetSchedule(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCancelled, got.Status)

	got, err = db.GetSchedule(ctx, postponed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusPostponed, got.Status)
}

func TestScannerStartStop(t *testing.T) {
	db := newTestDB(t)
	bus, _ := newRecordingBus()
	logger := zerolog.Nop()

	now := time.Now().UTC()
	due := newTestSchedule(t, db, now.Add(-time.Second), now.Add(time.Hour))

	scanner := NewScanner(db, bus, time.Hour, &logger)
	scanner.Start(context.Background())
	// Double start is a no-op.
	scanner.Start(context.Background())
	scanner.Stop()

	// The immediate first run already advanced the due schedule.
	got, err := db.GetSchedule(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusInProgress, got.Status)
}
