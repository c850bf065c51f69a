package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gymflow/internal/models"
)

const scheduleColumns = `id, class_id, room_id, instructor_id, start_time, end_time, status,
	       max_capacity, current_bookings, waitlist_count, check_in_enabled,
	       auto_checkout_completed, auto_checkout_at, created_at, updated_at`

// CreateSchedule inserts a new class occurrence. It is called by the external
// scheduling workflow; ownership passes to the engine afterwards.
func (db *DB) CreateSchedule(ctx context.Context, s *models.Schedule) error {
	if s.Status == "" {
		s.Status = models.ScheduleStatusScheduled
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid schedule status %q", s.Status)
	}
	if s.MaxCapacity <= 0 {
		return fmt.Errorf("max_capacity must be positive")
	}
	if !s.EndTime.After(s.StartTime) {
		return fmt.Errorf("end_time must be after start_time")
	}

	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		INSERT INTO schedules (
			class_id, room_id, instructor_id, start_time, end_time, status,
			max_capacity, current_bookings, waitlist_count, check_in_enabled,
			auto_checkout_completed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, 0, ?, ?)`,
		s.ClassID, s.RoomID, s.InstructorID, s.StartTime.UTC(), s.EndTime.UTC(),
		s.Status, s.MaxCapacity, s.CheckInEnabled, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	s.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetSchedule returns a schedule by id.
func (db *DB) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %d: %w", id, err)
	}
	return s, nil
}

// TryReserve increments current_bookings by one only if capacity remains.
// The condition lives in the UPDATE itself so concurrent reservations cannot
// overshoot max_capacity. Returns false when the schedule is full.
func (db *DB) TryReserve(ctx context.Context, scheduleID int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE schedules
		SET current_bookings = current_bookings + 1, updated_at = ?
		WHERE id = ? AND current_bookings < max_capacity`,
		time.Now().UTC(), scheduleID,
	)
	if err != nil {
		return false, fmt.Errorf("reserve capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Release decrements current_bookings by one, clamped at zero. The returned
// bool is false when the counter was already zero; the caller logs that as an
// invariant violation.
func (db *DB) Release(ctx context.Context, scheduleID int64) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE schedules
		SET current_bookings = current_bookings - 1, updated_at = ?
		WHERE id = ? AND current_bookings > 0`,
		time.Now().UTC(), scheduleID,
	)
	if err != nil {
		return false, fmt.Errorf("release capacity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// AdvanceDueSchedules moves schedules forward along the time axis: SCHEDULED
// rows whose start has passed become IN_PROGRESS, IN_PROGRESS rows whose end
// has passed become COMPLETED. Both updates are conditional on the current
// status, so re-running with the same or a later now is a no-op and
// concurrent replicas cannot move a row twice. The ids are captured in the
// same transaction so status-change events carry the affected entities.
func (db *DB) AdvanceDueSchedules(ctx context.Context, now time.Time) (started, completed []int64, err error) {
	now = now.UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	started, err = collectIDs(tx.QueryContext(ctx,
		`SELECT id FROM schedules WHERE status = ? AND start_time <= ?`,
		models.ScheduleStatusScheduled, now))
	if err != nil {
		return nil, nil, fmt.Errorf("select due starts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE schedules SET status = ?, updated_at = ?
		WHERE status = ? AND start_time <= ?`,
		models.ScheduleStatusInProgress, now, models.ScheduleStatusScheduled, now,
	); err != nil {
		return nil, nil, fmt.Errorf("advance to in_progress: %w", err)
	}

	completed, err = collectIDs(tx.QueryContext(ctx,
		`SELECT id FROM schedules WHERE status = ? AND end_time < ?`,
		models.ScheduleStatusInProgress, now))
	if err != nil {
		return nil, nil, fmt.Errorf("select due ends: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE schedules SET status = ?, updated_at = ?
		WHERE status = ? AND end_time < ?`,
		models.ScheduleStatusCompleted, now, models.ScheduleStatusInProgress, now,
	); err != nil {
		return nil, nil, fmt.Errorf("advance to completed: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return started, completed, nil
}

// ListDueTransitions returns schedules a scanner run at now would move.
func (db *DB) ListDueTransitions(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	now = now.UTC()
	rows, err := db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE (status = ? AND start_time <= ?) OR (status = ? AND end_time < ?)
		ORDER BY start_time`,
		models.ScheduleStatusScheduled, now, models.ScheduleStatusInProgress, now,
	)
	if err != nil {
		return nil, fmt.Errorf("list due transitions: %w", err)
	}
	return scanSchedules(rows)
}

// ClaimAutoCheckout atomically marks a schedule as owned by this reconciler
// run. Exactly one concurrent caller wins; losers get false and skip the
// schedule.
func (db *DB) ClaimAutoCheckout(ctx context.Context, scheduleID int64, at time.Time) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE schedules
		SET auto_checkout_completed = 1, auto_checkout_at = ?, updated_at = ?
		WHERE id = ? AND auto_checkout_completed = 0`,
		at.UTC(), at.UTC(), scheduleID,
	)
	if err != nil {
		return false, fmt.Errorf("claim auto-checkout: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ListAutoCheckoutCandidates returns schedules whose grace deadline has
// passed and that no reconciler instance has claimed yet. The cutoff is
// now minus the grace window.
func (db *DB) ListAutoCheckoutCandidates(ctx context.Context, cutoff time.Time) ([]models.Schedule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE check_in_enabled = 1 AND auto_checkout_completed = 0 AND end_time <= ?
		ORDER BY end_time`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list auto-checkout candidates: %w", err)
	}
	return scanSchedules(rows)
}

// ForceStatus sets a schedule's status directly, bypassing the scanner. The
// move is still validated against the status machine. Returns the number of
// rows affected.
func (db *DB) ForceStatus(ctx context.Context, scheduleID int64, to models.ScheduleStatus) (int64, error) {
	if !to.Valid() {
		return 0, fmt.Errorf("invalid schedule status %q", to)
	}

	current, err := db.GetSchedule(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	if current.Status == to {
		return 0, nil
	}
	if !current.Status.CanTransition(to) {
		return 0, fmt.Errorf("cannot move schedule %d from %s to %s: %w",
			scheduleID, current.Status, to, models.ErrScheduleNotOpen)
	}

	// Conditional on the observed status so a racing scanner run cannot be
	// overwritten blindly.
	result, err := db.ExecContext(ctx, `
		UPDATE schedules SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), scheduleID, current.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("force status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, models.ErrConcurrencyConflict
	}
	return rows, nil
}

func collectIDs(rows *sql.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	var instructorID sql.NullInt64
	var autoCheckoutAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.ClassID, &s.RoomID, &instructorID, &s.StartTime, &s.EndTime,
		&s.Status, &s.MaxCapacity, &s.CurrentBookings, &s.WaitlistCount,
		&s.CheckInEnabled, &s.AutoCheckoutCompleted, &autoCheckoutAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if instructorID.Valid {
		s.InstructorID = &instructorID.Int64
	}
	if autoCheckoutAt.Valid {
		t := autoCheckoutAt.Time
		s.AutoCheckoutAt = &t
	}
	return &s, nil
}

func scanSchedules(rows *sql.Rows) ([]models.Schedule, error) {
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}
