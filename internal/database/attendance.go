package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gymflow/internal/models"
)

const attendanceColumns = `id, schedule_id, member_id, checked_in_at, checked_out_at,
	       check_in_method, check_out_method, is_auto_checkout, created_at`

// OpenAttendance returns the open session for a (schedule, member) pair, or
// nil if none exists.
func (db *DB) OpenAttendance(ctx context.Context, scheduleID, memberID int64) (*models.Attendance, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE schedule_id = ? AND member_id = ? AND checked_out_at IS NULL`,
		scheduleID, memberID)
	a, err := scanAttendance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open attendance: %w", err)
	}
	return a, nil
}

// InsertAttendance opens a new check-in session. The partial unique index on
// open sessions rejects a second open row for the same pair; the caller
// re-reads the existing session in that case.
func (db *DB) InsertAttendance(ctx context.Context, scheduleID, memberID int64, method models.CheckMethod, at time.Time) (*models.Attendance, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO attendance (schedule_id, member_id, checked_in_at, check_in_method,
			is_auto_checkout, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		scheduleID, memberID, at.UTC(), method, at.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, id)
	a, err := scanAttendance(row)
	if err != nil {
		return nil, fmt.Errorf("reread attendance %d: %w", id, err)
	}
	return a, nil
}

// CloseAttendance closes the open session for a (schedule, member) pair. The
// condition on checked_out_at makes manual check-out and the auto-checkout
// sweep race-safe: whichever runs first wins, the other affects zero rows.
func (db *DB) CloseAttendance(ctx context.Context, scheduleID, memberID int64, method models.CheckMethod, at time.Time) (*models.Attendance, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE attendance
		SET checked_out_at = ?, check_out_method = ?
		WHERE schedule_id = ? AND member_id = ? AND checked_out_at IS NULL`,
		at.UTC(), method, scheduleID, memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("close attendance: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, models.ErrNoOpenSession
	}

	row := db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE schedule_id = ? AND member_id = ? AND checked_out_at IS NOT NULL
		ORDER BY checked_in_at DESC LIMIT 1`,
		scheduleID, memberID)
	a, err := scanAttendance(row)
	if err != nil {
		return nil, fmt.Errorf("reread attendance: %w", err)
	}
	return a, nil
}

// CloseOpenForSchedule force-closes every open session of a claimed schedule
// at the given time with method AUTO. Returns the member ids whose sessions
// were closed so auto-checkout events can be emitted per member.
func (db *DB) CloseOpenForSchedule(ctx context.Context, scheduleID int64, at time.Time) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	members, err := collectIDs(tx.QueryContext(ctx, `
		SELECT member_id FROM attendance
		WHERE schedule_id = ? AND checked_out_at IS NULL`,
		scheduleID))
	if err != nil {
		return nil, fmt.Errorf("select open sessions: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE attendance
		SET checked_out_at = ?, check_out_method = ?, is_auto_checkout = 1
		WHERE schedule_id = ? AND checked_out_at IS NULL`,
		at.UTC(), models.CheckMethodAuto, scheduleID,
	); err != nil {
		return nil, fmt.Errorf("close open sessions: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return members, nil
}

// ListAttendance returns every session of a schedule, newest check-in first.
func (db *DB) ListAttendance(ctx context.Context, scheduleID int64) ([]models.Attendance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+attendanceColumns+` FROM attendance
		WHERE schedule_id = ? ORDER BY checked_in_at DESC`,
		scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var sessions []models.Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *a)
	}
	return sessions, rows.Err()
}

func scanAttendance(row rowScanner) (*models.Attendance, error) {
	var a models.Attendance
	var checkedOutAt sql.NullTime
	var checkOutMethod sql.NullString
	err := row.Scan(
		&a.ID, &a.ScheduleID, &a.MemberID, &a.CheckedInAt, &checkedOutAt,
		&a.CheckInMethod, &checkOutMethod, &a.IsAutoCheckout, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		a.CheckedOutAt = &t
	}
	if checkOutMethod.Valid {
		m := models.CheckMethod(checkOutMethod.String)
		a.CheckOutMethod = &m
	}
	return &a, nil
}
