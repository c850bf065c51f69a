package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gymflow/internal/models"
)

const bookingColumns = `id, schedule_id, member_id, status, is_waitlist, waitlist_position,
	       notes, booked_at, cancelled_at, cancellation_reason, created_at, updated_at`

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// GetActiveBooking returns the member's non-cancelled booking for a schedule,
// or nil if none exists.
func (db *DB) GetActiveBooking(ctx context.Context, scheduleID, memberID int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE schedule_id = ? AND member_id = ? AND status != ?`,
		scheduleID, memberID, models.BookingStatusCancelled)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active booking: %w", err)
	}
	return b, nil
}

// InsertConfirmed creates a CONFIRMED booking. The caller must hold a
// capacity reservation; on a duplicate the reservation must be released.
func (db *DB) InsertConfirmed(ctx context.Context, scheduleID, memberID int64, notes string) (*models.Booking, error) {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		INSERT INTO bookings (schedule_id, member_id, status, is_waitlist, notes,
			booked_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
		scheduleID, memberID, models.BookingStatusConfirmed, notes, now, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicateBooking
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}
	return db.GetBooking(ctx, id)
}

// EnqueueWaitlist creates a WAITLIST booking at the tail of the queue. The
// waitlist counter increment and the position assignment happen in one
// transaction so concurrent enqueues get distinct positions.
func (db *DB) EnqueueWaitlist(ctx context.Context, scheduleID, memberID int64, notes string) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		UPDATE schedules SET waitlist_count = waitlist_count + 1, updated_at = ?
		WHERE id = ?`,
		now, scheduleID,
	); err != nil {
		return nil, fmt.Errorf("increment waitlist count: %w", err)
	}

	var position int
	if err = tx.QueryRowContext(ctx,
		`SELECT waitlist_count FROM schedules WHERE id = ?`, scheduleID,
	).Scan(&position); err != nil {
		return nil, fmt.Errorf("read waitlist count: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (schedule_id, member_id, status, is_waitlist,
			waitlist_position, notes, booked_at, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		scheduleID, memberID, models.BookingStatusWaitlist, position, notes, now, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrDuplicateBooking
		}
		return nil, fmt.Errorf("insert waitlist booking: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return db.GetBooking(ctx, id)
}

// CancelConfirmed flips a CONFIRMED booking to CANCELLED. The condition on
// the current status makes the cancel idempotent under races: the loser sees
// zero rows and backs off.
func (db *DB) CancelConfirmed(ctx context.Context, bookingID int64, reason string, at time.Time) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BookingStatusCancelled, at.UTC(), reason, at.UTC(),
		bookingID, models.BookingStatusConfirmed,
	)
	if err != nil {
		return false, fmt.Errorf("cancel confirmed booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CancelWaitlisted flips a WAITLIST booking to CANCELLED, decrements the
// schedule's waitlist counter and renumbers the surviving queue, all in one
// transaction. Renumbering cannot be deferred: a concurrent enqueue derives
// its position from waitlist_count, so a hole left between commit and a later
// compaction would let the new tail collide with a surviving position.
func (db *DB) CancelWaitlisted(ctx context.Context, bookingID, scheduleID int64, reason string, at time.Time) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, is_waitlist = 0, waitlist_position = NULL,
		    cancelled_at = ?, cancellation_reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BookingStatusCancelled, at.UTC(), reason, at.UTC(),
		bookingID, models.BookingStatusWaitlist,
	)
	if err != nil {
		return false, fmt.Errorf("cancel waitlist booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE schedules SET waitlist_count = waitlist_count - 1, updated_at = ?
		WHERE id = ? AND waitlist_count > 0`,
		at.UTC(), scheduleID,
	); err != nil {
		return false, fmt.Errorf("decrement waitlist count: %w", err)
	}

	if err = compactWaitlistTx(ctx, tx, scheduleID, at.UTC()); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// NextWaitlisted returns the WAITLIST booking with the smallest position for
// a schedule, or nil if the waitlist is empty.
func (db *DB) NextWaitlisted(ctx context.Context, scheduleID int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE schedule_id = ? AND status = ?
		ORDER BY waitlist_position LIMIT 1`,
		scheduleID, models.BookingStatusWaitlist)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next waitlisted: %w", err)
	}
	return b, nil
}

// PromoteWaitlisted flips a WAITLIST booking to CONFIRMED, decrements the
// waitlist counter and renumbers the remaining queue in one transaction. The
// caller must hold a capacity reservation. Returns false when the booking was
// no longer waitlisted (racing cancellation); the caller must release the
// reservation in that case.
func (db *DB) PromoteWaitlisted(ctx context.Context, bookingID, scheduleID int64, at time.Time) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, is_waitlist = 0, waitlist_position = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BookingStatusConfirmed, at.UTC(), bookingID, models.BookingStatusWaitlist,
	)
	if err != nil {
		return false, fmt.Errorf("promote booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE schedules SET waitlist_count = waitlist_count - 1, updated_at = ?
		WHERE id = ? AND waitlist_count > 0`,
		at.UTC(), scheduleID,
	); err != nil {
		return false, fmt.Errorf("decrement waitlist count: %w", err)
	}

	if err = compactWaitlistTx(ctx, tx, scheduleID, at.UTC()); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListWaitlisted returns the active waitlist for a schedule in promotion
// order.
func (db *DB) ListWaitlisted(ctx context.Context, scheduleID int64) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE schedule_id = ? AND status = ?
		ORDER BY waitlist_position`,
		scheduleID, models.BookingStatusWaitlist)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// CompactWaitlist renumbers the active waitlist to a contiguous 1..N run in
// ascending position order. Cancel and promote already renumber inside their
// own transactions; this is the standalone repair operation. Re-running on an
// already-compact waitlist changes nothing.
func (db *DB) CompactWaitlist(ctx context.Context, scheduleID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := compactWaitlistTx(ctx, tx, scheduleID, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// compactWaitlistTx renumbers the active waitlist within an open transaction.
// Rows already at their target position are left untouched.
func compactWaitlistTx(ctx context.Context, tx *sql.Tx, scheduleID int64, at time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, waitlist_position FROM bookings
		WHERE schedule_id = ? AND status = ?
		ORDER BY waitlist_position`,
		scheduleID, models.BookingStatusWaitlist)
	if err != nil {
		return fmt.Errorf("select waitlist: %w", err)
	}

	type entry struct {
		id       int64
		position sql.NullInt64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.position); err != nil {
			rows.Close()
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for i, e := range entries {
		want := int64(i + 1)
		if e.position.Valid && e.position.Int64 == want {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookings SET waitlist_position = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			want, at, e.id, models.BookingStatusWaitlist,
		); err != nil {
			return fmt.Errorf("renumber booking %d: %w", e.id, err)
		}
	}
	return nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var position sql.NullInt64
	var notes, reason sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.ScheduleID, &b.MemberID, &b.Status, &b.IsWaitlist, &position,
		&notes, &b.BookedAt, &cancelledAt, &reason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if position.Valid {
		p := int(position.Int64)
		b.WaitlistPosition = &p
	}
	if notes.Valid {
		b.Notes = notes.String
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	if reason.Valid {
		b.CancellationReason = reason.String
	}
	return &b, nil
}
