package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the schedule store.
type DB struct {
	*sql.DB
}

// NewDB opens the database at path and runs migrations. The busy timeout lets
// concurrent writers queue on sqlite's single write lock instead of failing.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// sqlite allows a single writer; one pooled connection keeps concurrent
	// callers queued in the pool instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Class schedule occurrences. Timestamps are UTC.
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			class_id INTEGER NOT NULL,
			room_id INTEGER NOT NULL,
			instructor_id INTEGER,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'scheduled',
			max_capacity INTEGER NOT NULL,
			current_bookings INTEGER NOT NULL DEFAULT 0,
			waitlist_count INTEGER NOT NULL DEFAULT 0,
			check_in_enabled BOOLEAN NOT NULL DEFAULT 1,
			auto_checkout_completed BOOLEAN NOT NULL DEFAULT 0,
			auto_checkout_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (current_bookings >= 0),
			CHECK (current_bookings <= max_capacity),
			CHECK (waitlist_count >= 0)
		)`,

		// Bookings are soft state: cancelled, never deleted.
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'confirmed',
			is_waitlist BOOLEAN NOT NULL DEFAULT 0,
			waitlist_position INTEGER,
			notes TEXT,
			booked_at DATETIME NOT NULL,
			cancelled_at DATETIME,
			cancellation_reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (schedule_id) REFERENCES schedules(id)
		)`,

		// Attendance sessions created by check-in and closed by check-out
		// or the auto-checkout sweep.
		`CREATE TABLE IF NOT EXISTS attendance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			member_id INTEGER NOT NULL,
			checked_in_at DATETIME NOT NULL,
			checked_out_at DATETIME,
			check_in_method TEXT NOT NULL,
			check_out_method TEXT,
			is_auto_checkout BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (schedule_id) REFERENCES schedules(id)
		)`,

		// At most one non-cancelled booking per (member, schedule).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_member
			ON bookings(schedule_id, member_id) WHERE status != 'cancelled'`,

		// At most one open attendance session per (schedule, member).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_open_session
			ON attendance(schedule_id, member_id) WHERE checked_out_at IS NULL`,

		`CREATE INDEX IF NOT EXISTS idx_schedules_status_start ON schedules(status, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_status_end ON schedules(status, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_auto_checkout ON schedules(auto_checkout_completed, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_schedule_status ON bookings(schedule_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_waitlist ON bookings(schedule_id, waitlist_position)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_schedule ON attendance(schedule_id, checked_out_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// isUniqueViolation reports whether err is a unique-constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
