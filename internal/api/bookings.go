package api

import (
	"net/http"

	"gymflow/internal/booking"
	"gymflow/internal/metrics"
	"gymflow/internal/models"
)

// CreateBookingRequest is the request body for POST /api/bookings.
type CreateBookingRequest struct {
	ScheduleID int64  `json:"schedule_id"`
	MemberID   int64  `json:"member_id"`
	Notes      string `json:"notes,omitempty"`
	NoWaitlist bool   `json:"no_waitlist,omitempty"`
}

// handleCreateBooking admits a member onto a schedule.
// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ScheduleID == 0 || req.MemberID == 0 {
		writeError(w, http.StatusBadRequest, "schedule_id and member_id are required")
		return
	}

	b, err := s.bookings.CreateBooking(r.Context(), req.ScheduleID, req.MemberID, booking.CreateOptions{
		Notes:      req.Notes,
		NoWaitlist: req.NoWaitlist,
	})
	if err != nil {
		status := statusForError(err)
		body := map[string]any{"error": err.Error()}
		if booking.IsRetryable(err) {
			body["retryable"] = true
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// CancelBookingRequest is the request body for POST /api/bookings/cancel.
type CancelBookingRequest struct {
	BookingID int64  `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

// handleCancelBooking cancels a booking. Cancelling twice is a no-op.
// POST /api/bookings/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_booking")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CancelBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookingID == 0 {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	if err := s.bookings.CancelBooking(r.Context(), req.BookingID, req.Reason); err != nil {
		status := statusForError(err)
		body := map[string]any{"error": err.Error()}
		if booking.IsRetryable(err) {
			body["retryable"] = true
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CheckRequest is the request body for check-in and check-out.
type CheckRequest struct {
	ScheduleID int64  `json:"schedule_id"`
	MemberID   int64  `json:"member_id"`
	Method     string `json:"method,omitempty"` // default self
}

func (req *CheckRequest) method() (models.CheckMethod, bool) {
	if req.Method == "" {
		return models.CheckMethodSelf, true
	}
	m := models.CheckMethod(req.Method)
	// AUTO is reserved for the reconciler.
	if !m.Valid() || m == models.CheckMethodAuto {
		return "", false
	}
	return m, true
}

// handleCheckIn opens an attendance session.
// POST /api/check-in
func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("check_in")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	method, ok := req.method()
	if !ok {
		writeError(w, http.StatusBadRequest, "method must be self or trainer_manual")
		return
	}

	a, err := s.attendance.CheckIn(r.Context(), req.ScheduleID, req.MemberID, method)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleCheckOut closes the open attendance session.
// POST /api/check-out
func (s *HTTPServer) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("check_out")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	method, ok := req.method()
	if !ok {
		writeError(w, http.StatusBadRequest, "method must be self or trainer_manual")
		return
	}

	a, err := s.attendance.CheckOut(r.Context(), req.ScheduleID, req.MemberID, method)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}
