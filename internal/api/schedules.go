package api

import (
	"net/http"
	"time"

	"gymflow/internal/events"
	"gymflow/internal/metrics"
	"gymflow/internal/models"
)

// CreateScheduleRequest is the request body for POST /api/schedules.
type CreateScheduleRequest struct {
	ClassID        int64  `json:"class_id"`
	RoomID         int64  `json:"room_id"`
	InstructorID   *int64 `json:"instructor_id,omitempty"`
	StartTime      string `json:"start_time"` // RFC 3339
	EndTime        string `json:"end_time"`   // RFC 3339
	MaxCapacity    int    `json:"max_capacity"`
	CheckInEnabled *bool  `json:"check_in_enabled,omitempty"` // default true
}

// handleCreateSchedule inserts a class occurrence on behalf of the external
// scheduling workflow.
// POST /api/schedules
func (s *HTTPServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_schedule")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req CreateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time; expected RFC 3339")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_time; expected RFC 3339")
		return
	}
	if req.MaxCapacity <= 0 {
		writeError(w, http.StatusBadRequest, "max_capacity must be positive")
		return
	}

	checkInEnabled := true
	if req.CheckInEnabled != nil {
		checkInEnabled = *req.CheckInEnabled
	}

	schedule := &models.Schedule{
		ClassID:        req.ClassID,
		RoomID:         req.RoomID,
		InstructorID:   req.InstructorID,
		StartTime:      startTime.UTC(),
		EndTime:        endTime.UTC(),
		MaxCapacity:    req.MaxCapacity,
		CheckInEnabled: checkInEnabled,
	}
	if err := s.db.CreateSchedule(r.Context(), schedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, schedule)
}

// handlePendingSchedules lists schedules a sweep would act on.
// GET /api/schedules/pending?kind=transition|auto_checkout
func (s *HTTPServer) handlePendingSchedules(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("pending_schedules")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now().UTC()
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", "transition":
		schedules, err := s.db.ListDueTransitions(r.Context(), now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "count": len(schedules)})
	case "auto_checkout":
		schedules, err := s.db.ListAutoCheckoutCandidates(r.Context(), now.Add(-s.reconciler.Grace()))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "count": len(schedules)})
	default:
		writeError(w, http.StatusBadRequest, "kind must be transition or auto_checkout")
	}
}

// ForceStatusRequest is the request body for POST /api/schedules/force-status.
type ForceStatusRequest struct {
	ScheduleID int64  `json:"schedule_id"`
	Status     string `json:"status"`
}

// ForceStatusResponse reports the outcome of a forced transition.
type ForceStatusResponse struct {
	Success      bool   `json:"success"`
	RowsAffected int64  `json:"rows_affected"`
	Error        string `json:"error,omitempty"`
}

// handleForceStatus moves a schedule to an explicit status, bypassing the
// scanner. This is the administrative path for CANCELLED and POSTPONED.
// POST /api/schedules/force-status
func (s *HTTPServer) handleForceStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("force_status")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ForceStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rows, err := s.db.ForceStatus(r.Context(), req.ScheduleID, models.ScheduleStatus(req.Status))
	if err != nil {
		writeJSON(w, statusForError(err), ForceStatusResponse{Error: err.Error()})
		return
	}

	// Members booked on a cancelled or postponed class hear about it the same
	// way they hear about scanner transitions. Zero rows means the status did
	// not change, so there is nothing to announce.
	if rows > 0 {
		s.bus.PublishJSON(events.TypeScheduleStatusChange, req.ScheduleID, map[string]string{
			"status": req.Status,
		})
	}

	s.logger.Info().
		Int64("schedule_id", req.ScheduleID).
		Str("status", req.Status).
		Int64("rows_affected", rows).
		Msg("schedule status forced")
	writeJSON(w, http.StatusOK, ForceStatusResponse{Success: true, RowsAffected: rows})
}

// handleStatusSweep triggers one scanner run.
// POST /api/sweeps/status
func (s *HTTPServer) handleStatusSweep(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status_sweep")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	result, err := s.scanner.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAutoCheckoutSweep triggers one reconciler run.
// POST /api/sweeps/auto-checkout
func (s *HTTPServer) handleAutoCheckoutSweep(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("auto_checkout_sweep")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	result, err := s.reconciler.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
