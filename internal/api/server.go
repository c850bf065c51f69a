// Package api exposes the engine's booking-facing and administrative HTTP
// endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gymflow/internal/attendance"
	"gymflow/internal/booking"
	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/models"
	"gymflow/internal/sweep"
)

// HTTPServer serves the JSON API.
type HTTPServer struct {
	db         *database.DB
	bus        *events.Bus
	bookings   *booking.Service
	attendance *attendance.Service
	scanner    *sweep.Scanner
	reconciler *sweep.Reconciler
	apiKey     string
	logger     *zerolog.Logger
}

// NewHTTPServer creates the API server. An empty apiKey disables
// authentication (local development only).
func NewHTTPServer(
	db *database.DB,
	bus *events.Bus,
	bookings *booking.Service,
	att *attendance.Service,
	scanner *sweep.Scanner,
	reconciler *sweep.Reconciler,
	apiKey string,
	logger *zerolog.Logger,
) *HTTPServer {
	return &HTTPServer{
		db:         db,
		bus:        bus,
		bookings:   bookings,
		attendance: att,
		scanner:    scanner,
		reconciler: reconciler,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// Handler builds the route table.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/schedules", s.auth(s.handleCreateSchedule))
	mux.HandleFunc("/api/schedules/pending", s.auth(s.handlePendingSchedules))
	mux.HandleFunc("/api/schedules/force-status", s.auth(s.handleForceStatus))
	mux.HandleFunc("/api/sweeps/status", s.auth(s.handleStatusSweep))
	mux.HandleFunc("/api/sweeps/auto-checkout", s.auth(s.handleAutoCheckoutSweep))
	mux.HandleFunc("/api/bookings", s.auth(s.handleCreateBooking))
	mux.HandleFunc("/api/bookings/cancel", s.auth(s.handleCancelBooking))
	mux.HandleFunc("/api/check-in", s.auth(s.handleCheckIn))
	mux.HandleFunc("/api/check-out", s.auth(s.handleCheckOut))
	return mux
}

// Start serves the API until the context is cancelled.
func (s *HTTPServer) Start(ctx context.Context, port int) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error().Err(err).Msg("api server error")
	}
}

func (s *HTTPServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// statusForError maps the domain error taxonomy to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrScheduleNotFound),
		errors.Is(err, models.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateBooking),
		errors.Is(err, models.ErrCapacityFull),
		errors.Is(err, models.ErrScheduleNotOpen),
		errors.Is(err, models.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotEligible),
		errors.Is(err, models.ErrNoOpenSession):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
