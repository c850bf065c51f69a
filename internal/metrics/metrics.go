package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by resulting status.",
		},
		[]string{"status"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	waitlistPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "waitlist_promoted_total",
			Help:      "Count of waitlist bookings promoted to confirmed.",
		},
	)

	scheduleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "schedule_transitions_total",
			Help:      "Count of automatic schedule status transitions by target status.",
		},
		[]string{"to"},
	)

	autoCheckoutClaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "auto_checkout_claims_total",
			Help:      "Count of schedules claimed for auto-checkout.",
		},
	)

	autoCheckoutClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "auto_checkout_sessions_closed_total",
			Help:      "Count of attendance sessions closed automatically.",
		},
	)

	autoCheckoutCloseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "auto_checkout_close_failures_total",
			Help:      "Count of attendance closes that failed after a successful claim. Alert on any increase.",
		},
	)

	capacityClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "capacity_release_clamped_total",
			Help:      "Count of capacity releases that would have gone below zero.",
		},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gymflow",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweep runs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"sweep"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gymflow",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated, bookingCancelled, waitlistPromoted,
			scheduleTransitions, autoCheckoutClaims, autoCheckoutClosed,
			autoCheckoutCloseFailures, capacityClamped, sweepDuration,
			httpRequests,
		)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncWaitlistPromoted() {
	waitlistPromoted.Inc()
}

func IncScheduleTransitions(to string, count int) {
	scheduleTransitions.WithLabelValues(to).Add(float64(count))
}

func IncAutoCheckoutClaims() {
	autoCheckoutClaims.Inc()
}

func AddAutoCheckoutClosed(count int) {
	autoCheckoutClosed.Add(float64(count))
}

func IncAutoCheckoutCloseFailures() {
	autoCheckoutCloseFailures.Inc()
}

func IncCapacityClamped() {
	capacityClamped.Inc()
}

func ObserveSweepDuration(sweep string, seconds float64) {
	sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
