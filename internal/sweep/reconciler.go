package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/metrics"
)

// ReconcileResult reports what a reconciler run did.
type ReconcileResult struct {
	Claimed int `json:"claimed"`
	Closed  int `json:"closed"`
}

// Reconciler closes out attendance sessions left open past a schedule's end
// time plus the grace window. Each candidate schedule is claimed with a
// conditional update before any attendance row is touched, so overlapping
// runs process a schedule at most once.
type Reconciler struct {
	interval time.Duration
	grace    time.Duration
	db       *database.DB
	bus      *events.Bus
	logger   *zerolog.Logger
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReconciler creates an auto-checkout reconciler.
func NewReconciler(db *database.DB, bus *events.Bus, interval, grace time.Duration, logger *zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &Reconciler{
		interval: interval,
		grace:    grace,
		db:       db,
		bus:      bus,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Grace returns the configured grace window.
func (r *Reconciler) Grace() time.Duration {
	return r.grace
}

// Start begins the reconcile loop. The first run happens immediately.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("grace", r.grace).
		Msg("auto-checkout reconciler started")

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop stops the reconcile loop and waits for it to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("auto-checkout reconciler stopped by context")
			return
		case <-r.stopCh:
			r.logger.Info().Msg("auto-checkout reconciler stopped")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Reconciler) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if _, err := r.RunNow(ctx); err != nil {
		r.logger.Error().Err(err).Msg("auto-checkout reconcile failed")
	}
}

// RunNow executes one reconcile pass with the current UTC time. Schedules
// with no open sessions are still claimed so they never come up again.
func (r *Reconciler) RunNow(ctx context.Context) (ReconcileResult, error) {
	start := time.Now()
	now := start.UTC()

	candidates, err := r.db.ListAutoCheckoutCandidates(ctx, now.Add(-r.grace))
	if err != nil {
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	for i := range candidates {
		select {
		case <-ctx.Done():
			r.logger.Info().
				Int("processed", result.Claimed).
				Int("remaining", len(candidates)-result.Claimed).
				Msg("auto-checkout reconcile interrupted")
			return result, ctx.Err()
		default:
		}

		schedule := &candidates[i]

		claimed, err := r.db.ClaimAutoCheckout(ctx, schedule.ID, now)
		if err != nil {
			r.logger.Error().Err(err).
				Int64("schedule_id", schedule.ID).
				Msg("auto-checkout claim failed")
			continue
		}
		if !claimed {
			// Another reconciler instance owns this schedule.
			continue
		}
		result.Claimed++
		metrics.IncAutoCheckoutClaims()

		closeAt := schedule.EndTime.Add(r.grace)
		members, err := r.db.CloseOpenForSchedule(ctx, schedule.ID, closeAt)
		if err != nil {
			// The claim already succeeded and must not be retried, so this
			// schedule's open sessions stay open. Surface it loudly; the
			// failure counter is the alerting signal.
			metrics.IncAutoCheckoutCloseFailures()
			r.logger.Error().Err(err).
				Int64("schedule_id", schedule.ID).
				Msg("ALERT: attendance close failed after auto-checkout claim; sessions left open")
			continue
		}
		result.Closed += len(members)
		metrics.AddAutoCheckoutClosed(len(members))

		for _, memberID := range members {
			r.bus.PublishJSON(events.TypeAttendanceAutoOut, schedule.ID, map[string]any{
				"schedule_id":    schedule.ID,
				"member_id":      memberID,
				"checked_out_at": closeAt,
			})
		}

		r.logger.Info().
			Int64("schedule_id", schedule.ID).
			Int("sessions_closed", len(members)).
			Time("checked_out_at", closeAt).
			Msg("schedule auto-checked out")
	}

	metrics.ObserveSweepDuration("auto_checkout", time.Since(start).Seconds())
	return result, nil
}
