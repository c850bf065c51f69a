// Package sweep contains the periodic processes of the engine: the status
// transition scanner and the auto-checkout reconciler. Both are stateless
// loops; every mutation they perform is a conditional update in the schedule
// store, so any number of replicas may run the same timers concurrently.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gymflow/internal/database"
	"gymflow/internal/events"
	"gymflow/internal/metrics"
	"gymflow/internal/models"
)

// runTimeout bounds a single sweep run so one slow batch cannot stall the
// loop indefinitely.
const runTimeout = 5 * time.Minute

// ScanResult reports what a scanner run changed.
type ScanResult struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
}

// Scanner advances schedule statuses along the time axis on a fixed
// interval.
type Scanner struct {
	interval time.Duration
	db       *database.DB
	bus      *events.Bus
	logger   *zerolog.Logger
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScanner creates a status transition scanner.
func NewScanner(db *database.DB, bus *events.Bus, interval time.Duration, logger *zerolog.Logger) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		interval: interval,
		db:       db,
		bus:      bus,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scan loop. The first run happens immediately.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("status scanner started")

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	s.run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("status scanner stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("status scanner stopped")
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Scanner) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		// A failed run leaves schedules in their prior state; the next tick
		// retries.
		s.logger.Error().Err(err).Msg("status scan failed")
	}
}

// RunNow executes one scan with the current UTC time and returns the number
// of schedules moved. Re-running with the same or a later now changes
// nothing further.
func (s *Scanner) RunNow(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	now := start.UTC()

	started, completed, err := s.db.AdvanceDueSchedules(ctx, now)
	if err != nil {
		return ScanResult{}, err
	}

	for _, id := range started {
		s.bus.PublishJSON(events.TypeScheduleStatusChange, id, map[string]string{
			"status": string(models.ScheduleStatusInProgress),
		})
	}
	for _, id := range completed {
		s.bus.PublishJSON(events.TypeScheduleStatusChange, id, map[string]string{
			"status": string(models.ScheduleStatusCompleted),
		})
	}

	metrics.IncScheduleTransitions(string(models.ScheduleStatusInProgress), len(started))
	metrics.IncScheduleTransitions(string(models.ScheduleStatusCompleted), len(completed))
	metrics.ObserveSweepDuration("status_scan", time.Since(start).Seconds())

	if len(started) > 0 || len(completed) > 0 {
		s.logger.Info().
			Int("started", len(started)).
			Int("completed", len(completed)).
			Dur("duration", time.Since(start)).
			Msg("status scan advanced schedules")
	}
	return ScanResult{Started: len(started), Completed: len(completed)}, nil
}
