package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drippay/backend/internal/logging"
	"github.com/rs/zerolog"
)

// Runner runs one reconciliation batch
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler runs reconciliation on a fixed interval
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
	lastRun    time.Time
	lastResult *Result
	logger     zerolog.Logger
}

// NewScheduler creates a new reconciliation scheduler
func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logging.NewLogger("reconcile"),
	}
}

// Start begins periodic reconciliation
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("Reconciliation scheduler started")
	return nil
}

// Stop stops periodic reconciliation and waits for an in-flight run
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("Reconciliation scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastRun returns the time of the last completed run
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// LastResult returns the result of the last completed run
func (s *Scheduler) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunNow(ctx); err != nil {
				logging.LogError(err, "", "reconcile", "run")
			}
		}
	}
}

// RunNow triggers an immediate reconciliation run
func (s *Scheduler) RunNow(ctx context.Context) (*Result, error) {
	result, err := s.runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResult = result
	s.mu.Unlock()

	return result, nil
}
