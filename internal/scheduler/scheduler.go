package scheduler

import (
	"context"
	"errors"
	"log"
	gosync "sync"
	"time"

	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/sync"
)

const (
	// resyncInterval is how often a forced resync is due.
	resyncInterval = 24 * time.Hour

	// checkInterval is how often the due check runs. The check reads the
	// persisted run history, so it stays idempotent across restarts.
	checkInterval = time.Hour

	// History retention for old sync runs.
	cleanupInterval  = 24 * time.Hour
	runRetentionDays = 90
)

// RunHistory is the slice of persistence the scheduler consults.
type RunHistory interface {
	LatestRun(mode db.RunMode) (*db.SyncRun, error)
	CleanOldRuns(cutoff time.Time) (int64, error)
}

// Scheduler triggers a forced resync once per day and prunes old run
// history.
type Scheduler struct {
	runner  *sync.Runner
	history RunHistory
	enabled bool

	wg      gosync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      gosync.Mutex

	now func() time.Time
}

// New creates a scheduler.
func New(runner *sync.Runner, history RunHistory, enabled bool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:  runner,
		history: history,
		enabled: enabled,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Start launches the background loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.enabled {
		s.wg.Add(1)
		go s.resyncLoop()
		log.Printf("Scheduler started (daily resync every %v)", resyncInterval)
	} else {
		log.Println("Scheduler started (daily resync disabled)")
	}

	s.wg.Add(1)
	go s.cleanupLoop()
}

// Stop gracefully shuts down the background loops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped")
}

func (s *Scheduler) resyncLoop() {
	defer s.wg.Done()

	// Check once at startup, then hourly.
	s.maybeResync()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.maybeResync()
		}
	}
}

// maybeResync triggers a forced resync if none ran within the interval
// and no run is currently active.
func (s *Scheduler) maybeResync() {
	if s.runner.Running() {
		return
	}

	due, err := s.resyncDue()
	if err != nil {
		log.Printf("Failed to check resync due state: %v", err)
		return
	}
	if !due {
		return
	}

	log.Println("Starting scheduled forced resync")
	if _, err := s.runner.Run(s.ctx, true); err != nil {
		if errors.Is(err, sync.ErrNotConfigured) {
			return
		}
		log.Printf("Scheduled resync failed: %v", err)
	}
}

// resyncDue consults the persisted run history so a restart does not
// trigger a redundant resync.
func (s *Scheduler) resyncDue() (bool, error) {
	last, err := s.history.LatestRun(db.RunModeForce)
	if errors.Is(err, db.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return s.now().Sub(last.StartedAt) >= resyncInterval, nil
}

func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.now().AddDate(0, 0, -runRetentionDays)
			deleted, err := s.history.CleanOldRuns(cutoff)
			if err != nil {
				log.Printf("Failed to clean old sync runs: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Cleaned %d old sync runs", deleted)
			}
		}
	}
}
