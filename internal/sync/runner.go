package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/metrics"
)

// ErrNotConfigured is returned when a run is requested without a
// configured calendar service.
var ErrNotConfigured = errors.New("calendar sync is not configured")

// Store is what the runner needs from persistence: the card collection,
// the linkage patch writes, and the run history.
type Store interface {
	ListCards() ([]*card.Card, error)
	UpdateCardLink(cardID string, link card.GoogleLink) error
	SaveRun(run *db.SyncRun) error
	LatestRun(mode db.RunMode) (*db.SyncRun, error)
}

// flight is one in-progress run. Joining callers wait on done and read
// the shared result.
type flight struct {
	done   chan struct{}
	result *RunResult
	err    error
}

// Runner serializes reconciliation runs. At most one run is in flight
// system-wide; overlapping requests coalesce onto the active run
// instead of queueing a second one.
type Runner struct {
	engine     *Engine
	store      Store
	metrics    *metrics.Metrics
	configured bool

	mu     sync.Mutex
	active *flight

	now func() time.Time
}

// NewRunner creates a run controller. metrics may be nil.
func NewRunner(engine *Engine, store Store, m *metrics.Metrics, configured bool) *Runner {
	return &Runner{
		engine:     engine,
		store:      store,
		metrics:    m,
		configured: configured,
		now:        time.Now,
	}
}

// Running reports whether a run is currently in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Run executes a reconciliation over all stored cards. If a run is
// already in progress the caller receives that run's eventual result
// rather than starting a second one.
func (r *Runner) Run(ctx context.Context, force bool) (*RunResult, error) {
	if !r.configured {
		return nil, ErrNotConfigured
	}

	r.mu.Lock()
	if f := r.active; f != nil {
		r.mu.Unlock()
		select {
		case <-f.done:
			return f.result, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	r.active = f
	r.mu.Unlock()

	// The flight is detached from the triggering caller: once started, a
	// run always completes with per-card failure isolation. The caller's
	// ctx only governs its own wait, never the shared run.
	f.result, f.err = r.execute(context.WithoutCancel(ctx), force)

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
	close(f.done)

	return f.result, f.err
}

// execute performs one run: reconcile, persist linkage patches, write
// run history. The history entry is written whether the run succeeded
// or failed.
func (r *Runner) execute(ctx context.Context, force bool) (*RunResult, error) {
	mode := db.RunModeNormal
	if force {
		mode = db.RunModeForce
	}
	startedAt := r.now()

	cards, err := r.store.ListCards()
	if err != nil {
		err = fmt.Errorf("failed to load cards: %w", err)
		r.saveFailedRun(mode, startedAt, err)
		return nil, err
	}

	result, err := r.engine.Reconcile(ctx, cards, force)
	if err != nil {
		r.saveFailedRun(mode, startedAt, err)
		return nil, err
	}

	for _, update := range result.Updates {
		if err := r.store.UpdateCardLink(update.CardID, update.Values); err != nil {
			log.Printf("Failed to persist link for card %s: %v", update.CardID, err)
			result.addWarning(update.CardID, fmt.Sprintf("failed to persist link: %v", err))
		}
	}

	run := result.Run()
	run.StartedAt = startedAt
	run.FinishedAt = r.now()
	if err := r.store.SaveRun(run); err != nil {
		log.Printf("Failed to save run history: %v", err)
	}

	if r.metrics != nil {
		r.metrics.ObserveRun(string(mode), run.OK, run.FinishedAt.Sub(startedAt))
		r.metrics.ObserveResult(result.Created, result.Updated, result.Deleted,
			result.Unchanged, result.Relinked, result.Recreated, result.Deduplicated, len(result.Errors))
	}

	log.Printf("Sync run (%s): %d cards, %d created, %d updated, %d deleted, %d unchanged, %d relinked, %d recreated, %d deduplicated, %d errors",
		mode, result.TotalCards, result.Created, result.Updated, result.Deleted,
		result.Unchanged, result.Relinked, result.Recreated, result.Deduplicated, len(result.Errors))

	return result, nil
}

// saveFailedRun records a run that failed before producing a result.
func (r *Runner) saveFailedRun(mode db.RunMode, startedAt time.Time, cause error) {
	run := &db.SyncRun{
		Mode:       mode,
		OK:         false,
		Error:      cause.Error(),
		StartedAt:  startedAt,
		FinishedAt: r.now(),
	}
	if err := r.store.SaveRun(run); err != nil {
		log.Printf("Failed to save run history: %v", err)
	}
	if r.metrics != nil {
		r.metrics.ObserveRun(string(mode), false, run.FinishedAt.Sub(startedAt))
	}
}
