package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/gcal"
)

// fakeStore is an in-memory Store recording writes.
type fakeStore struct {
	mu      gosync.Mutex
	cards   []*card.Card
	links   map[string]card.GoogleLink
	runs    []*db.SyncRun
	listErr error
	linkErr error
}

func newFakeStore(cards ...*card.Card) *fakeStore {
	return &fakeStore{cards: cards, links: make(map[string]card.GoogleLink)}
}

func (s *fakeStore) ListCards() ([]*card.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.cards, nil
}

func (s *fakeStore) UpdateCardLink(cardID string, link card.GoogleLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linkErr != nil {
		return s.linkErr
	}
	s.links[cardID] = link
	return nil
}

func (s *fakeStore) SaveRun(run *db.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) LatestRun(mode db.RunMode) (*db.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if mode == "" || s.runs[i].Mode == mode {
			return s.runs[i], nil
		}
	}
	return nil, db.ErrNotFound
}

// blockingCalendar gates CalendarID so a run can be held in flight.
type blockingCalendar struct {
	*fakeCalendar
	gate chan struct{}
}

func (b *blockingCalendar) CalendarID(ctx context.Context, createIfMissing bool) (string, error) {
	<-b.gate
	return b.fakeCalendar.CalendarID(ctx, createIfMissing)
}

func TestRunnerRun(t *testing.T) {
	t.Run("persists links and history", func(t *testing.T) {
		api := newFakeCalendar()
		engine := testEngine(t, api)
		store := newFakeStore(scheduledCard("r1"))
		runner := NewRunner(engine, store, nil, true)

		result, err := runner.Run(context.Background(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Created != 1 {
			t.Errorf("expected 1 created, got %d", result.Created)
		}

		link, ok := store.links["r1"]
		if !ok {
			t.Fatal("expected link persisted for r1")
		}
		if link.EventID == "" || link.SyncStatus != card.SyncStateOK {
			t.Errorf("unexpected persisted link %+v", link)
		}

		if len(store.runs) != 1 {
			t.Fatalf("expected 1 run history entry, got %d", len(store.runs))
		}
		run := store.runs[0]
		if !run.OK || run.Mode != db.RunModeNormal || run.Created != 1 {
			t.Errorf("unexpected run entry %+v", run)
		}
		if run.StartedAt.IsZero() || run.FinishedAt.IsZero() {
			t.Errorf("expected timestamps set, got %+v", run)
		}
	})

	t.Run("refuses without configuration", func(t *testing.T) {
		api := newFakeCalendar()
		engine := testEngine(t, api)
		runner := NewRunner(engine, newFakeStore(), nil, false)

		_, err := runner.Run(context.Background(), false)
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("records a failed run in history", func(t *testing.T) {
		api := newFakeCalendar()
		api.calendarErr = errors.New("calendarList unavailable")
		engine := testEngine(t, api)
		store := newFakeStore(scheduledCard("r1"))
		runner := NewRunner(engine, store, nil, true)

		_, err := runner.Run(context.Background(), true)
		if err == nil {
			t.Fatal("expected error")
		}

		if len(store.runs) != 1 {
			t.Fatalf("expected 1 run history entry, got %d", len(store.runs))
		}
		run := store.runs[0]
		if run.OK || run.Mode != db.RunModeForce || run.Error == "" {
			t.Errorf("unexpected failed run entry %+v", run)
		}
	})

	t.Run("link persistence failure downgrades to a warning", func(t *testing.T) {
		api := newFakeCalendar()
		engine := testEngine(t, api)
		store := newFakeStore(scheduledCard("r1"))
		store.linkErr = errors.New("disk full")
		runner := NewRunner(engine, store, nil, true)

		result, err := runner.Run(context.Background(), false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Warnings) != 1 {
			t.Errorf("expected a persistence warning, got %+v", result.Warnings)
		}
	})
}

func TestRunnerSingleFlight(t *testing.T) {
	base := newFakeCalendar()
	api := &blockingCalendar{fakeCalendar: base, gate: make(chan struct{})}
	engine := testEngine(t, api)
	store := newFakeStore(scheduledCard("r1"))
	runner := NewRunner(engine, store, nil, true)

	type outcome struct {
		result *RunResult
		err    error
	}

	first := make(chan outcome, 1)
	go func() {
		result, err := runner.Run(context.Background(), false)
		first <- outcome{result, err}
	}()

	// Wait for the first run to take the flight slot.
	deadline := time.Now().Add(2 * time.Second)
	for !runner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	const joiners = 3
	joined := make(chan outcome, joiners)
	var started gosync.WaitGroup
	started.Add(joiners)
	for i := 0; i < joiners; i++ {
		go func() {
			started.Done()
			result, err := runner.Run(context.Background(), false)
			joined <- outcome{result, err}
		}()
	}
	started.Wait()
	time.Sleep(10 * time.Millisecond)

	close(api.gate)

	primary := <-first
	if primary.err != nil {
		t.Fatalf("first run failed: %v", primary.err)
	}

	for i := 0; i < joiners; i++ {
		got := <-joined
		if got.err != nil {
			t.Fatalf("joined run %d failed: %v", i, got.err)
		}
		if got.result != primary.result {
			t.Errorf("joined run %d got a different result", i)
		}
	}

	// Exactly one reconciliation happened.
	if base.inserts != 1 {
		t.Errorf("expected a single insert across all callers, got %d", base.inserts)
	}
	if len(store.runs) != 1 {
		t.Errorf("expected a single run history entry, got %d", len(store.runs))
	}

	if runner.Running() {
		t.Error("expected no run in flight after completion")
	}
}

// cancelAwareCalendar fails like the real client would on a dead
// context, and gates calendar resolution so a caller's context can be
// canceled while the run is in flight.
type cancelAwareCalendar struct {
	*fakeCalendar
	gate chan struct{}
}

func (c *cancelAwareCalendar) CalendarID(ctx context.Context, createIfMissing bool) (string, error) {
	<-c.gate
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.fakeCalendar.CalendarID(ctx, createIfMissing)
}

func (c *cancelAwareCalendar) ListEventsByCardID(ctx context.Context, calendarID, cardID string, max int) ([]gcal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeCalendar.ListEventsByCardID(ctx, calendarID, cardID, max)
}

func (c *cancelAwareCalendar) InsertEvent(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeCalendar.InsertEvent(ctx, calendarID, event)
}

func TestRunnerDetachedFromCallerContext(t *testing.T) {
	base := newFakeCalendar()
	api := &cancelAwareCalendar{fakeCalendar: base, gate: make(chan struct{})}
	engine := testEngine(t, api)
	store := newFakeStore(scheduledCard("r1"))
	runner := NewRunner(engine, store, nil, true)

	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		result *RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := runner.Run(ctx, false)
		done <- outcome{result, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !runner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("run never started")
		}
		time.Sleep(time.Millisecond)
	}

	// The triggering caller goes away mid-run.
	cancel()
	close(api.gate)

	got := <-done
	if got.err != nil {
		t.Fatalf("expected the run to complete, got %v", got.err)
	}
	if len(got.result.Errors) != 0 {
		t.Errorf("expected no card errors after caller cancellation, got %+v", got.result.Errors)
	}
	if got.result.Created != 1 {
		t.Errorf("expected 1 created, got %d", got.result.Created)
	}

	link, ok := store.links["r1"]
	if !ok || link.SyncStatus != card.SyncStateOK {
		t.Errorf("expected healthy link persisted, got %+v", link)
	}
	if len(store.runs) != 1 || !store.runs[0].OK {
		t.Errorf("expected a successful run on record, got %+v", store.runs)
	}
}

func TestRunnerJoinerHonorsContext(t *testing.T) {
	base := newFakeCalendar()
	api := &blockingCalendar{fakeCalendar: base, gate: make(chan struct{})}
	engine := testEngine(t, api)
	runner := NewRunner(engine, newFakeStore(), nil, true)

	go func() {
		_, _ = runner.Run(context.Background(), false)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !runner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(api.gate)
}
