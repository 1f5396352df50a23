package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardcal/cardcal/internal/gcal"
)

type fakeFreeBusy struct {
	busy        []gcal.TimeRange
	calls       int
	calendarErr error
	freeBusyErr error

	gotFrom time.Time
	gotTo   time.Time
}

func (f *fakeFreeBusy) CalendarID(ctx context.Context, createIfMissing bool) (string, error) {
	if f.calendarErr != nil {
		return "", f.calendarErr
	}
	return "cal-1", nil
}

func (f *fakeFreeBusy) FreeBusy(ctx context.Context, calendarID string, from, to time.Time, timeZone string) ([]gcal.TimeRange, error) {
	f.calls++
	f.gotFrom = from
	f.gotTo = to
	if f.freeBusyErr != nil {
		return nil, f.freeBusyErr
	}
	return f.busy, nil
}

func testFinder(api FreeBusyAPI, now time.Time) *Finder {
	finder := NewFinder(api)
	finder.now = func() time.Time { return now }
	return finder
}

func baseOptions() Options {
	return Options{
		TimeZone:         "Europe/Vienna",
		WorkdayStart:     "08:00",
		WorkdayEnd:       "18:00",
		DurationMin:      90,
		TopN:             5,
		WindowDays:       14,
		BusinessDaysOnly: true,
	}
}

func TestSuggest(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}

	// A Monday, well before the workday starts.
	monday := time.Date(2026, 2, 16, 6, 0, 0, 0, loc)

	t.Run("returns the first free candidates on the half-hour grid", func(t *testing.T) {
		api := &fakeFreeBusy{}
		finder := testFinder(api, monday)

		opts := baseOptions()
		opts.From = monday

		slots, err := finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 5 {
			t.Fatalf("expected 5 slots, got %d", len(slots))
		}

		want := time.Date(2026, 2, 16, 8, 0, 0, 0, loc)
		for i, slot := range slots {
			if !slot.Start.Equal(want) {
				t.Errorf("slot %d: expected start %v, got %v", i, want, slot.Start)
			}
			if !slot.End.Equal(slot.Start.Add(90 * time.Minute)) {
				t.Errorf("slot %d: unexpected end %v", i, slot.End)
			}
			want = want.Add(30 * time.Minute)
		}

		if api.calls != 1 {
			t.Errorf("expected a single free/busy call, got %d", api.calls)
		}
	})

	t.Run("skips candidates overlapping busy intervals", func(t *testing.T) {
		api := &fakeFreeBusy{busy: []gcal.TimeRange{{
			Start: time.Date(2026, 2, 16, 8, 0, 0, 0, loc),
			End:   time.Date(2026, 2, 16, 10, 0, 0, 0, loc),
		}}}
		finder := testFinder(api, monday)

		opts := baseOptions()
		opts.From = monday
		opts.TopN = 1

		slots, err := finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 1 {
			t.Fatalf("expected 1 slot, got %d", len(slots))
		}

		// 09:30 would run into the busy block until 10:00; 10:00 is the
		// first clean start.
		want := time.Date(2026, 2, 16, 10, 0, 0, 0, loc)
		if !slots[0].Start.Equal(want) {
			t.Errorf("expected start %v, got %v", want, slots[0].Start)
		}
	})

	t.Run("skips weekends when business days only", func(t *testing.T) {
		saturday := time.Date(2026, 2, 14, 6, 0, 0, 0, loc)
		api := &fakeFreeBusy{}
		finder := testFinder(api, saturday)

		opts := baseOptions()
		opts.From = saturday
		opts.TopN = 1

		slots, err := finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 1 {
			t.Fatalf("expected 1 slot, got %d", len(slots))
		}
		if got := slots[0].Start.Weekday(); got != time.Monday {
			t.Errorf("expected first slot on Monday, got %v", got)
		}

		opts.BusinessDaysOnly = false
		slots, err = finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := slots[0].Start.Weekday(); got != time.Saturday {
			t.Errorf("expected first slot on Saturday, got %v", got)
		}
	})

	t.Run("never suggests the past", func(t *testing.T) {
		midday := time.Date(2026, 2, 16, 12, 10, 0, 0, loc)
		api := &fakeFreeBusy{}
		finder := testFinder(api, midday)

		opts := baseOptions()
		opts.From = time.Date(2026, 2, 16, 0, 0, 0, 0, loc)
		opts.TopN = 1

		slots, err := finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 1 {
			t.Fatalf("expected 1 slot, got %d", len(slots))
		}
		want := time.Date(2026, 2, 16, 12, 30, 0, 0, loc)
		if !slots[0].Start.Equal(want) {
			t.Errorf("expected start %v, got %v", want, slots[0].Start)
		}
	})

	t.Run("keeps candidates inside the workday", func(t *testing.T) {
		api := &fakeFreeBusy{}
		finder := testFinder(api, monday)

		opts := baseOptions()
		opts.From = monday
		opts.DurationMin = 120
		opts.TopN = 100
		opts.WindowDays = 1

		slots, err := finder.Suggest(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) == 0 {
			t.Fatal("expected slots")
		}
		last := slots[len(slots)-1]
		dayEnd := time.Date(2026, 2, 16, 18, 0, 0, 0, loc)
		if last.End.After(dayEnd) {
			t.Errorf("expected last slot to end by %v, got %v", dayEnd, last.End)
		}
		want := time.Date(2026, 2, 16, 16, 0, 0, 0, loc)
		if !last.Start.Equal(want) {
			t.Errorf("expected last start %v, got %v", want, last.Start)
		}
	})

	t.Run("queries the whole window at once", func(t *testing.T) {
		api := &fakeFreeBusy{}
		finder := testFinder(api, monday)

		opts := baseOptions()
		opts.From = monday
		opts.WindowDays = 7

		if _, err := finder.Suggest(context.Background(), opts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if api.calls != 1 {
			t.Fatalf("expected 1 call, got %d", api.calls)
		}
		if !api.gotFrom.Equal(monday) {
			t.Errorf("unexpected window start %v", api.gotFrom)
		}
		if !api.gotTo.Equal(monday.AddDate(0, 0, 7)) {
			t.Errorf("unexpected window end %v", api.gotTo)
		}
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		api := &fakeFreeBusy{}
		finder := testFinder(api, monday)

		bad := []func(*Options){
			func(o *Options) { o.TimeZone = "Mars/Olympus" },
			func(o *Options) { o.WorkdayStart = "late" },
			func(o *Options) { o.WorkdayEnd = "07:00" },
			func(o *Options) { o.DurationMin = 0 },
			func(o *Options) { o.TopN = -1 },
			func(o *Options) { o.WindowDays = 0 },
		}
		for i, mutate := range bad {
			opts := baseOptions()
			mutate(&opts)
			if _, err := finder.Suggest(context.Background(), opts); !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("case %d: expected ErrInvalidWindow, got %v", i, err)
			}
		}
	})

	t.Run("propagates free/busy failure", func(t *testing.T) {
		api := &fakeFreeBusy{freeBusyErr: errors.New("backend error")}
		finder := testFinder(api, monday)

		opts := baseOptions()
		opts.From = monday
		if _, err := finder.Suggest(context.Background(), opts); err == nil {
			t.Fatal("expected error")
		}
	})
}
