package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardcal/cardcal/internal/gcal"
)

var ErrInvalidWindow = errors.New("invalid slot query window")

// slotStep is the grid the candidate start times are enumerated on.
const slotStep = 30 * time.Minute

// FreeBusyAPI is the remote surface the finder queries. Implemented by
// *gcal.Service.
type FreeBusyAPI interface {
	CalendarID(ctx context.Context, createIfMissing bool) (string, error)
	FreeBusy(ctx context.Context, calendarID string, from, to time.Time, timeZone string) ([]gcal.TimeRange, error)
}

// Options parameterizes one slot query.
type Options struct {
	TimeZone         string
	WorkdayStart     string // "HH:MM"
	WorkdayEnd       string // "HH:MM"
	DurationMin      int
	TopN             int
	WindowDays       int
	BusinessDaysOnly bool
	From             time.Time // zero means now
}

// Slot is one free candidate appointment window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Finder computes candidate appointment windows from free/busy data.
type Finder struct {
	api FreeBusyAPI
	now func() time.Time
}

// NewFinder creates a slot finder.
func NewFinder(api FreeBusyAPI) *Finder {
	return &Finder{api: api, now: time.Now}
}

// Suggest fetches the busy intervals for the whole window in one call
// and enumerates free candidate start times on a 30-minute grid within
// the workday window, skipping busy overlaps, disallowed weekdays and
// the past, returning the first TopN in chronological order.
func (f *Finder) Suggest(ctx context.Context, opts Options) ([]Slot, error) {
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidWindow, opts.TimeZone, err)
	}

	dayStart, err := time.Parse("15:04", opts.WorkdayStart)
	if err != nil {
		return nil, fmt.Errorf("%w: workday start %q: %w", ErrInvalidWindow, opts.WorkdayStart, err)
	}
	dayEnd, err := time.Parse("15:04", opts.WorkdayEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: workday end %q: %w", ErrInvalidWindow, opts.WorkdayEnd, err)
	}
	if !dayStart.Before(dayEnd) {
		return nil, fmt.Errorf("%w: workday start %q is not before end %q", ErrInvalidWindow, opts.WorkdayStart, opts.WorkdayEnd)
	}
	if opts.DurationMin <= 0 || opts.TopN <= 0 || opts.WindowDays <= 0 {
		return nil, fmt.Errorf("%w: duration, topN and windowDays must be positive", ErrInvalidWindow)
	}

	now := f.now().In(loc)
	from := opts.From
	if from.IsZero() {
		from = now
	}
	from = from.In(loc)
	windowEnd := from.AddDate(0, 0, opts.WindowDays)

	calendarID, err := f.api.CalendarID(ctx, false)
	if err != nil {
		return nil, err
	}

	// One remote call for the full window; candidates are checked
	// against the busy list in memory.
	busy, err := f.api.FreeBusy(ctx, calendarID, from, windowEnd, opts.TimeZone)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(opts.DurationMin) * time.Minute
	slots := make([]Slot, 0, opts.TopN)

	for day := from; day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
		if opts.BusinessDaysOnly && isWeekend(day.Weekday()) {
			continue
		}

		start := time.Date(day.Year(), day.Month(), day.Day(), dayStart.Hour(), dayStart.Minute(), 0, 0, loc)
		end := time.Date(day.Year(), day.Month(), day.Day(), dayEnd.Hour(), dayEnd.Minute(), 0, 0, loc)

		for candidate := start; !candidate.Add(duration).After(end); candidate = candidate.Add(slotStep) {
			if candidate.Before(now) {
				continue
			}
			window := gcal.TimeRange{Start: candidate, End: candidate.Add(duration)}
			if overlapsAny(window, busy) {
				continue
			}
			slots = append(slots, Slot{Start: window.Start, End: window.End})
			if len(slots) >= opts.TopN {
				return slots, nil
			}
		}
	}

	return slots, nil
}

func overlapsAny(window gcal.TimeRange, busy []gcal.TimeRange) bool {
	for _, interval := range busy {
		if window.Overlaps(interval) {
			return true
		}
	}
	return false
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}
