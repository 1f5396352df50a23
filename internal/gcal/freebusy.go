package gcal

import (
	"context"
	"fmt"
	"time"
)

// TimeRange is a half-open [Start, End) interval.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two ranges intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// FreeBusy queries the busy intervals of a calendar for the given
// window in one call.
func (s *Service) FreeBusy(ctx context.Context, calendarID string, from, to time.Time, timeZone string) ([]TimeRange, error) {
	body := map[string]any{
		"timeMin":  from.Format(time.RFC3339),
		"timeMax":  to.Format(time.RFC3339),
		"timeZone": timeZone,
		"items":    []map[string]string{{"id": calendarID}},
	}

	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := s.client.Call(ctx, "POST", "/freeBusy", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("free/busy query failed: %w", err)
	}

	entry, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}

	busy := make([]TimeRange, 0, len(entry.Busy))
	for _, interval := range entry.Busy {
		start, err := time.Parse(time.RFC3339, interval.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid busy interval start %q: %w", interval.Start, err)
		}
		end, err := time.Parse(time.RFC3339, interval.End)
		if err != nil {
			return nil, fmt.Errorf("invalid busy interval end %q: %w", interval.End, err)
		}
		busy = append(busy, TimeRange{Start: start, End: end})
	}
	return busy, nil
}
