package sync

import (
	"strings"
	"testing"
	"time"

	"github.com/cardcal/cardcal/internal/card"
)

func vienna(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		t.Fatalf("failed to load timezone: %v", err)
	}
	return loc
}

func TestBuildPayload(t *testing.T) {
	loc := vienna(t)

	t.Run("derives start and end from date and time label", func(t *testing.T) {
		c := &card.Card{
			ID:        "r1",
			Title:     "Window sill install",
			Status:    card.StatusScheduled,
			Date:      "2026-02-19",
			TimeLabel: "15:00",
		}

		payload := BuildPayload(c, loc, 90)
		if payload == nil {
			t.Fatal("expected non-nil payload")
		}

		wantStart := time.Date(2026, 2, 19, 15, 0, 0, 0, loc)
		if !payload.Start.Equal(wantStart) {
			t.Errorf("expected start %v, got %v", wantStart, payload.Start)
		}

		wantEnd := time.Date(2026, 2, 19, 16, 30, 0, 0, loc)
		if !payload.End.Equal(wantEnd) {
			t.Errorf("expected end %v, got %v", wantEnd, payload.End)
		}

		if got := payload.Start.Format("2006-01-02T15:04:05"); got != "2026-02-19T15:00:00" {
			t.Errorf("expected start 2026-02-19T15:00:00, got %s", got)
		}
		if got := payload.End.Format("2006-01-02T15:04:05"); got != "2026-02-19T16:30:00" {
			t.Errorf("expected end 2026-02-19T16:30:00, got %s", got)
		}

		if payload.Summary != "Window sill install" {
			t.Errorf("unexpected summary %q", payload.Summary)
		}
		if payload.CardID != "r1" {
			t.Errorf("unexpected card id %q", payload.CardID)
		}
		if payload.TimeZone != "Europe/Vienna" {
			t.Errorf("unexpected timezone %q", payload.TimeZone)
		}
	})

	t.Run("falls back to 09:00 without a time label", func(t *testing.T) {
		c := &card.Card{ID: "r2", Title: "Visit", Date: "2026-03-01"}

		payload := BuildPayload(c, loc, 60)
		if payload == nil {
			t.Fatal("expected non-nil payload")
		}

		wantStart := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)
		if !payload.Start.Equal(wantStart) {
			t.Errorf("expected start %v, got %v", wantStart, payload.Start)
		}
	})

	t.Run("returns nil without a date", func(t *testing.T) {
		c := &card.Card{ID: "r3", Title: "Visit"}

		if payload := BuildPayload(c, loc, 60); payload != nil {
			t.Errorf("expected nil payload, got %+v", payload)
		}
	})

	t.Run("returns nil for an unparseable date", func(t *testing.T) {
		c := &card.Card{ID: "r4", Title: "Visit", Date: "next tuesday"}

		if payload := BuildPayload(c, loc, 60); payload != nil {
			t.Errorf("expected nil payload, got %+v", payload)
		}
	})

	t.Run("malformed time label falls back to default start", func(t *testing.T) {
		c := &card.Card{ID: "r5", Title: "Visit", Date: "2026-03-01", TimeLabel: "afternoonish"}

		payload := BuildPayload(c, loc, 60)
		if payload == nil {
			t.Fatal("expected non-nil payload")
		}
		wantStart := time.Date(2026, 3, 1, 9, 0, 0, 0, loc)
		if !payload.Start.Equal(wantStart) {
			t.Errorf("expected start %v, got %v", wantStart, payload.Start)
		}
	})

	t.Run("joins non-empty address and location", func(t *testing.T) {
		c := &card.Card{
			ID:       "r6",
			Title:    "Visit",
			Date:     "2026-03-01",
			Address:  "Hauptstrasse 1",
			Location: "Vienna",
		}

		payload := BuildPayload(c, loc, 60)
		if payload.Location != "Hauptstrasse 1, Vienna" {
			t.Errorf("unexpected location %q", payload.Location)
		}

		c.Location = ""
		payload = BuildPayload(c, loc, 60)
		if payload.Location != "Hauptstrasse 1" {
			t.Errorf("unexpected location %q", payload.Location)
		}
	})

	t.Run("description carries the last three comments newest first", func(t *testing.T) {
		c := &card.Card{
			ID:       "r7",
			Title:    "Visit",
			Date:     "2026-03-01",
			Phone:    "+43 1 2345",
			Comments: []string{"first", "second", "third", "fourth"},
			Sources:  []string{"whatsapp", "import"},
		}

		payload := BuildPayload(c, loc, 60)

		if strings.Contains(payload.Description, "first") {
			t.Errorf("expected oldest comment to be dropped, got %q", payload.Description)
		}
		for _, want := range []string{"Visit", "whatsapp, import", "+43 1 2345", "second", "third", "fourth"} {
			if !strings.Contains(payload.Description, want) {
				t.Errorf("expected description to contain %q, got %q", want, payload.Description)
			}
		}

		// Newest comment comes before older ones.
		if strings.Index(payload.Description, "fourth") > strings.Index(payload.Description, "second") {
			t.Errorf("expected newest comment first, got %q", payload.Description)
		}
	})
}

func TestPayloadEvent(t *testing.T) {
	loc := vienna(t)

	c := &card.Card{ID: "r1", Title: "Visit", Date: "2026-02-19", TimeLabel: "15:00"}
	payload := BuildPayload(c, loc, 90)
	event := payload.Event()

	if event.Start == nil || event.Start.DateTime != "2026-02-19T15:00:00" {
		t.Errorf("unexpected start: %+v", event.Start)
	}
	if event.End == nil || event.End.DateTime != "2026-02-19T16:30:00" {
		t.Errorf("unexpected end: %+v", event.End)
	}
	if event.Start.TimeZone != "Europe/Vienna" {
		t.Errorf("unexpected start timezone %q", event.Start.TimeZone)
	}
	if event.CardID() != "r1" {
		t.Errorf("expected embedded card id r1, got %q", event.CardID())
	}
}

func TestSignature(t *testing.T) {
	loc := vienna(t)

	base := &card.Card{ID: "r1", Title: "Visit", Date: "2026-02-19", TimeLabel: "15:00"}

	t.Run("is stable for identical payloads", func(t *testing.T) {
		a := Signature(BuildPayload(base, loc, 90))
		b := Signature(BuildPayload(base, loc, 90))
		if a == "" {
			t.Fatal("expected non-empty signature")
		}
		if a != b {
			t.Errorf("expected identical signatures, got %q and %q", a, b)
		}
	})

	t.Run("changes when the time changes", func(t *testing.T) {
		a := Signature(BuildPayload(base, loc, 90))

		changed := *base
		changed.TimeLabel = "16:00"
		b := Signature(BuildPayload(&changed, loc, 90))

		if a == b {
			t.Error("expected different signatures after time change")
		}
	})

	t.Run("changes when the duration changes", func(t *testing.T) {
		a := Signature(BuildPayload(base, loc, 90))
		b := Signature(BuildPayload(base, loc, 120))
		if a == b {
			t.Error("expected different signatures after duration change")
		}
	})
}
