package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/gcal"
)

const (
	// defaultStartTime is used when a card carries a date but no
	// time-like field.
	defaultStartTime = "09:00"

	// maxDescriptionComments bounds how many of the newest comments are
	// carried into the event description.
	maxDescriptionComments = 3

	dateLayout     = "2006-01-02"
	timeLayout     = "15:04"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// Payload is the deterministic calendar-event representation of a card.
type Payload struct {
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	CardID      string
}

// BuildPayload derives the event payload for a card, or nil when the
// card has no usable date.
func BuildPayload(c *card.Card, loc *time.Location, durationMin int) *Payload {
	if c.Date == "" {
		return nil
	}

	timeLabel := c.TimeLabel
	if timeLabel == "" {
		timeLabel = defaultStartTime
	}

	start, err := time.ParseInLocation(dateLayout+"T"+timeLayout, c.Date+"T"+timeLabel, loc)
	if err != nil {
		// A malformed time label still leaves the date usable.
		start, err = time.ParseInLocation(dateLayout+"T"+timeLayout, c.Date+"T"+defaultStartTime, loc)
		if err != nil {
			return nil
		}
	}

	return &Payload{
		Summary:     c.Title,
		Location:    joinNonEmpty(", ", c.Address, c.Location),
		Description: buildDescription(c),
		Start:       start,
		End:         start.Add(time.Duration(durationMin) * time.Minute),
		TimeZone:    loc.String(),
		CardID:      c.ID,
	}
}

// buildDescription concatenates the card context: title, sources,
// address, location, phone, and the newest comments first.
func buildDescription(c *card.Card) string {
	lines := make([]string, 0, 8)
	lines = appendNonEmpty(lines, c.Title)
	lines = appendNonEmpty(lines, joinNonEmpty(", ", c.Sources...))
	lines = appendNonEmpty(lines, c.Address)
	lines = appendNonEmpty(lines, c.Location)
	lines = appendNonEmpty(lines, c.Phone)

	comments := c.Comments
	if len(comments) > maxDescriptionComments {
		comments = comments[len(comments)-maxDescriptionComments:]
	}
	// Newest comment first: the most recent activity is the most
	// useful context at the top.
	for i := len(comments) - 1; i >= 0; i-- {
		lines = appendNonEmpty(lines, comments[i])
	}

	return strings.Join(lines, "\n")
}

// Event converts the payload into its wire representation, embedding
// the owning card id as a private marker.
func (p *Payload) Event() *gcal.Event {
	event := &gcal.Event{
		Summary:     p.Summary,
		Location:    p.Location,
		Description: p.Description,
		Start: &gcal.EventDateTime{
			DateTime: p.Start.Format(dateTimeLayout),
			TimeZone: p.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: p.End.Format(dateTimeLayout),
			TimeZone: p.TimeZone,
		},
	}
	event.SetCardID(p.CardID)
	return event
}

// Signature computes a stable content hash of the payload, used purely
// for change detection. Key order is fixed by serializing a map, which
// encoding/json emits with sorted keys.
func Signature(p *Payload) string {
	fields := map[string]string{
		"summary":     p.Summary,
		"location":    p.Location,
		"description": p.Description,
		"start":       p.Start.Format(dateTimeLayout),
		"end":         p.End.Format(dateTimeLayout),
		"timeZone":    p.TimeZone,
		"cardId":      p.CardID,
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		// Marshaling a map[string]string cannot fail.
		return ""
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func joinNonEmpty(sep string, values ...string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}

func appendNonEmpty(lines []string, value string) []string {
	if strings.TrimSpace(value) == "" {
		return lines
	}
	return append(lines, value)
}
