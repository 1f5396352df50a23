package web

import (
	"bytes"
	"log"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/gin-gonic/gin"

	"github.com/cardcal/cardcal/internal/sync"
)

// Feed renders the eligible cards as an iCalendar feed so read-only
// subscription clients can follow the schedule without calendar access.
func (h *Handlers) Feed(c *gin.Context) {
	cards, err := h.db.ListCards()
	if err != nil {
		log.Printf("Failed to list cards for feed: %v", err)
		c.String(http.StatusInternalServerError, "failed to load cards")
		return
	}

	loc, err := time.LoadLocation(h.cfg.Google.TimeZone)
	if err != nil {
		log.Printf("Invalid feed timezone %q: %v", h.cfg.Google.TimeZone, err)
		c.String(http.StatusInternalServerError, "invalid timezone")
		return
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//cardcal//cardcal//EN")

	now := time.Now().UTC()
	for _, item := range cards {
		if !item.SyncEligible() {
			continue
		}
		payload := sync.BuildPayload(item, loc, h.cfg.Sync.EventDurationMin)
		if payload == nil {
			continue
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, item.ID)
		event.Props.SetDateTime(ical.PropDateTimeStamp, now)
		event.Props.SetText(ical.PropSummary, payload.Summary)
		event.Props.SetDateTime(ical.PropDateTimeStart, payload.Start)
		event.Props.SetDateTime(ical.PropDateTimeEnd, payload.End)
		if payload.Location != "" {
			event.Props.SetText(ical.PropLocation, payload.Location)
		}
		if payload.Description != "" {
			event.Props.SetText(ical.PropDescription, payload.Description)
		}
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		log.Printf("Failed to encode feed: %v", err)
		c.String(http.StatusInternalServerError, "failed to encode feed")
		return
	}

	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}
