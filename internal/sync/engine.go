package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/db"
	"github.com/cardcal/cardcal/internal/gcal"
)

// maxLinkedEvents bounds the marker lookup when resolving event
// identity. More than a handful of events for one card only happens
// after a duplicate-creation bug.
const maxLinkedEvents = 10

// CalendarAPI is the remote surface the engine reconciles against.
// Implemented by *gcal.Service.
type CalendarAPI interface {
	CalendarID(ctx context.Context, createIfMissing bool) (string, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*gcal.Event, error)
	InsertEvent(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error)
	PatchEvent(ctx context.Context, calendarID, eventID string, event *gcal.Event) (*gcal.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListEventsByCardID(ctx context.Context, calendarID, cardID string, max int) ([]gcal.Event, error)
}

// Engine reconciles cards against the remote calendar. It holds no
// per-run state: everything it needs lives on the cards and in the
// remote system, so each run evaluates the decision tree fresh.
type Engine struct {
	api            CalendarAPI
	location       *time.Location
	durationMin    int
	verifyInterval time.Duration

	now func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(api CalendarAPI, location *time.Location, durationMin int, verifyInterval time.Duration) *Engine {
	return &Engine{
		api:            api,
		location:       location,
		durationMin:    durationMin,
		verifyInterval: verifyInterval,
		now:            time.Now,
	}
}

// Reconcile processes every card independently and returns the
// aggregated result. A card's failure never aborts the run; only a
// failure before any card is processed (calendar resolution) is
// returned as an error.
func (e *Engine) Reconcile(ctx context.Context, cards []*card.Card, force bool) (*RunResult, error) {
	calendarID, err := e.api.CalendarID(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve calendar: %w", err)
	}

	mode := db.RunModeNormal
	if force {
		mode = db.RunModeForce
	}
	result := newRunResult(calendarID, mode, len(cards))

	for _, c := range cards {
		e.reconcileCard(ctx, calendarID, c, force, result)
	}

	return result, nil
}

// reconcileCard runs the per-card decision procedure. Failures are
// recorded on the result and never propagate.
func (e *Engine) reconcileCard(ctx context.Context, calendarID string, c *card.Card, force bool, result *RunResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Reconcile panic for card %s: %v", c.ID, r)
			e.failCard(c, result, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if !c.SyncEligible() {
		e.teardownCard(ctx, calendarID, c, result)
		return
	}

	payload := BuildPayload(c, e.location, e.durationMin)
	if payload == nil {
		e.failCard(c, result, "cannot build event payload: card has no usable date")
		return
	}
	signature := Signature(payload)

	// Identity resolution. A stored event id is re-verified against the
	// remote system periodically, or always on a forced resync.
	eventID := c.Google.EventID
	hadStoredID := eventID != ""
	var remote *gcal.Event
	verified := false

	if eventID != "" && (force || e.verificationDue(c)) {
		event, err := e.api.GetEvent(ctx, calendarID, eventID)
		switch {
		case gcal.IsNotFound(err):
			// The event vanished out-of-band; fall through to marker
			// lookup and, failing that, recreation.
			eventID = ""
		case err != nil:
			e.failCard(c, result, fmt.Sprintf("failed to verify event %s: %v", eventID, err))
			return
		case event.CardID() != "" && event.CardID() != c.ID:
			// Foreign collision: the stored id points at another card's
			// event. Never write to it.
			result.addWarning(c.ID, fmt.Sprintf("stored event %s belongs to card %s; link discarded", eventID, event.CardID()))
			eventID = ""
		default:
			remote = event
			verified = true
		}
	}

	relinked := false
	if eventID == "" {
		linked, err := e.api.ListEventsByCardID(ctx, calendarID, c.ID, maxLinkedEvents)
		if err != nil {
			e.failCard(c, result, fmt.Sprintf("failed to look up linked events: %v", err))
			return
		}
		if len(linked) > 0 {
			primary := linked[0]
			eventID = primary.ID
			remote = &primary
			verified = true
			relinked = true

			// Surplus linked events are duplicates from earlier bugs or
			// races; converge on the primary.
			for _, extra := range linked[1:] {
				if err := e.api.DeleteEvent(ctx, calendarID, extra.ID); err != nil && !gcal.IsNotFound(err) {
					result.addWarning(c.ID, fmt.Sprintf("failed to delete duplicate event %s: %v", extra.ID, err))
					continue
				}
				result.Deduplicated++
			}
		}
	}

	// Write decision. An identity with a matching signature needs no
	// remote write unless a resync is forced.
	if eventID != "" && signature == c.Google.SyncSignature && !force {
		action := ActionUnchanged
		if relinked {
			action = ActionRelinked
		}
		result.countAction(action)

		// Pure unchanged with no remote interaction leaves the card
		// untouched. A verification or relink is persisted.
		if verified || relinked {
			link := c.Google
			link.EventID = eventID
			if remote != nil && remote.HTMLLink != "" {
				link.EventLink = remote.HTMLLink
			}
			link.SyncStatus = card.SyncStateOK
			link.SyncError = ""
			link.SyncSignature = signature
			link.LastAction = string(action)
			now := e.now()
			link.VerifiedAt = &now
			result.addUpdate(c.ID, action, link)
		}
		return
	}

	event := payload.Event()
	var action Action
	var stored *gcal.Event

	if eventID != "" {
		updated, err := e.api.PatchEvent(ctx, calendarID, eventID, event)
		switch {
		case gcal.IsNotFound(err):
			// Deleted between check and write; one create attempt.
			created, cerr := e.api.InsertEvent(ctx, calendarID, event)
			if cerr != nil {
				e.failCard(c, result, fmt.Sprintf("failed to recreate vanished event: %v", cerr))
				return
			}
			result.addWarning(c.ID, fmt.Sprintf("event %s vanished during update; recreated as %s", eventID, created.ID))
			action = ActionRecreated
			stored = created
		case err != nil:
			e.failCard(c, result, fmt.Sprintf("failed to update event %s: %v", eventID, err))
			return
		default:
			action = ActionUpdated
			stored = updated
		}
	} else {
		created, err := e.api.InsertEvent(ctx, calendarID, event)
		if err != nil {
			e.failCard(c, result, fmt.Sprintf("failed to create event: %v", err))
			return
		}
		stored = created
		if hadStoredID {
			// The stored id went stale at some point in this run.
			result.addWarning(c.ID, fmt.Sprintf("stored event %s no longer exists; created replacement %s", c.Google.EventID, created.ID))
			action = ActionRecreated
		} else {
			action = ActionCreated
		}
	}

	now := e.now()
	link := card.GoogleLink{
		EventID:       stored.ID,
		EventLink:     stored.HTMLLink,
		SyncStatus:    card.SyncStateOK,
		SyncedAt:      &now,
		SyncSignature: signature,
		VerifiedAt:    &now,
		LastAction:    string(action),
	}
	result.countAction(action)
	result.addUpdate(c.ID, action, link)
}

// teardownCard removes the remote footprint of an ineligible card and
// clears its linkage. A card that was never linked is skipped silently.
func (e *Engine) teardownCard(ctx context.Context, calendarID string, c *card.Card, result *RunResult) {
	removed := 0

	if c.Google.EventID != "" {
		err := e.api.DeleteEvent(ctx, calendarID, c.Google.EventID)
		switch {
		case gcal.IsNotFound(err):
			// Already gone; nothing to count.
		case err != nil:
			e.failCard(c, result, fmt.Sprintf("failed to delete event %s: %v", c.Google.EventID, err))
			return
		default:
			removed++
		}
	}

	// Events still carrying the card marker are removed regardless of
	// what the stored id said.
	linked, err := e.api.ListEventsByCardID(ctx, calendarID, c.ID, maxLinkedEvents)
	if err != nil {
		e.failCard(c, result, fmt.Sprintf("failed to look up linked events: %v", err))
		return
	}
	for _, event := range linked {
		if event.ID == c.Google.EventID {
			continue
		}
		if err := e.api.DeleteEvent(ctx, calendarID, event.ID); err != nil && !gcal.IsNotFound(err) {
			result.addWarning(c.ID, fmt.Sprintf("failed to delete linked event %s: %v", event.ID, err))
			continue
		}
		if removed > 0 {
			result.Deduplicated++
		}
		removed++
	}

	if removed == 0 && !c.EverLinked() {
		return
	}

	action := ActionDetached
	state := card.SyncStateDetached
	if removed > 0 {
		action = ActionDeleted
		state = card.SyncStateDeleted
	}

	now := e.now()
	link := card.GoogleLink{
		SyncStatus: state,
		SyncedAt:   &now,
		LastAction: string(action),
	}
	result.countAction(action)
	result.addUpdate(c.ID, action, link)
}

// failCard records an error action for a card, preserving the stored
// event link so a later run can retry against it.
func (e *Engine) failCard(c *card.Card, result *RunResult, message string) {
	result.addError(c.ID, message)

	link := c.Google
	link.SyncStatus = card.SyncStateError
	link.SyncError = message
	link.LastAction = string(ActionError)
	result.addUpdate(c.ID, ActionError, link)
}

// verificationDue reports whether the stored event id should be
// re-checked against the remote system.
func (e *Engine) verificationDue(c *card.Card) bool {
	if c.Google.VerifiedAt == nil {
		return true
	}
	return e.now().Sub(*c.Google.VerifiedAt) >= e.verifyInterval
}
