package sync

import (
	"github.com/cardcal/cardcal/internal/card"
	"github.com/cardcal/cardcal/internal/db"
)

// Action classifies what reconciliation did for one card.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionUnchanged Action = "unchanged"
	ActionRelinked  Action = "relinked"
	ActionRecreated Action = "recreated"
	ActionDetached  Action = "detached"
	ActionError     Action = "error"
)

// CardMessage is a per-card error or warning.
type CardMessage struct {
	CardID  string `json:"cardId"`
	Message string `json:"message"`
}

// CardUpdate is the linkage patch reconciliation produced for one card.
type CardUpdate struct {
	CardID string          `json:"cardId"`
	Action Action          `json:"action"`
	Values card.GoogleLink `json:"values"`
}

// RunResult aggregates the outcome of one reconciliation run.
type RunResult struct {
	CalendarID   string        `json:"calendarId"`
	Mode         db.RunMode    `json:"mode"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Deleted      int           `json:"deleted"`
	Unchanged    int           `json:"unchanged"`
	Relinked     int           `json:"relinked"`
	Recreated    int           `json:"recreated"`
	Deduplicated int           `json:"deduplicated"`
	TotalCards   int           `json:"totalCards"`
	SyncedCards  int           `json:"syncedCards"`
	Errors       []CardMessage `json:"errors"`
	Warnings     []CardMessage `json:"warnings"`
	Updates      []CardUpdate  `json:"updates"`
}

func newRunResult(calendarID string, mode db.RunMode, totalCards int) *RunResult {
	return &RunResult{
		CalendarID: calendarID,
		Mode:       mode,
		TotalCards: totalCards,
		Errors:     make([]CardMessage, 0),
		Warnings:   make([]CardMessage, 0),
		Updates:    make([]CardUpdate, 0),
	}
}

// countAction bumps the counter matching a non-error action. A card
// counts as synced when it ends the run with a live calendar event.
func (r *RunResult) countAction(action Action) {
	switch action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionDeleted:
		r.Deleted++
	case ActionUnchanged:
		r.Unchanged++
	case ActionRelinked:
		r.Relinked++
	case ActionRecreated:
		r.Recreated++
	}
	switch action {
	case ActionCreated, ActionUpdated, ActionUnchanged, ActionRelinked, ActionRecreated:
		r.SyncedCards++
	}
}

func (r *RunResult) addError(cardID, message string) {
	r.Errors = append(r.Errors, CardMessage{CardID: cardID, Message: message})
}

func (r *RunResult) addWarning(cardID, message string) {
	r.Warnings = append(r.Warnings, CardMessage{CardID: cardID, Message: message})
}

func (r *RunResult) addUpdate(cardID string, action Action, link card.GoogleLink) {
	r.Updates = append(r.Updates, CardUpdate{CardID: cardID, Action: action, Values: link})
}

// FirstError returns the first per-card error message, or empty.
func (r *RunResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Run converts the result into a run-history entry. Timestamps are
// filled in by the caller.
func (r *RunResult) Run() *db.SyncRun {
	return &db.SyncRun{
		Mode:         r.Mode,
		OK:           len(r.Errors) == 0,
		Error:        r.FirstError(),
		CalendarID:   r.CalendarID,
		Created:      r.Created,
		Updated:      r.Updated,
		Deleted:      r.Deleted,
		Unchanged:    r.Unchanged,
		Relinked:     r.Relinked,
		Recreated:    r.Recreated,
		Deduplicated: r.Deduplicated,
		Errors:       len(r.Errors),
		TotalCards:   r.TotalCards,
		SyncedCards:  r.SyncedCards,
	}
}
