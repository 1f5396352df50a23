package db

import (
	"time"
)

// RunMode identifies how a sync run was triggered to behave.
type RunMode string

const (
	RunModeNormal RunMode = "normal"
	RunModeForce  RunMode = "force"
)

// SyncRun is one entry of the reconciliation run history.
type SyncRun struct {
	ID           string    `json:"id"`
	Mode         RunMode   `json:"mode"`
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	CalendarID   string    `json:"calendar_id"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	Unchanged    int       `json:"unchanged"`
	Relinked     int       `json:"relinked"`
	Recreated    int       `json:"recreated"`
	Deduplicated int       `json:"deduplicated"`
	Errors       int       `json:"errors"`
	TotalCards   int       `json:"total_cards"`
	SyncedCards  int       `json:"synced_cards"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
