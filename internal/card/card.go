package card

import (
	"time"
)

// Status represents the workflow state of a card.
type Status string

const (
	StatusNew       Status = "New"
	StatusScheduled Status = "Scheduled"
	StatusDone      Status = "Done"
	StatusCancelled Status = "Cancelled"
)

// SyncEligibleStatus is the only status that qualifies a card for
// calendar mirroring.
const SyncEligibleStatus = StatusScheduled

// ValidStatuses contains all valid status values.
var ValidStatuses = map[Status]bool{
	StatusNew:       true,
	StatusScheduled: true,
	StatusDone:      true,
	StatusCancelled: true,
}

// IsValid returns true if the status is a known valid value.
func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// SyncState represents the calendar-linkage state of a card.
type SyncState string

const (
	SyncStateOK       SyncState = "ok"
	SyncStateError    SyncState = "error"
	SyncStateDeleted  SyncState = "deleted"
	SyncStateDetached SyncState = "detached"
)

// GoogleLink holds the calendar-linkage fields of a card. These fields
// are owned exclusively by the sync engine; no other component writes
// them.
type GoogleLink struct {
	EventID       string     `json:"event_id"`
	EventLink     string     `json:"event_link"`
	SyncStatus    SyncState  `json:"sync_status"`
	SyncError     string     `json:"sync_error"`
	SyncedAt      *time.Time `json:"synced_at"`
	SyncSignature string     `json:"sync_signature"`
	VerifiedAt    *time.Time `json:"verified_at"`
	LastAction    string     `json:"last_action"`
}

// Card represents a service request ingested from the messaging channel.
type Card struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Address   string     `json:"address"`
	Location  string     `json:"location"`
	Phone     string     `json:"phone"`
	Comments  []string   `json:"comments"`
	Sources   []string   `json:"sources"`
	Date      string     `json:"date"`       // ISO date (2006-01-02) or empty
	TimeLabel string     `json:"time_label"` // "HH:MM" or empty
	Status    Status     `json:"status"`
	Hidden    bool       `json:"hidden"`
	Google    GoogleLink `json:"google"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SyncEligible reports whether the card qualifies for calendar
// mirroring: visible, in the eligible status, and carrying a date.
func (c *Card) SyncEligible() bool {
	return !c.Hidden && c.Status == SyncEligibleStatus && c.Date != ""
}

// EverLinked reports whether the card carries any trace of a previous
// calendar link. Used to distinguish a silent no-op teardown from a
// detach that must be recorded.
func (c *Card) EverLinked() bool {
	g := c.Google
	return g.EventID != "" || g.EventLink != "" || g.SyncStatus != "" ||
		g.SyncSignature != "" || g.LastAction != ""
}
