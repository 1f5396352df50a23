package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardcal/cardcal/internal/card"
)

// CreateCard inserts a new card. An ID is assigned if absent.
func (db *DB) CreateCard(c *card.Card) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = card.StatusNew
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt

	comments, err := json.Marshal(emptyIfNil(c.Comments))
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}
	sources, err := json.Marshal(emptyIfNil(c.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	query := `INSERT INTO cards (
		id, title, address, location, phone, comments, sources, date, time_label,
		status, hidden, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.conn.Exec(query,
		c.ID, c.Title, c.Address, c.Location, c.Phone, string(comments), string(sources),
		c.Date, c.TimeLabel, c.Status, c.Hidden, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}

	return nil
}

const cardColumns = `id, title, address, location, phone, comments, sources, date, time_label,
	status, hidden, google_event_id, google_event_link, google_sync_status, google_sync_error,
	google_synced_at, google_sync_signature, google_verified_at, google_last_action,
	created_at, updated_at`

// GetCardByID returns a card by its ID.
func (db *DB) GetCardByID(id string) (*card.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`
	return scanCard(db.conn.QueryRow(query, id))
}

// ListCards returns all cards ordered by date, undated last.
func (db *DB) ListCards() ([]*card.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards ORDER BY date = '', date, created_at`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []*card.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// UpdateCardFields updates the card-owned fields. The google_* linkage
// columns are deliberately not touched; those belong to the sync engine
// and go through UpdateCardLink.
func (db *DB) UpdateCardFields(c *card.Card) error {
	c.UpdatedAt = time.Now().UTC()

	comments, err := json.Marshal(emptyIfNil(c.Comments))
	if err != nil {
		return fmt.Errorf("failed to encode comments: %w", err)
	}
	sources, err := json.Marshal(emptyIfNil(c.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	query := `UPDATE cards SET
		title = ?, address = ?, location = ?, phone = ?, comments = ?, sources = ?,
		date = ?, time_label = ?, status = ?, hidden = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		c.Title, c.Address, c.Location, c.Phone, string(comments), string(sources),
		c.Date, c.TimeLabel, c.Status, c.Hidden, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateCardLink patch-merges the calendar-linkage fields of a card,
// leaving every other column untouched.
func (db *DB) UpdateCardLink(cardID string, link card.GoogleLink) error {
	query := `UPDATE cards SET
		google_event_id = ?, google_event_link = ?, google_sync_status = ?,
		google_sync_error = ?, google_synced_at = ?, google_sync_signature = ?,
		google_verified_at = ?, google_last_action = ?, updated_at = ?
		WHERE id = ?`

	result, err := db.conn.Exec(query,
		link.EventID, link.EventLink, link.SyncStatus, link.SyncError,
		link.SyncedAt, link.SyncSignature, link.VerifiedAt, link.LastAction,
		time.Now().UTC(), cardID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card link: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteCard removes a card.
func (db *DB) DeleteCard(id string) error {
	result, err := db.conn.Exec(`DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRun appends an entry to the sync run history.
func (db *DB) SaveRun(run *SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query := `INSERT INTO sync_runs (
		id, mode, ok, error, calendar_id, created, updated, deleted, unchanged,
		relinked, recreated, deduplicated, errors, total_cards, synced_cards,
		started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.Exec(query,
		run.ID, run.Mode, run.OK, run.Error, run.CalendarID,
		run.Created, run.Updated, run.Deleted, run.Unchanged,
		run.Relinked, run.Recreated, run.Deduplicated, run.Errors,
		run.TotalCards, run.SyncedCards, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}

	return nil
}

const runColumns = `id, mode, ok, error, calendar_id, created, updated, deleted, unchanged,
	relinked, recreated, deduplicated, errors, total_cards, synced_cards, started_at, finished_at`

// LatestRun returns the most recent run, optionally filtered by mode
// (empty mode matches any run).
func (db *DB) LatestRun(mode RunMode) (*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs`
	args := []any{}
	if mode != "" {
		query += ` WHERE mode = ?`
		args = append(args, mode)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	return scanRun(db.conn.QueryRow(query, args...))
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]*SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// CleanOldRuns deletes run history entries older than the cutoff.
func (db *DB) CleanOldRuns(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM sync_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old sync runs: %w", err)
	}
	return result.RowsAffected()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (*card.Card, error) {
	c := &card.Card{}
	var comments, sources string
	var syncedAt, verifiedAt sql.NullTime

	err := s.Scan(
		&c.ID, &c.Title, &c.Address, &c.Location, &c.Phone, &comments, &sources,
		&c.Date, &c.TimeLabel, &c.Status, &c.Hidden,
		&c.Google.EventID, &c.Google.EventLink, &c.Google.SyncStatus, &c.Google.SyncError,
		&syncedAt, &c.Google.SyncSignature, &verifiedAt, &c.Google.LastAction,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}

	if err := json.Unmarshal([]byte(comments), &c.Comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		c.Google.SyncedAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		c.Google.VerifiedAt = &t
	}

	return c, nil
}

func scanRun(s scanner) (*SyncRun, error) {
	run := &SyncRun{}
	err := s.Scan(
		&run.ID, &run.Mode, &run.OK, &run.Error, &run.CalendarID,
		&run.Created, &run.Updated, &run.Deleted, &run.Unchanged,
		&run.Relinked, &run.Recreated, &run.Deduplicated, &run.Errors,
		&run.TotalCards, &run.SyncedCards, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	return run, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
