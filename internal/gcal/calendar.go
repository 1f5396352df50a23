package gcal

import (
	"context"
	"fmt"
	"log"
	"net/url"
)

// Service wraps the API client with the working-calendar identity and
// the typed event, calendar and free/busy operations the sync core
// needs.
type Service struct {
	client *Client

	// calendarID is the explicitly configured calendar. It always wins
	// over discovery so multi-tenant setups can pin the calendar.
	calendarID   string
	calendarName string
	timeZone     string

	// resolved caches a calendar id discovered by search or creation
	// for the lifetime of the process. Discovery is a paginated list
	// call and the id rarely changes.
	resolved string
}

// NewService creates a calendar service.
func NewService(client *Client, calendarID, calendarName, timeZone string) *Service {
	return &Service{
		client:       client,
		calendarID:   calendarID,
		calendarName: calendarName,
		timeZone:     timeZone,
	}
}

// Configured reports whether the underlying client has credentials.
func (s *Service) Configured() bool {
	return s.client.Configured()
}

// calendarListEntry is one item of the calendarList collection.
type calendarListEntry struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

// CalendarID resolves the working calendar id: explicit configuration,
// then the cached result of a prior resolution, then a paginated search
// by display name, then creation if permitted.
func (s *Service) CalendarID(ctx context.Context, createIfMissing bool) (string, error) {
	if s.calendarID != "" {
		return s.calendarID, nil
	}
	if s.resolved != "" {
		return s.resolved, nil
	}

	pageToken := ""
	for {
		query := url.Values{}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var page struct {
			Items         []calendarListEntry `json:"items"`
			NextPageToken string              `json:"nextPageToken"`
		}
		if err := s.client.Call(ctx, "GET", "/users/me/calendarList", query, nil, &page); err != nil {
			return "", fmt.Errorf("failed to list calendars: %w", err)
		}

		for _, entry := range page.Items {
			if entry.Summary == s.calendarName {
				s.resolved = entry.ID
				return s.resolved, nil
			}
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if !createIfMissing {
		return "", fmt.Errorf("%w: %q", ErrCalendarNotFound, s.calendarName)
	}

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]string{
		"summary":  s.calendarName,
		"timeZone": s.timeZone,
	}
	if err := s.client.Call(ctx, "POST", "/calendars", nil, body, &created); err != nil {
		return "", fmt.Errorf("failed to create calendar %q: %w", s.calendarName, err)
	}

	log.Printf("Created calendar %q (%s)", s.calendarName, created.ID)
	s.resolved = created.ID
	return s.resolved, nil
}

// AccessRole returns the caller's access role on the given calendar.
func (s *Service) AccessRole(ctx context.Context, calendarID string) (string, error) {
	var entry struct {
		AccessRole string `json:"accessRole"`
	}
	path := "/users/me/calendarList/" + url.PathEscape(calendarID)
	if err := s.client.Call(ctx, "GET", path, nil, nil, &entry); err != nil {
		return "", err
	}
	return entry.AccessRole, nil
}
