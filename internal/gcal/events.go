package gcal

import (
	"context"
	"net/url"
	"strconv"
)

// cardIDProperty is the private extended-property key linking an event
// back to its owning card. It is the only durable cross-reference the
// calendar service offers, and the sole mechanism for re-discovering an
// event when the stored event id is lost.
const cardIDProperty = "cardId"

// EventDateTime is the start or end of an event.
type EventDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// ExtendedProperties holds the private key/value store of an event.
type ExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

// Event is a calendar event as exchanged with the API.
type Event struct {
	ID                 string              `json:"id,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Location           string              `json:"location,omitempty"`
	Description        string              `json:"description,omitempty"`
	Start              *EventDateTime      `json:"start,omitempty"`
	End                *EventDateTime      `json:"end,omitempty"`
	HTMLLink           string              `json:"htmlLink,omitempty"`
	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
}

// CardID returns the owning card id embedded in the event, or empty.
func (e *Event) CardID() string {
	if e.ExtendedProperties == nil {
		return ""
	}
	return e.ExtendedProperties.Private[cardIDProperty]
}

// SetCardID embeds the owning card id as a private marker.
func (e *Event) SetCardID(cardID string) {
	if e.ExtendedProperties == nil {
		e.ExtendedProperties = &ExtendedProperties{}
	}
	if e.ExtendedProperties.Private == nil {
		e.ExtendedProperties.Private = make(map[string]string)
	}
	e.ExtendedProperties.Private[cardIDProperty] = cardID
}

func eventsPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func eventPath(calendarID, eventID string) string {
	return eventsPath(calendarID) + "/" + url.PathEscape(eventID)
}

// GetEvent fetches a single event by id.
func (s *Service) GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error) {
	event := &Event{}
	if err := s.client.Call(ctx, "GET", eventPath(calendarID, eventID), nil, nil, event); err != nil {
		return nil, err
	}
	return event, nil
}

// InsertEvent creates a new event and returns the stored representation.
func (s *Service) InsertEvent(ctx context.Context, calendarID string, event *Event) (*Event, error) {
	created := &Event{}
	if err := s.client.Call(ctx, "POST", eventsPath(calendarID), nil, event, created); err != nil {
		return nil, err
	}
	return created, nil
}

// PatchEvent updates an existing event in place.
func (s *Service) PatchEvent(ctx context.Context, calendarID, eventID string, event *Event) (*Event, error) {
	updated := &Event{}
	if err := s.client.Call(ctx, "PATCH", eventPath(calendarID, eventID), nil, event, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return s.client.Call(ctx, "DELETE", eventPath(calendarID, eventID), nil, nil, nil)
}

// ListEventsByCardID returns events carrying the given card's private
// marker, bounded by max.
func (s *Service) ListEventsByCardID(ctx context.Context, calendarID, cardID string, max int) ([]Event, error) {
	query := url.Values{
		"privateExtendedProperty": {cardIDProperty + "=" + cardID},
		"showDeleted":             {"false"},
		"singleEvents":            {"true"},
		"orderBy":                 {"startTime"},
		"maxResults":              {strconv.Itoa(max)},
	}

	var page struct {
		Items []Event `json:"items"`
	}
	if err := s.client.Call(ctx, "GET", eventsPath(calendarID), query, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}
