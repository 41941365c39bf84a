package models

import (
	"encoding/json"
	"errors"
)

var (
	// ErrEventNotFound is returned when an event id is unknown to the store or the calendar.
	ErrEventNotFound = errors.New("event not found")
	// ErrInvalidInput marks user-supplied data that cannot be turned into an event.
	ErrInvalidInput = errors.New("invalid input")
)

// Palette holds the colours a mirrored event can be tagged with.
// A colour is picked once, when the event is first inserted.
var Palette = []string{"56c8b5", "c15854", "b5a0e1"}

// EventTime is one end of an event's time range as the calendar reports it.
// Timed events carry DateTime; all-day events only carry Date.
type EventTime struct {
	DateTime string
	Date     string
	TimeZone string
}

// Value returns DateTime, or Date for all-day events.
func (t EventTime) Value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// CalendarEvent is an event as read from the external calendar.
// It is independent of any specific calendar client library.
type CalendarEvent struct {
	ID          string
	Kind        string
	Etag        string
	Status      string
	HTMLLink    string
	Created     string
	Updated     string
	Summary     string
	Description string

	CreatorEmail   string
	CreatorSelf    bool
	OrganizerEmail string
	OrganizerSelf  bool

	Start EventTime
	End   EventTime

	ICalUID             string
	Sequence            int64
	UseDefaultReminders bool
	EventType           string

	// Attendees and ConferenceData are kept as serialized JSON and never inspected.
	Attendees      json.RawMessage
	HangoutLink    string
	ConferenceData json.RawMessage
	ConferenceID   string
}

// MirroredEvent is a row of the local calendar_events table.
// JSON names match the column names.
type MirroredEvent struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Etag           string          `json:"etag"`
	Status         string          `json:"status"`
	HTMLLink       string          `json:"htmlLink"`
	Created        string          `json:"created"`
	Updated        string          `json:"updated"`
	Summary        string          `json:"summary"`
	Description    string          `json:"description"`
	CreatorEmail   string          `json:"creator_email"`
	CreatorSelf    bool            `json:"creator_self"`
	OrganizerEmail string          `json:"organizer_email"`
	OrganizerSelf  bool            `json:"organizer_self"`
	StartDateTime  string          `json:"start_dateTime"`
	StartTimeZone  string          `json:"start_timeZone"`
	EndDateTime    string          `json:"end_dateTime"`
	EndTimeZone    string          `json:"end_timeZone"`
	ICalUID        string          `json:"iCalUID"`
	Sequence       int64           `json:"sequence"`
	UseDefault     bool            `json:"useDefault"`
	EventType      string          `json:"eventType"`
	Attendees      json.RawMessage `json:"attendees"`
	HangoutLink    string          `json:"hangoutLink"`
	ConferenceData json.RawMessage `json:"conferenceData"`
	ConferenceID   string          `json:"conferenceId"`
	Colour         string          `json:"colour"`
}

// EventRef is the minimal projection used to test whether a row exists.
type EventRef struct {
	ID           string
	CreatorEmail string
}

// ToRow flattens a calendar event into a row, normalizing both timestamps
// with StripOffset. Colour is left empty; the caller assigns it on insert.
func (e *CalendarEvent) ToRow() *MirroredEvent {
	return &MirroredEvent{
		ID:             e.ID,
		Kind:           e.Kind,
		Etag:           e.Etag,
		Status:         e.Status,
		HTMLLink:       e.HTMLLink,
		Created:        e.Created,
		Updated:        e.Updated,
		Summary:        e.Summary,
		Description:    e.Description,
		CreatorEmail:   e.CreatorEmail,
		CreatorSelf:    e.CreatorSelf,
		OrganizerEmail: e.OrganizerEmail,
		OrganizerSelf:  e.OrganizerSelf,
		StartDateTime:  StripOffset(e.Start.Value()),
		StartTimeZone:  e.Start.TimeZone,
		EndDateTime:    StripOffset(e.End.Value()),
		EndTimeZone:    e.End.TimeZone,
		ICalUID:        e.ICalUID,
		Sequence:       e.Sequence,
		UseDefault:     e.UseDefaultReminders,
		EventType:      e.EventType,
		Attendees:      e.Attendees,
		HangoutLink:    e.HangoutLink,
		ConferenceData: e.ConferenceData,
		ConferenceID:   e.ConferenceID,
	}
}

// Message is a row of the messages table.
type Message struct {
	Timestamp string `json:"timestamp"`
	FromUser  string `json:"fromUser"`
	Content   string `json:"content"`
}
