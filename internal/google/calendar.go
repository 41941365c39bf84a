package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calpal/internal/models"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Options controls which events the client reads and how long each call may take.
type Options struct {
	CalendarID  string
	HorizonDays int
	MaxResults  int64
	CallTimeout time.Duration
}

func (o *Options) normalize() {
	if o.CalendarID == "" {
		o.CalendarID = "primary"
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = 7
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 100
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewClient creates a Google Calendar client authenticated with the saved token.
func NewClient(ctx context.Context, logger *slog.Logger, auth AuthFiles, opts Options) (*CalendarClient, error) {
	httpClient, err := auth.HTTPClient(ctx, logger)
	if err != nil {
		return nil, err
	}
	return NewClientWithHTTP(ctx, logger, httpClient, opts)
}

// NewClientWithHTTP builds the client over an already-authorized HTTP client.
// Extra options (for example option.WithEndpoint) are passed to the API service.
func NewClientWithHTTP(ctx context.Context, logger *slog.Logger, httpClient *http.Client, opts Options, extra ...option.ClientOption) (*CalendarClient, error) {
	opts.normalize()
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, extra...)
	service, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, opts: opts, now: time.Now}, nil
}

// ListUpcoming fetches events starting between today's local midnight and the
// end of the configured horizon, in start-time order.
func (c *CalendarClient) ListUpcoming(ctx context.Context) ([]*models.CalendarEvent, error) {
	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	horizon := today.AddDate(0, 0, c.opts.HorizonDays)

	c.logger.Debug("Fetching upcoming events", "calendarID", c.opts.CalendarID, "from", today, "to", horizon)

	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	events, err := c.service.Events.List(c.opts.CalendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(today.Format(time.RFC3339)).
		TimeMax(horizon.Format(time.RFC3339)).
		MaxResults(c.opts.MaxResults).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	var out []*models.CalendarEvent
	for _, item := range events.Items {
		ev := toInternalEvent(item)
		if !startsWithin(ev.Start, today, horizon) {
			c.logger.Debug("Skipping event outside window", "id", ev.ID, "start", ev.Start.Value())
			continue
		}
		out = append(out, ev)
	}

	c.logger.Info("Fetched events from Google Calendar", "count", len(out), "calendarID", c.opts.CalendarID)
	return out, nil
}

// Get reads a single event. A missing or purged event yields models.ErrEventNotFound.
func (c *CalendarClient) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	item, err := c.service.Events.Get(c.opts.CalendarID, id).Context(ctx).Do()
	if err != nil {
		return nil, mapError("get", id, err)
	}
	return toInternalEvent(item), nil
}

// Insert creates an event. When w.ID is set it is used as the event id.
func (c *CalendarClient) Insert(ctx context.Context, w models.EventWrite) (*models.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	item, err := c.service.Events.Insert(c.opts.CalendarID, toAPIEvent(w)).Context(ctx).Do()
	if err != nil {
		return nil, mapError("insert", w.ID, err)
	}
	c.logger.Info("Event created", "id", item.Id, "link", item.HtmlLink)
	return toInternalEvent(item), nil
}

// Update replaces the user-editable fields of an existing event.
func (c *CalendarClient) Update(ctx context.Context, id string, w models.EventWrite) (*models.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	w.ID = ""
	item, err := c.service.Events.Update(c.opts.CalendarID, id, toAPIEvent(w)).Context(ctx).Do()
	if err != nil {
		return nil, mapError("update", id, err)
	}
	c.logger.Info("Event updated", "id", item.Id, "link", item.HtmlLink)
	return toInternalEvent(item), nil
}

// Delete removes an event.
func (c *CalendarClient) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	if err := c.service.Events.Delete(c.opts.CalendarID, id).Context(ctx).Do(); err != nil {
		return mapError("delete", id, err)
	}
	c.logger.Info("Event deleted", "id", id)
	return nil
}

// mapError turns 404/410 replies into models.ErrEventNotFound.
func mapError(op, id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("failed to %s event %s: %w", op, id, models.ErrEventNotFound)
	}
	return fmt.Errorf("failed to %s event %s: %w", op, id, err)
}

// toInternalEvent converts a Google Calendar event to the internal model.
func toInternalEvent(item *calendar.Event) *models.CalendarEvent {
	ev := &models.CalendarEvent{
		ID:          item.Id,
		Kind:        item.Kind,
		Etag:        item.Etag,
		Status:      item.Status,
		HTMLLink:    item.HtmlLink,
		Created:     item.Created,
		Updated:     item.Updated,
		Summary:     item.Summary,
		Description: item.Description,
		ICalUID:     item.ICalUID,
		Sequence:    item.Sequence,
		EventType:   item.EventType,
		HangoutLink: item.HangoutLink,
	}
	if item.Creator != nil {
		ev.CreatorEmail = item.Creator.Email
		ev.CreatorSelf = item.Creator.Self
	}
	if item.Organizer != nil {
		ev.OrganizerEmail = item.Organizer.Email
		ev.OrganizerSelf = item.Organizer.Self
	}
	if item.Start != nil {
		ev.Start = models.EventTime{DateTime: item.Start.DateTime, Date: item.Start.Date, TimeZone: item.Start.TimeZone}
	}
	if item.End != nil {
		ev.End = models.EventTime{DateTime: item.End.DateTime, Date: item.End.Date, TimeZone: item.End.TimeZone}
	}
	if item.Reminders != nil {
		ev.UseDefaultReminders = item.Reminders.UseDefault
	}
	if len(item.Attendees) > 0 {
		if b, err := json.Marshal(item.Attendees); err == nil {
			ev.Attendees = b
		}
	}
	if item.ConferenceData != nil {
		ev.ConferenceID = item.ConferenceData.ConferenceId
		if b, err := json.Marshal(item.ConferenceData); err == nil {
			ev.ConferenceData = b
		}
	}
	return ev
}

func toAPIEvent(w models.EventWrite) *calendar.Event {
	return &calendar.Event{
		Id:          w.ID,
		Summary:     w.Summary,
		Description: w.Description,
		Start:       &calendar.EventDateTime{DateTime: w.Start, TimeZone: w.TimeZone},
		End:         &calendar.EventDateTime{DateTime: w.End, TimeZone: w.TimeZone},
	}
}

// startsWithin reports whether an event starts inside [from, to].
// Start values that cannot be parsed are kept.
func startsWithin(start models.EventTime, from, to time.Time) bool {
	var t time.Time
	var err error
	switch {
	case start.DateTime != "":
		t, err = time.Parse(time.RFC3339, start.DateTime)
	case start.Date != "":
		t, err = time.ParseInLocation("2006-01-02", start.Date, from.Location())
	default:
		return true
	}
	if err != nil {
		return true
	}
	return !t.Before(from) && !t.After(to)
}
