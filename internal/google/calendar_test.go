package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"calpal/internal/models"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient points a CalendarClient at a fake Calendar API server.
func newTestClient(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClientWithHTTP(context.Background(), discardLogger(), srv.Client(),
		Options{CalendarID: "primary", HorizonDays: 7},
		option.WithEndpoint(srv.URL+"/"),
	)
	if err != nil {
		t.Fatalf("NewClientWithHTTP: %v", err)
	}
	c.now = func() time.Time {
		return time.Date(2024, 1, 1, 8, 30, 0, 0, time.FixedZone("MST", -7*3600))
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestListUpcoming(t *testing.T) {
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		gotQuery = r.URL.Query()
		writeJSON(t, w, calendar.Events{Items: []*calendar.Event{
			{
				Id:        "a",
				Summary:   "Standup",
				Creator:   &calendar.EventCreator{Email: "me@example.com", Self: true},
				Organizer: &calendar.EventOrganizer{Email: "me@example.com"},
				Start:     &calendar.EventDateTime{DateTime: "2024-01-01T09:00:00-07:00", TimeZone: "America/Edmonton"},
				End:       &calendar.EventDateTime{DateTime: "2024-01-01T09:15:00-07:00", TimeZone: "America/Edmonton"},
				Attendees: []*calendar.EventAttendee{{Email: "a@example.com"}},
				Reminders: &calendar.EventReminders{UseDefault: true},
			},
			{
				// Started yesterday, ends today: outside the window.
				Id:    "spill",
				Start: &calendar.EventDateTime{DateTime: "2023-12-31T23:00:00-07:00"},
				End:   &calendar.EventDateTime{DateTime: "2024-01-01T01:00:00-07:00"},
			},
			{
				Id:    "holiday",
				Start: &calendar.EventDateTime{Date: "2024-01-03"},
				End:   &calendar.EventDateTime{Date: "2024-01-04"},
			},
		}})
	})

	events, err := c.ListUpcoming(context.Background())
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	a := events[0]
	if a.ID != "a" || a.Summary != "Standup" || a.CreatorEmail != "me@example.com" || !a.CreatorSelf {
		t.Fatalf("unexpected event: %+v", a)
	}
	if a.Start.DateTime != "2024-01-01T09:00:00-07:00" || a.Start.TimeZone != "America/Edmonton" {
		t.Fatalf("unexpected start: %+v", a.Start)
	}
	if !a.UseDefaultReminders {
		t.Fatalf("expected useDefault")
	}
	if !strings.Contains(string(a.Attendees), "a@example.com") {
		t.Fatalf("attendees not serialized: %s", a.Attendees)
	}
	if events[1].ID != "holiday" || events[1].Start.Date != "2024-01-03" {
		t.Fatalf("unexpected all-day event: %+v", events[1])
	}

	if got := gotQuery["singleEvents"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("singleEvents = %v", got)
	}
	if got := gotQuery["orderBy"]; len(got) != 1 || got[0] != "startTime" {
		t.Errorf("orderBy = %v", got)
	}
	if got := gotQuery["timeMin"]; len(got) != 1 || got[0] != "2024-01-01T00:00:00-07:00" {
		t.Errorf("timeMin = %v", got)
	}
	if got := gotQuery["timeMax"]; len(got) != 1 || got[0] != "2024-01-08T00:00:00-07:00" {
		t.Errorf("timeMax = %v", got)
	}
}

func TestListUpcoming_TransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
	})

	if _, err := c.ListUpcoming(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestInsertSendsClientID(t *testing.T) {
	var body calendar.Event
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		body.HtmlLink = "https://calendar.example/" + body.Id
		writeJSON(t, w, body)
	})

	ev, err := c.Insert(context.Background(), models.EventWrite{
		ID:       "abc123",
		Summary:  "Standup",
		Start:    "2024-01-01T09:00:00-07:00",
		End:      "2024-01-01T09:15:00-07:00",
		TimeZone: "America/Edmonton",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if body.Id != "abc123" || body.Start.TimeZone != "America/Edmonton" || body.End.DateTime != "2024-01-01T09:15:00-07:00" {
		t.Fatalf("unexpected request body: %+v", body)
	}
	if ev.ID != "abc123" {
		t.Fatalf("unexpected event id %q", ev.ID)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusNotFound
		if r.Method == http.MethodDelete {
			code = http.StatusGone
		}
		w.WriteHeader(code)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Not Found"}}`)
	})

	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("Get: expected ErrEventNotFound, got %v", err)
	}
	if err := c.Delete(context.Background(), "missing"); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("Delete: expected ErrEventNotFound, got %v", err)
	}
}

func TestStartsWithin(t *testing.T) {
	loc := time.FixedZone("MST", -7*3600)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 7)

	tests := []struct {
		name  string
		start models.EventTime
		want  bool
	}{
		{"at midnight", models.EventTime{DateTime: "2024-01-01T00:00:00-07:00"}, true},
		{"before window", models.EventTime{DateTime: "2023-12-31T23:59:00-07:00"}, false},
		{"at horizon", models.EventTime{DateTime: "2024-01-08T00:00:00-07:00"}, true},
		{"after horizon", models.EventTime{DateTime: "2024-01-08T00:00:01-07:00"}, false},
		{"all-day inside", models.EventTime{Date: "2024-01-05"}, true},
		{"unparseable kept", models.EventTime{DateTime: "soon"}, true},
		{"missing kept", models.EventTime{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := startsWithin(tt.start, from, to); got != tt.want {
				t.Fatalf("startsWithin(%+v) = %v, want %v", tt.start, got, tt.want)
			}
		})
	}
}
