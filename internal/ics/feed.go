// Package ics renders mirrored events as an iCalendar feed.
package ics

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"calpal/internal/models"

	"github.com/emersion/go-ical"
)

const (
	productID  = "-//calpal//EN"
	dateLayout = "2006-01-02"
	// floatingLayout is an iCalendar DATE-TIME without the UTC designator.
	floatingLayout = "20060102T150405"
	// PropColour carries the mirror's palette colour; the hex form is not a
	// valid RFC 7986 COLOR value.
	PropColour = "X-CALPAL-COLOUR"
)

// Feed encodes mirrored rows into a VCALENDAR.
type Feed struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewFeed creates a Feed.
func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{logger: logger, now: time.Now}
}

// Write encodes rows to w. Rows whose times cannot be parsed are skipped and
// logged rather than failing the whole feed.
func (f *Feed) Write(w io.Writer, rows []models.MirroredEvent) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	stamp := f.now().UTC()
	for i := range rows {
		row := &rows[i]
		ve, err := toICal(row, stamp)
		if err != nil {
			f.logger.Warn("Skipping event in feed", "id", row.ID, "error", err)
			continue
		}
		cal.Children = append(cal.Children, ve)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func toICal(row *models.MirroredEvent, stamp time.Time) (*ical.Component, error) {
	uid := row.ICalUID
	if uid == "" {
		uid = row.ID
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	if err := setTime(ve, ical.PropDateTimeStart, row.StartDateTime, row.StartTimeZone); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := setTime(ve, ical.PropDateTimeEnd, row.EndDateTime, row.EndTimeZone); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	if row.Summary != "" {
		ve.Props.SetText(ical.PropSummary, row.Summary)
	}
	if row.Description != "" {
		ve.Props.SetText(ical.PropDescription, row.Description)
	}
	if row.Status != "" {
		ve.Props.SetText(ical.PropStatus, statusOf(row.Status))
	}
	if row.OrganizerEmail != "" {
		p := ical.NewProp(ical.PropOrganizer)
		p.Value = "mailto:" + row.OrganizerEmail
		ve.Props.Add(p)
	}
	if row.Colour != "" {
		ve.Props.SetText(PropColour, "#"+row.Colour)
	}
	return ve, nil
}

// setTime writes a stored local wall-clock value in its recorded zone. Date
// only values become all-day VALUE=DATE properties.
func setTime(ve *ical.Component, name, value, zone string) error {
	if value == "" {
		return fmt.Errorf("missing %s", name)
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		ve.Props.SetDate(name, t)
		return nil
	}

	if zone == "" {
		// No recorded zone: a floating DATE-TIME, neither Z nor TZID.
		t, err := time.Parse(models.LocalLayout, value)
		if err != nil {
			return fmt.Errorf("unparseable %s %q: %w", name, value, err)
		}
		p := ical.NewProp(name)
		p.Value = t.Format(floatingLayout)
		ve.Props.Set(p)
		return nil
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	t, err := time.ParseInLocation(models.LocalLayout, value, loc)
	if err != nil {
		return fmt.Errorf("unparseable %s %q: %w", name, value, err)
	}
	ve.Props.SetDateTime(name, t)
	return nil
}

func statusOf(s string) string {
	switch s {
	case "tentative":
		return "TENTATIVE"
	case "cancelled":
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}
