package models

import (
	"fmt"
	"strings"
	"time"
)

// LocalLayout is the offset-free timestamp layout used by the store and by
// event write requests.
const LocalLayout = "2006-01-02T15:04:05"

const offsetWidth = len("-07:00")

// StripOffset removes a trailing "±HH:MM" UTC offset from an RFC 3339
// timestamp. Anything without exactly that suffix, including "Z" and
// date-only values, is returned unchanged.
func StripOffset(ts string) string {
	if !HasOffset(ts) {
		return ts
	}
	return ts[:len(ts)-offsetWidth]
}

// HasOffset reports whether ts ends in a "±HH:MM" suffix following a time of day.
func HasOffset(ts string) bool {
	if len(ts) <= offsetWidth || !strings.Contains(ts, "T") {
		return false
	}
	return ValidOffset(ts[len(ts)-offsetWidth:])
}

// ValidOffset reports whether s is a "±HH:MM" offset literal.
func ValidOffset(s string) bool {
	if len(s) != offsetWidth {
		return false
	}
	if s[0] != '+' && s[0] != '-' {
		return false
	}
	if s[3] != ':' {
		return false
	}
	for _, i := range []int{1, 2, 4, 5} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return (s[1]-'0')*10+(s[2]-'0') <= 14 && s[4] <= '5'
}

// AppendOffset validates a local timestamp and attaches a fixed offset to it.
func AppendOffset(local, offset string) (string, error) {
	if _, err := ParseLocal(local); err != nil {
		return "", err
	}
	return local + offset, nil
}

// ParseLocal parses an offset-free timestamp. Fractional seconds are accepted.
func ParseLocal(local string) (time.Time, error) {
	t, err := time.Parse(LocalLayout, strings.TrimSpace(local))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q is not in %s form", ErrInvalidInput, local, LocalLayout)
	}
	return t, nil
}

// EventInput carries the user-editable fields of an event write.
type EventInput struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

// Validate checks that the input describes a well-formed timed event.
func (in EventInput) Validate() error {
	if strings.TrimSpace(in.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrInvalidInput)
	}
	start, err := ParseLocal(in.Start)
	if err != nil {
		return err
	}
	end, err := ParseLocal(in.End)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidInput, in.End, in.Start)
	}
	return nil
}

// EventWrite is a create or update request for the external calendar.
// Start and End carry an explicit UTC offset.
type EventWrite struct {
	ID          string
	Summary     string
	Description string
	Start       string
	End         string
	TimeZone    string
}
