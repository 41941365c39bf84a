package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"calpal/internal/models"
)

// openTestDB opens a fresh database under t.TempDir.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRow(id, summary, colour string) *models.MirroredEvent {
	return &models.MirroredEvent{
		ID:             id,
		Kind:           "calendar#event",
		Etag:           `"3181161784712000"`,
		Status:         "confirmed",
		Summary:        summary,
		CreatorEmail:   "me@example.com",
		CreatorSelf:    true,
		OrganizerEmail: "me@example.com",
		OrganizerSelf:  true,
		StartDateTime:  "2024-01-01T09:00:00",
		StartTimeZone:  "America/Edmonton",
		EndDateTime:    "2024-01-01T09:15:00",
		EndTimeZone:    "America/Edmonton",
		Sequence:       1,
		UseDefault:     true,
		EventType:      "default",
		Attendees:      json.RawMessage(`[{"email":"a@example.com"}]`),
		Colour:         colour,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"calendar_events", "messages"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
}

func TestFindByID_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.FindByID(context.Background(), "missing")
	if !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestInsertAndFind(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Insert(ctx, sampleRow("a", "Standup", "56c8b5")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	ref, err := db.FindByID(ctx, "a")
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if ref.ID != "a" || ref.CreatorEmail != "me@example.com" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Summary != "Standup" || got.Colour != "56c8b5" || !got.CreatorSelf || !got.UseDefault {
		t.Fatalf("unexpected row: %+v", got)
	}
	if string(got.Attendees) != `[{"email":"a@example.com"}]` {
		t.Fatalf("attendees = %s", got.Attendees)
	}
	if got.ConferenceData != nil {
		t.Fatalf("conferenceData should be nil, got %s", got.ConferenceData)
	}
}

func TestInsert_RequiresColour(t *testing.T) {
	db := openTestDB(t)

	err := db.Insert(context.Background(), sampleRow("a", "Standup", ""))
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestInsert_ConflictKeepsColour(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Insert(ctx, sampleRow("a", "Standup", "56c8b5")); err != nil {
		t.Fatalf("first Insert() failed: %v", err)
	}
	if err := db.Insert(ctx, sampleRow("a", "Standup (moved)", "c15854")); err != nil {
		t.Fatalf("second Insert() failed: %v", err)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("row count = %d, want 1", n)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Summary != "Standup (moved)" {
		t.Errorf("summary = %q, want updated value", got.Summary)
	}
	if got.Colour != "56c8b5" {
		t.Errorf("colour = %q, want original 56c8b5", got.Colour)
	}
}

func TestUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Insert(ctx, sampleRow("a", "Standup", "b5a0e1")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	row := sampleRow("a", "Retro", "56c8b5")
	row.Sequence = 4
	row.Attendees = nil
	if err := db.Update(ctx, row); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := db.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Summary != "Retro" || got.Sequence != 4 {
		t.Errorf("unexpected row after update: %+v", got)
	}
	if got.Colour != "b5a0e1" {
		t.Errorf("colour changed to %q", got.Colour)
	}
	if got.Attendees != nil {
		t.Errorf("attendees = %s, want nil", got.Attendees)
	}
}

func TestUpdate_Missing(t *testing.T) {
	db := openTestDB(t)

	err := db.Update(context.Background(), sampleRow("ghost", "x", "56c8b5"))
	if !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Insert(ctx, sampleRow("a", "Standup", "56c8b5")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := db.FindByID(ctx, "a"); !errors.Is(err, models.ErrEventNotFound) {
		t.Fatalf("row still present: %v", err)
	}

	// Deleting again is a no-op.
	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatalf("second Delete() failed: %v", err)
	}
}

func TestListAll_OrderedByStart(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	empty, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	late := sampleRow("late", "Lunch", "56c8b5")
	late.StartDateTime = "2024-01-01T12:00:00"
	early := sampleRow("early", "Standup", "c15854")
	for _, row := range []*models.MirroredEvent{late, early} {
		if err := db.Insert(ctx, row); err != nil {
			t.Fatalf("Insert(%s) failed: %v", row.ID, err)
		}
	}

	rows, err := db.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "early" || rows[1].ID != "late" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestInsert_Concurrent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- db.Insert(ctx, sampleRow("same", "Standup", models.Palette[i%len(models.Palette)]))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Insert() failed: %v", err)
		}
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("row count = %d, want 1", n)
	}
}

func TestMessages(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	msgs := []models.Message{
		{Timestamp: "2024-01-01T08:00:00", FromUser: "alex", Content: "morning"},
		{Timestamp: "2024-01-01T08:05:00", FromUser: "sam", Content: "hi"},
	}
	for _, m := range msgs {
		if err := db.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage() failed: %v", err)
		}
	}

	got, err := db.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if len(got) != 2 || got[0] != msgs[0] || got[1] != msgs[1] {
		t.Fatalf("unexpected messages: %+v", got)
	}
}
