package notes

import (
	"strings"
	"testing"
)

func TestNewNoteIDValidation(t *testing.T) {
	if _, err := NewNoteID("  "); err == nil {
		t.Fatal("expected error for blank note id")
	}
	if _, err := NewNoteID(strings.Repeat("x", maxIdentifierLength+1)); err == nil {
		t.Fatal("expected error for oversized note id")
	}
	id, err := NewNoteID("  note-1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "note-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewUserIDValidation(t *testing.T) {
	if _, err := NewUserID(""); err == nil {
		t.Fatal("expected error for empty user id")
	}
	if _, err := NewUserID(strings.Repeat("u", maxIdentifierLength+1)); err == nil {
		t.Fatal("expected error for oversized user id")
	}
}

func TestTagsRoundTrip(t *testing.T) {
	note := Note{TagsJSON: EncodeTags([]string{"work", "urgent"})}
	tags := note.Tags()
	if len(tags) != 2 || tags[0] != "work" || tags[1] != "urgent" {
		t.Fatalf("unexpected tags %v", tags)
	}
	if EncodeTags(nil) != "[]" {
		t.Fatalf("expected empty list encoding, got %q", EncodeTags(nil))
	}
}

func TestMonotonicUpdatedAtAdvancesPastClock(t *testing.T) {
	if got := MonotonicUpdatedAt(200, 100); got != 200 {
		t.Fatalf("expected wall clock value 200, got %d", got)
	}
	if got := MonotonicUpdatedAt(100, 100); got != 101 {
		t.Fatalf("expected previous+1 for stalled clock, got %d", got)
	}
	if got := MonotonicUpdatedAt(50, 100); got != 101 {
		t.Fatalf("expected previous+1 for backwards clock, got %d", got)
	}
}

func TestMonotonicUpdatedAtStrictOverRapidEdits(t *testing.T) {
	// Ten edits inside the same one-second clock tick must still produce
	// strictly increasing timestamps.
	now := int64(1700000000)
	previous := int64(0)
	for i := 0; i < 10; i++ {
		next := MonotonicUpdatedAt(now, previous)
		if next <= previous {
			t.Fatalf("edit %d regressed: previous %d next %d", i, previous, next)
		}
		previous = next
	}
}
