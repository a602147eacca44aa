package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bn-grid-bot/internal/events"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	first := events.Event{
		Time:    time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		Kind:    events.KindLevelPlaced,
		Message: "entry SELL LIMIT placed at 0.22",
		Fields:  map[string]any{"price": 0.22},
	}
	second := events.Event{
		Time:    time.Date(2026, 8, 29, 10, 5, 0, 0, time.UTC),
		Kind:    events.KindFillDetected,
		Message: "short opened at 0.22",
	}
	if err := j.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Append(ctx, second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Kind != events.KindFillDetected || got[1].Kind != events.KindLevelPlaced {
		t.Fatalf("unexpected order: %v, %v", got[0].Kind, got[1].Kind)
	}
	if !got[1].Time.Equal(first.Time) {
		t.Fatalf("timestamp drifted: %v, want %v", got[1].Time, first.Time)
	}
	if got[1].Message != first.Message {
		t.Fatalf("message drifted: %q", got[1].Message)
	}
	if price, ok := got[1].Fields["price"].(float64); !ok || price != 0.22 {
		t.Fatalf("fields did not round-trip: %#v", got[1].Fields)
	}
	if got[0].Fields != nil {
		t.Fatalf("expected empty fields, got %#v", got[0].Fields)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev := events.Event{
			Time:    time.Now().UTC(),
			Kind:    events.KindLevelPlaced,
			Message: "placed",
		}
		if err := j.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := j.Append(ctx, events.Event{Time: time.Now().UTC(), Kind: events.KindStarted, Message: "bot started"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Kind != events.KindStarted {
		t.Fatalf("persisted events lost: %+v", got)
	}
}
