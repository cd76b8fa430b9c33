package journal

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

func event(id, symbol string, firedAt time.Time) domain.TriggerEvent {
	return domain.TriggerEvent{
		ID:      id,
		RuleID:  "r1",
		Symbol:  domain.NewSymbol(symbol),
		FiredAt: firedAt,
	}
}

func TestAppendAndQuery(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	written, err := j.Append(event("t1", "btcusdt", base))
	if err != nil || !written {
		t.Fatalf("append t1: written=%v err=%v", written, err)
	}
	written, err = j.Append(event("t2", "ethusdt", base.Add(time.Minute)))
	if err != nil || !written {
		t.Fatalf("append t2: written=%v err=%v", written, err)
	}

	events, err := j.Query("", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	e := event("dup", "btcusdt", time.Now().UTC())
	written, err := j.Append(e)
	if err != nil || !written {
		t.Fatalf("first append: written=%v err=%v", written, err)
	}
	written, err = j.Append(e)
	if err != nil {
		t.Fatalf("second append error: %v", err)
	}
	if written {
		t.Fatal("expected second append to be a no-op")
	}
	if j.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", j.Len())
	}
}

func TestQueryFiltersBySymbolAndTimeRange(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j.Append(event("t1", "btcusdt", base))
	j.Append(event("t2", "btcusdt", base.Add(time.Hour)))
	j.Append(event("t3", "ethusdt", base.Add(2*time.Hour)))

	events, err := j.Query(domain.NewSymbol("btcusdt"), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 btcusdt events, got %d", len(events))
	}

	events, err = j.Query("", base.Add(30*time.Minute), base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 || events[0].ID != "t2" {
		t.Fatalf("want only t2 in range, got %+v", events)
	}
}

func TestReopenReplaysIndexForIdempotency(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	e := event("persisted", "btcusdt", time.Now().UTC())
	if _, err := j.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := Open(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()

	if !j2.Contains("persisted") {
		t.Fatal("expected reopened journal to recognize previously persisted id")
	}
	written, err := j2.Append(e)
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if written {
		t.Fatal("expected duplicate append after reopen to be a no-op")
	}
}
