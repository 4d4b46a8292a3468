package chatclient

import (
	"testing"
	"time"

	"verseroom/internal/document"
)

func itemAt(ts time.Time, content string) Item {
	return Item{Message: document.Message{ID: content, Content: content, Timestamp: ts.UnixMilli()}}
}

func TestGroupByDayLabels(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2026, 8, 31, 15, 0, 0, 0, loc)

	items := []Item{
		itemAt(time.Date(2026, 8, 29, 23, 50, 0, 0, loc), "older"),
		itemAt(time.Date(2026, 8, 30, 0, 10, 0, 0, loc), "yesterday-early"),
		itemAt(time.Date(2026, 8, 30, 18, 0, 0, 0, loc), "yesterday-late"),
		itemAt(time.Date(2026, 8, 31, 9, 0, 0, 0, loc), "today"),
	}

	groups := GroupByDay(items, now, loc)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0].Label != "2026年8月29日" {
		t.Fatalf("older label = %q", groups[0].Label)
	}
	if groups[1].Label != "昨天" {
		t.Fatalf("yesterday label = %q", groups[1].Label)
	}
	if len(groups[1].Items) != 2 {
		t.Fatalf("yesterday should hold 2 messages, got %d", len(groups[1].Items))
	}
	if groups[2].Label != "今天" {
		t.Fatalf("today label = %q", groups[2].Label)
	}
}

func TestGroupByDayMidnightBoundary(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2026, 8, 31, 1, 0, 0, 0, loc)

	items := []Item{
		itemAt(time.Date(2026, 8, 30, 23, 59, 59, 0, loc), "before"),
		itemAt(time.Date(2026, 8, 31, 0, 0, 1, 0, loc), "after"),
	}

	groups := GroupByDay(items, now, loc)
	if len(groups) != 2 {
		t.Fatalf("messages a second apart across midnight must split, got %d groups", len(groups))
	}
	if groups[0].Label != "昨天" || groups[1].Label != "今天" {
		t.Fatalf("labels = %q, %q", groups[0].Label, groups[1].Label)
	}
}

func TestGroupByDayEmpty(t *testing.T) {
	if groups := GroupByDay(nil, time.Now(), nil); len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}
