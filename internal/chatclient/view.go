package chatclient

import (
	"fmt"
	"time"
)

// DayGroup is a run of consecutive messages from the same calendar day,
// labeled for a date separator row.
type DayGroup struct {
	Label string
	Items []Item
}

// GroupByDay splits an ordered message list at local-midnight boundaries.
// Today and yesterday get relative labels; older days a full date.
func GroupByDay(items []Item, now time.Time, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	var currentDay time.Time
	for _, it := range items {
		day := startOfDay(time.UnixMilli(it.Timestamp).In(loc))
		if len(groups) == 0 || !day.Equal(currentDay) {
			groups = append(groups, DayGroup{Label: dayLabel(day, now.In(loc))})
			currentDay = day
		}
		groups[len(groups)-1].Items = append(groups[len(groups)-1].Items, it)
	}
	return groups
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayLabel(day, now time.Time) string {
	today := startOfDay(now)
	switch {
	case day.Equal(today):
		return "今天"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "昨天"
	default:
		return fmt.Sprintf("%d年%d月%d日", day.Year(), int(day.Month()), day.Day())
	}
}
