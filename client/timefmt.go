package main

import (
	"fmt"
	"math"
	"time"
)

// formatRelative renders a message timestamp relative to now, in now's zone.
func formatRelative(now, t time.Time) string {
	t = t.In(now.Location())

	elapsed := now.Sub(t)
	if elapsed < time.Minute {
		return "Just now"
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%d min ago", int(elapsed/time.Minute))
	}

	switch days := calendarDays(now, t); {
	case days == 0:
		return t.Format("3:04 PM")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return t.Format("Mon")
	}
	return t.Format("Jan 2")
}

// calendarDays counts the midnights between t and now.
func calendarDays(now, t time.Time) int {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := t.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(math.Round(a.Sub(b).Hours() / 24))
}
