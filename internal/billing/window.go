package billing

import "time"

// windowFor computes the [start,end) window for resetInterval containing now.
func windowFor(resetInterval string, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	switch resetInterval {
	case ResetWeekly:
		weekday := int(now.Weekday())
		// Monday-anchored: Sunday (0) rolls back 6 days instead of 0.
		offset := (weekday + 6) % 7
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case ResetMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default: // ResetDaily
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}
