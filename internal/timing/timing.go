// Package timing derives the scheduler's notion of "today" from wall-clock
// time, the collection's creation time and a day rollover hour.
package timing

import "time"

// Today describes the current scheduling day.
type Today struct {
	// DaysElapsed is the number of day rollovers since the collection was created.
	DaysElapsed int64
	// NextDayAt is the moment of the next rollover.
	NextDayAt time.Time
	// Now is the instant the timing was computed for.
	Now time.Time
}

// Compute returns timing information for now. created and now are interpreted
// in their own locations, so a collection created in summer time keeps a
// stable day count after the clocks change. rolloverHour is the hour of the
// day the scheduling day starts (e.g. 4 for 4am); negative values count back
// from midnight, -1 meaning 23.
func Compute(created, now time.Time, rolloverHour int) Today {
	hour := NormalizeRolloverHour(rolloverHour)

	createdDate := dateOf(created)
	today := dateOf(now)

	rolloverToday := time.Date(today.Year(), today.Month(), today.Day(), hour, 0, 0, 0, now.Location())
	rolloverPassed := !rolloverToday.After(now)

	days := daysBetween(createdDate, today)
	if !rolloverPassed {
		days--
	}

	next := rolloverToday
	if rolloverPassed {
		next = rolloverToday.AddDate(0, 0, 1)
	}

	return Today{
		DaysElapsed: max(days, 0),
		NextDayAt:   next,
		Now:         now,
	}
}

// NormalizeRolloverHour caps the hour to [0, 23], mapping negative hours to
// the previous evening.
func NormalizeRolloverHour(hour int) int {
	capped := min(max(hour, -23), 23)
	if capped < 0 {
		return 24 + capped
	}
	return capped
}

// FixedZone builds a location from an offset in minutes west of UTC, the way
// collections persist their creation offset. The offset is capped to ±23 hours.
func FixedZone(minutesWest int) *time.Location {
	bounded := min(max(minutesWest, -23*60), 23*60)
	return time.FixedZone("", -bounded*60)
}

// MinutesWest returns the UTC offset of t in minutes west of UTC.
func MinutesWest(t time.Time) int {
	_, offset := t.Zone()
	return -offset / 60
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int64 {
	return int64(b.Sub(a).Hours() / 24)
}
