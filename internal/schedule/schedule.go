// Package schedule resolves recurring street-sweeping schedules
// (Nth weekday of the month) to absolute instants.
package schedule

import (
	"time"

	"sweepwatch/internal/model"
)

// NextOccurrence returns the next time the schedule becomes active strictly
// after now, or false if the schedule has no resolvable occurrence.
//
// Candidates are the Nth occurrences of the schedule's weekday, at
// FromHour:00 local time, for every set week bit, in the month containing now
// and the month after it. The next month is always searched because a 5th
// occurrence may not exist in the current month and the nearest date may roll
// over. Week numbers with no Nth occurrence in a given month are skipped, not
// an error. The result is a single instant; callers recompute once it passes.
func NextOccurrence(sched model.Schedule, now time.Time) (time.Time, bool) {
	if !sched.HasActiveWeek() {
		return time.Time{}, false
	}

	var best time.Time
	found := false
	for monthOff := 0; monthOff < 2; monthOff++ {
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, monthOff, 0)
		for wk := 0; wk < 5; wk++ {
			if !sched.Weeks[wk] {
				continue
			}
			day, ok := nthWeekdayOfMonth(month, sched.Weekday, wk+1)
			if !ok {
				continue
			}
			cand := time.Date(day.Year(), day.Month(), day.Day(), sched.FromHour, 0, 0, 0, now.Location())
			// Current-month candidates must still be ahead of now;
			// next-month candidates qualify unconditionally.
			if monthOff == 0 && !cand.After(now) {
				continue
			}
			if !found || cand.Before(best) {
				best = cand
				found = true
			}
		}
	}
	return best, found
}

// nthWeekdayOfMonth returns the date of the nth (1-based) occurrence of wd in
// the month containing monthStart, or false if the month has no nth occurrence
// (e.g. no 5th Tuesday).
func nthWeekdayOfMonth(monthStart time.Time, wd time.Weekday, n int) (time.Time, bool) {
	first := time.Date(monthStart.Year(), monthStart.Month(), 1, 0, 0, 0, 0, monthStart.Location())
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	day := 1 + offset + (n-1)*7
	if day > daysInMonth(first) {
		return time.Time{}, false
	}
	return first.AddDate(0, 0, day-1), true
}

func daysInMonth(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}
