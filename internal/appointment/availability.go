package appointment

import "time"

// Overlaps reports whether the half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Schedule is the availability picture of one doctor: the weekly rules plus any
// absolute blocked ranges relevant to the interval being checked.
//
// A doctor with no rules at all is treated as always covered. Rules are opt-in:
// a freshly onboarded doctor can take bookings before configuring hours, and
// unavailability ranges still apply.
type Schedule struct {
	Rules    []DoctorAvailability
	Blocks   []DoctorUnavailability
	Location *time.Location
}

// IsCovered is true when a weekly rule fully contains [start, end) and no block overlaps it.
func (s Schedule) IsCovered(start, end time.Time) bool {
	return s.Covers(start, end) && !s.Blocked(start, end)
}

// Covers checks the weekly rules only. Intervals that cross local midnight are never covered.
func (s Schedule) Covers(start, end time.Time) bool {
	if !start.Before(end) {
		return false
	}
	if len(s.Rules) == 0 {
		return true
	}

	loc := s.location()
	ls := start.In(loc)
	if end.After(TimeOfDay(24 * 60).On(ls, loc)) {
		return false
	}

	for _, r := range s.Rules {
		if r.DayOfWeek != ls.Weekday() {
			continue
		}
		if !start.Before(r.StartTime.On(ls, loc)) && !end.After(r.EndTime.On(ls, loc)) {
			return true
		}
	}
	return false
}

// Blocked reports whether any unavailability range overlaps [start, end).
func (s Schedule) Blocked(start, end time.Time) bool {
	for _, b := range s.Blocks {
		if Overlaps(start, end, b.StartTime, b.EndTime) {
			return true
		}
	}
	return false
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// ruleOverlaps reports whether two weekly rules share a day and intersect.
func ruleOverlaps(a, b DoctorAvailability) bool {
	return a.DayOfWeek == b.DayOfWeek && a.StartTime < b.EndTime && b.StartTime < a.EndTime
}
