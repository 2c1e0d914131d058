package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/medical-appointment-scheduling/internal/config"
)

// BookingRules evaluates the temporal rules of a booking in the clinic time zone.
type BookingRules struct {
	config.Rules
	Location *time.Location
}

func NewBookingRules(r config.Rules, loc *time.Location) BookingRules {
	if loc == nil {
		loc = time.UTC
	}
	return BookingRules{Rules: r, Location: loc}
}

// CheckBusinessHours requires the whole interval to sit inside the opening window of a single day.
func (r BookingRules) CheckBusinessHours(start, end time.Time) error {
	open, closing := r.OpeningHours(start)
	if start.Before(open) || end.After(closing) {
		return fmt.Errorf("%w (%02d:%02d-%02d:%02d)", ErrOutsideBusinessHours,
			r.BusinessHoursStart/60, r.BusinessHoursStart%60, r.BusinessHoursEnd/60, r.BusinessHoursEnd%60)
	}
	return nil
}

// OpeningHours returns the opening and closing instants on t's local calendar date.
func (r BookingRules) OpeningHours(t time.Time) (time.Time, time.Time) {
	return TimeOfDay(r.BusinessHoursStart).On(t, r.Location), TimeOfDay(r.BusinessHoursEnd).On(t, r.Location)
}

func (r BookingRules) CheckLeadTime(start, now time.Time) error {
	if start.Before(now.Add(r.MinLeadTime)) {
		return fmt.Errorf("%w: at least %s notice required", ErrLeadTimeTooShort, r.MinLeadTime)
	}
	if start.After(now.AddDate(0, r.MaxLeadMonths, 0)) {
		return fmt.Errorf("%w: at most %d months ahead", ErrLeadTimeTooLong, r.MaxLeadMonths)
	}
	return nil
}

// DayBounds returns local midnight of t's calendar date and the following midnight.
func (r BookingRules) DayBounds(t time.Time) (time.Time, time.Time) {
	lt := t.In(r.Location)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, r.Location)
	return start, start.AddDate(0, 0, 1)
}
