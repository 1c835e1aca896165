// Package clock resolves the facility's current service day. Queues and
// PINs issued between midnight and the rollover pivot (05:00 by default)
// belong to the previous service day, so a plain calendar date is not
// usable as the day key.
package clock

import (
	"fmt"
	"time"
)

// ServiceDay is a date key in facility local time, formatted YYYY-MM-DD.
type ServiceDay string

const dayFormat = "2006-01-02"

// Clock abstracts time.Now so tests can pin the current instant.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return realClock{} }

// Fixed returns a Clock that always reports t.
func Fixed(t time.Time) Clock { return fixedClock{t} }

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

// Calendar maps wall-clock instants onto service days.
type Calendar struct {
	loc         *time.Location
	pivotHour   int
	pivotMinute int
	clock       Clock
}

// NewCalendar builds a Calendar for the given IANA time zone and a rollover
// pivot in "HH:MM" form.
func NewCalendar(tz, pivot string, clk Clock) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load facility time zone %q: %w", tz, err)
	}
	var h, m int
	if _, err := fmt.Sscanf(pivot, "%d:%d", &h, &m); err != nil {
		return nil, fmt.Errorf("parse rollover pivot %q: %w", pivot, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return nil, fmt.Errorf("rollover pivot %q out of range", pivot)
	}
	if clk == nil {
		clk = System()
	}
	return &Calendar{loc: loc, pivotHour: h, pivotMinute: m, clock: clk}, nil
}

// Today returns the current service day.
func (c *Calendar) Today() ServiceDay {
	return c.DayOf(c.clock.Now())
}

// DayOf returns the service day the instant t falls into.
func (c *Calendar) DayOf(t time.Time) ServiceDay {
	local := t.In(c.loc)
	pivot := time.Date(local.Year(), local.Month(), local.Day(), c.pivotHour, c.pivotMinute, 0, 0, c.loc)
	if local.Before(pivot) {
		local = local.AddDate(0, 0, -1)
	}
	return ServiceDay(local.Format(dayFormat))
}

// NextRollover returns the next pivot instant strictly after t. Day-scoped
// records expire at this boundary.
func (c *Calendar) NextRollover(t time.Time) time.Time {
	local := t.In(c.loc)
	pivot := time.Date(local.Year(), local.Month(), local.Day(), c.pivotHour, c.pivotMinute, 0, 0, c.loc)
	if !local.Before(pivot) {
		pivot = pivot.AddDate(0, 0, 1)
	}
	return pivot
}

// TTLUntilRollover returns how long a record created at t should live so it
// survives until the rollover after next. Keeping one extra day preserves
// the previous day's audit trail across the boundary.
func (c *Calendar) TTLUntilRollover(t time.Time) time.Duration {
	return c.NextRollover(t).AddDate(0, 0, 1).Sub(t)
}

// Now exposes the underlying clock.
func (c *Calendar) Now() time.Time { return c.clock.Now() }
