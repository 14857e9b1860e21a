// Package clock is the single source of truth for "now" and for the
// conversion between UTC-in-storage and the display time zone.
package clock

import "time"

// Clock is injected into every component that reads time, so tests can
// pin it.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time
	// NowDisplay returns the current instant in the display zone.
	NowDisplay() time.Time
	// ToDisplay converts any instant into the display zone.
	ToDisplay(t time.Time) time.Time
	// ToUTC converts any instant to UTC.
	ToUTC(t time.Time) time.Time
	// FromStored interprets a naive stored timestamp as UTC.
	FromStored(t time.Time) time.Time
}

// System is the wall clock with a configured display location.
type System struct {
	loc *time.Location
}

func NewSystem(displayTZ string) (*System, error) {
	loc, err := time.LoadLocation(displayTZ)
	if err != nil {
		return nil, err
	}
	return &System{loc: loc}, nil
}

func (c *System) Now() time.Time        { return time.Now().UTC() }
func (c *System) NowDisplay() time.Time { return time.Now().In(c.loc) }

func (c *System) ToDisplay(t time.Time) time.Time { return t.In(c.loc) }
func (c *System) ToUTC(t time.Time) time.Time     { return t.UTC() }

func (c *System) FromStored(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Fixed is a frozen clock for tests.
type Fixed struct {
	Current time.Time
	Loc     *time.Location
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{Current: t.UTC(), Loc: time.UTC}
}

func (c *Fixed) Now() time.Time        { return c.Current }
func (c *Fixed) NowDisplay() time.Time { return c.Current.In(c.loc()) }

func (c *Fixed) ToDisplay(t time.Time) time.Time { return t.In(c.loc()) }
func (c *Fixed) ToUTC(t time.Time) time.Time     { return t.UTC() }

func (c *Fixed) FromStored(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Advance moves the frozen clock forward.
func (c *Fixed) Advance(d time.Duration) { c.Current = c.Current.Add(d) }

func (c *Fixed) loc() *time.Location {
	if c.Loc != nil {
		return c.Loc
	}
	return time.UTC
}

// SameDisplayDay reports whether two instants fall on the same
// calendar day in the given clock's display zone.
func SameDisplayDay(c Clock, a, b time.Time) bool {
	da, db := c.ToDisplay(a), c.ToDisplay(b)
	return da.Year() == db.Year() && da.YearDay() == db.YearDay()
}
