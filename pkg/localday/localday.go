// Package localday converts instants to calendar days in a user's timezone.
//
// Day keys use the YYYY-MM-DD layout so they compare lexically.
package localday

import (
	"fmt"
	"time"
)

// Layout is the format of a day key.
const Layout = "2006-01-02"

// Key returns the calendar day that t falls on in loc. A nil loc means UTC.
func Key(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}

// Today is shorthand for Key(now, loc).
func Today(now time.Time, loc *time.Location) string {
	return Key(now, loc)
}

// Bounds returns the half-open range [start, end) covered by day in loc, as
// UTC instants. end is the next local midnight, so days with a DST shift are
// 23 or 25 hours long.
func Bounds(day string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(Layout, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("localday: parse %q: %w", day, err)
	}
	next := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
	return d.UTC(), next.UTC(), nil
}

// Range returns the UTC range from the start of fromDay to the end of toDay,
// both interpreted in loc. Either day may be empty to leave that side open,
// in which case the corresponding instant is the zero time.
func Range(fromDay, toDay string, loc *time.Location) (from, to time.Time, err error) {
	if fromDay != "" {
		if from, _, err = Bounds(fromDay, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toDay != "" {
		if _, to, err = Bounds(toDay, loc); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("localday: empty range %s..%s", fromDay, toDay)
	}
	return from, to, nil
}
