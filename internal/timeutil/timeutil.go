package timeutil

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Window is a resolved [start, end) reporting interval in a fixed location.
type Window struct {
	start time.Time
	end   time.Time
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// NewWindow resolves a rolling period (e.g., "7d", "24h") ending at now.
func NewWindow(period string, now time.Time, loc *time.Location) (Window, error) {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	dur, err := durationFromPeriod(period)
	if err != nil {
		return Window{}, err
	}
	return Window{start: now.Add(-dur), end: now}, nil
}

// NewWindowFromRange constructs a window covering the provided [start, end) bounds.
func NewWindowFromRange(start, end time.Time, loc *time.Location) (Window, error) {
	loc = EnsureLocation(loc)
	start = start.In(loc)
	end = end.In(loc)
	if !end.After(start) {
		return Window{}, ErrInvalidPeriod
	}
	return Window{start: start, end: end}, nil
}

// Bounds returns the window's start and end timestamps.
func (w Window) Bounds() (time.Time, time.Time) { return w.start, w.end }

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// NextDay returns midnight of the following calendar day in the day's zone.
// DST transitions are handled by normalizing through time.Date.
func NextDay(day time.Time) time.Time {
	loc := day.Location()
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
}

// DaysInRange returns the midnight timestamps for every calendar day that
// overlaps [start, end), in ascending order.
func DaysInRange(start, end time.Time, loc *time.Location) []time.Time {
	loc = EnsureLocation(loc)
	if !end.After(start) {
		return nil
	}
	var days []time.Time
	for day := TruncateToDay(start, loc); day.Before(end); day = NextDay(day) {
		days = append(days, day)
	}
	return days
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return TruncateToDay(a, loc).Equal(TruncateToDay(b, loc))
}

func durationFromPeriod(period string) (time.Duration, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	if len(p) < 2 {
		return 0, ErrInvalidPeriod
	}
	unit := p[len(p)-1]
	value, err := strconv.Atoi(p[:len(p)-1])
	if err != nil || value <= 0 {
		return 0, ErrInvalidPeriod
	}
	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(value) * time.Hour, nil
	default:
		return 0, ErrInvalidPeriod
	}
}
