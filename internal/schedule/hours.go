package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Window is a single operating interval for one day. Slots cover
// [Open, Close) stepped by the slot duration.
type Window struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// ParseWindow parses "16:30-21:00".
func ParseWindow(s string) (Window, error) {
	open, close, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("window %q must be HH:MM-HH:MM", s)
	}
	o, err := ParseTimeOfDay(strings.TrimSpace(open))
	if err != nil {
		return Window{}, err
	}
	c, err := ParseTimeOfDay(strings.TrimSpace(close))
	if err != nil {
		return Window{}, err
	}
	if c <= o {
		return Window{}, fmt.Errorf("window %q closes before it opens", s)
	}
	return Window{Open: o, Close: c}, nil
}

// OperatingHours maps calendar dates to their operating window: a weekly
// pattern plus date-keyed overrides for closures and special days.
type OperatingHours struct {
	weekly    map[time.Weekday]Window
	overrides map[string]*Window // DateKey -> window, nil means closed
}

func NewOperatingHours(weekly map[time.Weekday]Window) OperatingHours {
	cp := make(map[time.Weekday]Window, len(weekly))
	for d, w := range weekly {
		cp[d] = w
	}
	return OperatingHours{weekly: cp, overrides: make(map[string]*Window)}
}

// DefaultHours is the clinic's published schedule: weekday evenings
// 16:30-21:00, weekends 09:00-21:00.
func DefaultHours() OperatingHours {
	weekday := Window{Open: 16*60 + 30, Close: 21 * 60}
	weekend := Window{Open: 9 * 60, Close: 21 * 60}
	return NewOperatingHours(map[time.Weekday]Window{
		time.Monday:    weekday,
		time.Tuesday:   weekday,
		time.Wednesday: weekday,
		time.Thursday:  weekday,
		time.Friday:    weekday,
		time.Saturday:  weekend,
		time.Sunday:    weekend,
	})
}

// Close marks a specific date as closed regardless of the weekly pattern.
func (h OperatingHours) Close(date time.Time) {
	h.overrides[DateKey(date)] = nil
}

// Override replaces the window for a specific date.
func (h OperatingHours) Override(date time.Time, w Window) {
	cp := w
	h.overrides[DateKey(date)] = &cp
}

// WindowFor resolves the operating window for a date. ok is false when the
// date has no configured hours.
func (h OperatingHours) WindowFor(date time.Time) (Window, bool) {
	if w, found := h.overrides[DateKey(date)]; found {
		if w == nil {
			return Window{}, false
		}
		return *w, true
	}
	w, ok := h.weekly[date.Weekday()]
	return w, ok
}
