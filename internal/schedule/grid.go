package schedule

import "time"

// GridConfig generates the bookable slot grid for a date. Pure and
// deterministic: the same config and date always produce the same labels,
// so slot boundaries never drift between availability reads.
type GridConfig struct {
	Hours       OperatingHours
	SlotMinutes int
}

// Grid returns the ordered slot start times for a date, stepping through
// [open, close) by the slot duration. A date with no configured hours
// yields an empty grid.
func (g GridConfig) Grid(date time.Time) []TimeOfDay {
	w, ok := g.Hours.WindowFor(date)
	if !ok {
		return nil
	}

	step := g.SlotMinutes
	if step <= 0 {
		step = 30
	}

	var slots []TimeOfDay
	for t := w.Open; t < w.Close; t = t.Add(step) {
		slots = append(slots, t)
	}
	return slots
}

// Contains reports whether t is a valid slot start on the date's grid.
func (g GridConfig) Contains(date time.Time, t TimeOfDay) bool {
	for _, s := range g.Grid(date) {
		if s == t {
			return true
		}
	}
	return false
}
