package booking

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultCallOffset is the gap between a slot's start and the estimated
// call time when no override is configured.
const DefaultCallOffset = 10 * time.Minute

// Assignment is one sequenced booking: its dense queue position and the
// derived estimate of when the patient will be called.
type Assignment struct {
	BookingID       uuid.UUID
	QueueNumber     int
	EstimatedCallAt time.Time
}

// Sequencer assigns queue numbers to a day's bookings. It is pure: the same
// input set always yields the same assignments, so re-running it after a
// mutation is safe.
type Sequencer struct {
	// CallOffset is added to the slot time to estimate the call time.
	// Nil means DefaultCallOffset; an explicit zero is honored.
	CallOffset *time.Duration
}

func (s Sequencer) offset() time.Duration {
	if s.CallOffset != nil {
		return *s.CallOffset
	}
	return DefaultCallOffset
}

// Sequence ranks the non-cancelled bookings of a single date by appointment
// time, ties broken by creation order, and numbers them 1..k with no gaps.
func (s Sequencer) Sequence(bookings []Booking) []Assignment {
	active := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Occupying() {
			active = append(active, b)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Time != active[j].Time {
			return active[i].Time < active[j].Time
		}
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		// Total order even for identical creation timestamps.
		return active[i].ID.String() < active[j].ID.String()
	})

	assignments := make([]Assignment, len(active))
	for i, b := range active {
		assignments[i] = Assignment{
			BookingID:       b.ID,
			QueueNumber:     i + 1,
			EstimatedCallAt: s.EstimatedCallAt(b),
		}
	}
	return assignments
}

// EstimatedCallAt derives the call estimate for a single booking. The
// estimate is policy, not state: it is computed on read, never persisted.
func (s Sequencer) EstimatedCallAt(b Booking) time.Time {
	return b.Time.At(b.Date).Add(s.offset())
}
