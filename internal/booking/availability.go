package booking

import (
	"time"

	"github.com/clinicdesk/booking-service/internal/schedule"
)

// Reason explains an empty availability result. Absence of free slots is
// not an error; it is a state with a cause.
type Reason string

const (
	ReasonNoHours     Reason = "NO_HOURS_CONFIGURED"
	ReasonFullyBooked Reason = "FULLY_BOOKED"
)

type Availability struct {
	Date      time.Time
	Slots     []schedule.TimeOfDay
	Available bool
	Reason    Reason
}

// Resolve subtracts occupied slots from the full grid. A slot is occupied
// once its non-cancelled booking count reaches capacity; cancelled bookings
// release their slot.
func Resolve(date time.Time, grid []schedule.TimeOfDay, bookings []Booking, capacity int) Availability {
	if capacity <= 0 {
		capacity = 1
	}
	if len(grid) == 0 {
		return Availability{Date: date, Reason: ReasonNoHours}
	}

	occupied := make(map[schedule.TimeOfDay]int, len(bookings))
	for _, b := range bookings {
		if b.Occupying() {
			occupied[b.Time]++
		}
	}

	free := make([]schedule.TimeOfDay, 0, len(grid))
	for _, slot := range grid {
		if occupied[slot] < capacity {
			free = append(free, slot)
		}
	}

	if len(free) == 0 {
		return Availability{Date: date, Reason: ReasonFullyBooked}
	}
	return Availability{Date: date, Slots: free, Available: true}
}
