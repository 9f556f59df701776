package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/schedule"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActorRole identifies who is performing a mutation. Authentication happens
// upstream; the core only enforces what each role may do.
type ActorRole string

const (
	ActorPatient ActorRole = "patient"
	ActorAdmin   ActorRole = "admin"
)

type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Booking is one appointment request. Bookings are never deleted:
// cancellation is a terminal status, preserving audit history.
type Booking struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Date         time.Time // calendar date, midnight
	Time         schedule.TimeOfDay
	Status       Status
	QueueNumber  *int // dense 1..k per date over non-cancelled bookings
	CallTime     *time.Time
	Symptoms     string
	AdminNotes   string
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Occupying reports whether the booking holds its slot. Only cancellation
// releases a slot back to the grid.
func (b Booking) Occupying() bool {
	return b.Status != StatusCancelled
}

// EventLog is an append-only audit record of ledger mutations.
type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// DaySummary aggregates a date's bookings for dashboards. Counts come from
// the ledger, never fabricated client-side.
type DaySummary struct {
	Date     time.Time
	Total    int
	ByStatus map[Status]int
}
