package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusFields are the extra columns a status transition may set.
type StatusFields struct {
	CallTime     *time.Time
	CancelReason *string
}

// Repository is the booking ledger: the single source of truth for
// occupancy. Every mutation bumps the per-date revision counter that
// availability caching keys off.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Create inserts a pending booking if and only if the (date, time)
	// slot is below capacity. The check and insert are a single atomic
	// statement, so concurrent creates cannot both win the last seat.
	Create(ctx context.Context, b *Booking, capacity int) (*Booking, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// ListByDate returns a date's bookings in any status, ordered by
	// appointment time then creation order.
	ListByDate(ctx context.Context, date time.Time) ([]Booking, error)

	// ListByPatient returns a patient's bookings, most recent date first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error)

	// ListDatesWithBookings returns the distinct dates in [from, to] that
	// have at least one non-cancelled booking.
	ListDatesWithBookings(ctx context.Context, from, to time.Time) ([]time.Time, error)

	// UpdateStatus is a compare-and-set on status: it only applies when the
	// row is still in the expected from status, returning ErrBookingNotFound
	// when the booking is missing or has moved on.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, fields StatusFields) (*Booking, error)

	// UpdateSymptoms applies only while the booking is still pending.
	UpdateSymptoms(ctx context.Context, id uuid.UUID, symptoms string) (*Booking, error)

	SetAdminNotes(ctx context.Context, id uuid.UUID, notes string) (*Booking, error)

	// SetQueueNumbers replaces a date's queue numbering in one transaction.
	SetQueueNumbers(ctx context.Context, date time.Time, assignments []Assignment) error

	// Revision returns the date's logical revision counter (0 if the date
	// was never touched).
	Revision(ctx context.Context, date time.Time) (int64, error)

	CountByStatus(ctx context.Context, date time.Time) (map[Status]int, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
