package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/notify"
	"github.com/clinicdesk/booking-service/internal/observability/metrics"
	redisclient "github.com/clinicdesk/booking-service/internal/redis"
	"github.com/clinicdesk/booking-service/internal/schedule"
)

const (
	EventBookingCreated = "BOOKING_CREATED"
	EventStatusChanged  = "STATUS_CHANGED"
	EventQueueCalled    = "QUEUE_CALLED"
)

// DefaultCancelReason is recorded when a cancellation arrives without one.
const DefaultCancelReason = "no reason given"

type ServiceConfig struct {
	Grid         schedule.GridConfig
	SlotCapacity int // bookings per slot, default 1
	// CallOffset is the estimated-call-time policy knob. Nil means
	// DefaultCallOffset; zero is a valid configured value.
	CallOffset *time.Duration
}

type Service struct {
	repo       Repository
	locker     redisclient.DateLocker
	cache      redisclient.AvailabilityCache
	dispatcher notify.Dispatcher
	metrics    *metrics.BookingMetrics
	clock      schedule.Clock
	grid       schedule.GridConfig
	seq        Sequencer
	capacity   int
	log        zerolog.Logger
}

type Option func(*Service)

func WithCache(c redisclient.AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(c schedule.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func NewService(repo Repository, locker redisclient.DateLocker, cfg ServiceConfig, log zerolog.Logger, opts ...Option) *Service {
	capacity := cfg.SlotCapacity
	if capacity <= 0 {
		capacity = 1
	}

	s := &Service{
		repo:     repo,
		locker:   locker,
		clock:    schedule.SystemClock(),
		grid:     cfg.Grid,
		seq:      Sequencer{CallOffset: cfg.CallOffset},
		capacity: capacity,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create reserves a slot for a patient. The capacity check and insert run
// as one atomic statement, and the whole operation holds the per-date lock
// so queue numbering sees a consistent snapshot.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, date time.Time, t schedule.TimeOfDay, symptoms string) (*Booking, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, &ValidationError{Field: "symptoms", Reason: "is required"}
	}

	date = schedule.Midnight(date)
	today := schedule.Midnight(s.clock.Now())
	if date.Before(today) {
		return nil, &ValidationError{Field: "date", Reason: "must not be in the past"}
	}

	grid := s.grid.Grid(date)
	if len(grid) == 0 {
		return nil, &ValidationError{Field: "date", Reason: "clinic has no operating hours on this date"}
	}
	if !s.grid.Contains(date, t) {
		return nil, &ValidationError{Field: "time", Reason: fmt.Sprintf("%s is not a bookable slot on this date", t)}
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Booking

	err := s.withDateLock(ctx, date, func(lockCtx context.Context) error {
		b := &Booking{
			ID:        uuid.New(),
			PatientID: patientID,
			Date:      date,
			Time:      t,
			Status:    StatusPending,
			Symptoms:  symptoms,
		}

		inserted, err := s.repo.Create(lockCtx, b, s.capacity)
		if err != nil {
			return err
		}
		created = inserted

		s.logEvent(lockCtx, inserted.ID, EventBookingCreated, map[string]any{
			"patient_id": patientID.String(),
			"date":       schedule.DateKey(date),
			"time":       t.String(),
		})

		return s.resequenceLocked(lockCtx, date)
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.metrics.ObserveConflict()
		}
		return nil, err
	}

	s.metrics.ObserveCreated()

	// Re-read so the caller sees the queue number assigned above.
	if fresh, err := s.repo.GetByID(ctx, created.ID); err == nil {
		created = fresh
	}
	return created, nil
}

// Confirm moves a pending booking to confirmed. Admin action.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Booking, error) {
	if actor.Role != ActorAdmin {
		return nil, ErrForbidden
	}
	return s.transition(ctx, actor, id, StatusConfirmed, StatusFields{})
}

// Cancel moves a pending or confirmed booking to cancelled. Patients may
// only cancel their own bookings; a reason is always recorded.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancelReason
	}
	return s.transition(ctx, actor, id, StatusCancelled, StatusFields{CancelReason: &reason})
}

// Call moves a confirmed booking to in-progress, stamps the call time, and
// raises exactly one queue_called notification. Admin action.
func (s *Service) Call(ctx context.Context, actor Actor, id uuid.UUID) (*Booking, error) {
	if actor.Role != ActorAdmin {
		return nil, ErrForbidden
	}

	now := s.clock.Now()
	updated, err := s.transition(ctx, actor, id, StatusInProgress, StatusFields{CallTime: &now})
	if err != nil {
		return nil, err
	}

	queueNumber := 0
	if updated.QueueNumber != nil {
		queueNumber = *updated.QueueNumber
	}

	ev := notify.Event{
		Type:      notify.TypeQueueCalled,
		UserID:    updated.PatientID,
		BookingID: updated.ID,
		Message:   fmt.Sprintf("Queue %d: it is your turn, please proceed to the consultation room", queueNumber),
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("booking_id", id.String()).Msg("queue_called dispatch failed")
		}
	}
	s.logEvent(ctx, updated.ID, EventQueueCalled, map[string]any{
		"queue_number": queueNumber,
	})
	s.metrics.ObserveQueueCalled()

	return updated, nil
}

// Complete moves an in-progress booking to completed. Admin action.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Booking, error) {
	if actor.Role != ActorAdmin {
		return nil, ErrForbidden
	}
	return s.transition(ctx, actor, id, StatusCompleted, StatusFields{})
}

// TransitionOptions carries the optional fields of a generic status update.
type TransitionOptions struct {
	CancelReason string
}

// Transition is the generic status-update entry point backing
// PUT /bookings/{id}/status. It routes to the specific action so call
// stamping and notifications stay in one place.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, to Status, opts TransitionOptions) (*Booking, error) {
	switch to {
	case StatusConfirmed:
		return s.Confirm(ctx, actor, id)
	case StatusCancelled:
		return s.Cancel(ctx, actor, id, opts.CancelReason)
	case StatusInProgress:
		return s.Call(ctx, actor, id)
	case StatusCompleted:
		return s.Complete(ctx, actor, id)
	default:
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
}

func (s *Service) transition(ctx context.Context, actor Actor, id uuid.UUID, to Status, fields StatusFields) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role == ActorPatient {
		if b.PatientID != actor.ID {
			return nil, ErrForbidden
		}
		if to != StatusCancelled {
			return nil, ErrForbidden
		}
	}

	if err := CheckTransition(b.Status, to); err != nil {
		return nil, err
	}

	var updated *Booking

	err = s.withDateLock(ctx, b.Date, func(lockCtx context.Context) error {
		u, err := s.repo.UpdateStatus(lockCtx, id, b.Status, to, fields)
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				// The status moved between our read and the CAS. Re-read so
				// the error names the actual current state.
				cur, getErr := s.repo.GetByID(lockCtx, id)
				if getErr != nil {
					return getErr
				}
				return &InvalidTransitionError{From: cur.Status, To: to}
			}
			return err
		}
		updated = u

		s.logEvent(lockCtx, u.ID, EventStatusChanged, map[string]any{
			"from":  string(b.Status),
			"to":    string(to),
			"actor": string(actor.Role),
		})

		return s.resequenceLocked(lockCtx, b.Date)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(b.Status), string(to))

	// Queue numbers may have shifted during resequencing.
	if fresh, err := s.repo.GetByID(ctx, updated.ID); err == nil {
		updated = fresh
	}
	return updated, nil
}

// UpdateSymptoms lets the patient revise symptoms while the booking is
// still pending. Once confirmed the field is locked. Symptoms belong to the
// patient; staff annotations go through SetAdminNotes.
func (s *Service) UpdateSymptoms(ctx context.Context, actor Actor, id uuid.UUID, symptoms string) (*Booking, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		return nil, &ValidationError{Field: "symptoms", Reason: "is required"}
	}

	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != ActorPatient || b.PatientID != actor.ID {
		return nil, ErrForbidden
	}

	return s.repo.UpdateSymptoms(ctx, id, symptoms)
}

// SetAdminNotes records staff notes on a booking. Admin action; patients
// see the notes but never write them.
func (s *Service) SetAdminNotes(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Booking, error) {
	if actor.Role != ActorAdmin {
		return nil, ErrForbidden
	}
	return s.repo.SetAdminNotes(ctx, id, notes)
}

// Availability computes the free slots for a date. Served from the redis
// cache when the cached ledger revision still matches.
func (s *Service) Availability(ctx context.Context, date time.Time) (Availability, error) {
	date = schedule.Midnight(date)

	grid := s.grid.Grid(date)
	if len(grid) == 0 {
		return Availability{Date: date, Reason: ReasonNoHours}, nil
	}

	rev, err := s.repo.Revision(ctx, date)
	if err != nil {
		return Availability{}, fmt.Errorf("read date revision: %w", err)
	}

	dateKey := schedule.DateKey(date)
	if s.cache != nil {
		if snap, ok, err := s.cache.Get(ctx, dateKey); err == nil && ok && snap.Revision == rev {
			return availabilityFromSnapshot(date, snap)
		}
	}

	bookings, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return Availability{}, fmt.Errorf("list bookings for availability: %w", err)
	}

	avail := Resolve(date, grid, bookings, s.capacity)

	if s.cache != nil {
		if err := s.cache.Set(ctx, dateKey, snapshotFromAvailability(avail, rev)); err != nil {
			s.log.Debug().Err(err).Str("date", dateKey).Msg("availability cache write failed")
		}
	}

	return avail, nil
}

// GetBooking returns one booking. Patients may only read their own.
func (s *Service) GetBooking(ctx context.Context, actor Actor, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == ActorPatient && b.PatientID != actor.ID {
		return nil, ErrForbidden
	}
	return b, nil
}

// ListByDate returns a date's bookings, any status, in queue order.
func (s *Service) ListByDate(ctx context.Context, date time.Time) ([]Booking, error) {
	return s.repo.ListByDate(ctx, schedule.Midnight(date))
}

// ListByPatient returns a patient's bookings, most recent first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Summary aggregates a date's bookings by status for dashboards.
func (s *Service) Summary(ctx context.Context, date time.Time) (DaySummary, error) {
	date = schedule.Midnight(date)
	counts, err := s.repo.CountByStatus(ctx, date)
	if err != nil {
		return DaySummary{}, fmt.Errorf("count bookings by status: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return DaySummary{Date: date, Total: total, ByStatus: counts}, nil
}

// ResequenceDate recomputes queue numbers for a date under the date lock.
// Also run periodically by the queue worker as a repair pass.
func (s *Service) ResequenceDate(ctx context.Context, date time.Time) error {
	date = schedule.Midnight(date)
	return s.withDateLock(ctx, date, func(lockCtx context.Context) error {
		return s.resequenceLocked(lockCtx, date)
	})
}

// EstimatedCallAt exposes the sequencing policy's call estimate for a
// booking, for presentation alongside the queue number.
func (s *Service) EstimatedCallAt(b Booking) time.Time {
	return s.seq.EstimatedCallAt(b)
}

// OperatingWindow reports the configured hours for a date.
func (s *Service) OperatingWindow(date time.Time) (schedule.Window, bool) {
	return s.grid.Hours.WindowFor(schedule.Midnight(date))
}

// withDateLock runs fn inside the per-date critical section, translating
// lock exhaustion into the retryable ErrBusy.
func (s *Service) withDateLock(ctx context.Context, date time.Time, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := s.locker.WithDateLock(ctx, schedule.DateKey(date), fn)
	s.metrics.ObserveLockHold(time.Since(start).Seconds())

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.ObserveBusy()
		return ErrBusy
	}
	return err
}

func (s *Service) resequenceLocked(ctx context.Context, date time.Time) error {
	bookings, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("list bookings for sequencing: %w", err)
	}

	assignments := s.seq.Sequence(bookings)
	if err := s.repo.SetQueueNumbers(ctx, date, assignments); err != nil {
		return fmt.Errorf("persist queue numbers: %w", err)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload failed")
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event", eventType).
			Str("booking_id", bookingID.String()).
			Msg("insert event log failed")
	}
}

func snapshotFromAvailability(a Availability, revision int64) redisclient.AvailabilitySnapshot {
	slots := make([]string, len(a.Slots))
	for i, s := range a.Slots {
		slots[i] = s.String()
	}
	return redisclient.AvailabilitySnapshot{
		Revision:  revision,
		Slots:     slots,
		Available: a.Available,
		Reason:    string(a.Reason),
	}
}

func availabilityFromSnapshot(date time.Time, snap redisclient.AvailabilitySnapshot) (Availability, error) {
	slots := make([]schedule.TimeOfDay, 0, len(snap.Slots))
	for _, label := range snap.Slots {
		t, err := schedule.ParseTimeOfDay(label)
		if err != nil {
			return Availability{}, fmt.Errorf("corrupt cached slot %q: %w", label, err)
		}
		slots = append(slots, t)
	}
	return Availability{
		Date:      date,
		Slots:     slots,
		Available: snap.Available,
		Reason:    Reason(snap.Reason),
	}, nil
}
