package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicdesk/booking-service/internal/schedule"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const bookingColumns = `id, patient_id, appointment_date, appointment_time, status,
	queue_number, call_time, symptoms, admin_notes, cancel_reason, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b       Booking
		timeStr string
		status  string
	)

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.Date,
		&timeStr,
		&status,
		&b.QueueNumber,
		&b.CallTime,
		&b.Symptoms,
		&b.AdminNotes,
		&b.CancelReason,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	t, err := schedule.ParseTimeOfDay(timeStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt appointment_time: %w", err)
	}
	b.Time = t
	b.Status = Status(status)

	return &b, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// bumpRevision increments the date's logical revision inside the caller's
// transaction so availability caches see the mutation.
func bumpRevision(ctx context.Context, tx pgx.Tx, date time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO date_revisions (appointment_date, revision)
		VALUES ($1, 1)
		ON CONFLICT (appointment_date)
		DO UPDATE SET revision = date_revisions.revision + 1
	`, date)
	if err != nil {
		return fmt.Errorf("bump date revision: %w", err)
	}
	return nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) Create(ctx context.Context, b *Booking, capacity int) (*Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create booking: %w", err)
	}
	defer tx.Rollback(ctx)

	// Conditional insert: the capacity check and the insert are one
	// statement, so two concurrent creates cannot both take the last seat.
	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, appointment_date, appointment_time, status, symptoms, created_at, updated_at)
		SELECT $1, $2, $3, $4, 'pending', $5, now(), now()
		WHERE (
			SELECT count(*) FROM bookings
			WHERE appointment_date = $3
			  AND appointment_time = $4
			  AND status <> 'cancelled'
		) < $6
		RETURNING `+bookingColumns+`
	`, b.ID, b.PatientID, b.Date, b.Time.String(), b.Symptoms, capacity)

	created, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrSlotConflict
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	if err := bumpRevision(ctx, tx, b.Date); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create booking: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) ListByDate(ctx context.Context, date time.Time) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE appointment_date = $1
		ORDER BY appointment_time ASC, created_at ASC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBookings(rows)
}

func (r *PgRepository) ListDatesWithBookings(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT appointment_date
		FROM bookings
		WHERE appointment_date BETWEEN $1 AND $2
		  AND status <> 'cancelled'
		ORDER BY appointment_date ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, fields StatusFields) (*Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    call_time = COALESCE($3, call_time),
		    cancel_reason = COALESCE($4, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $5
		RETURNING `+bookingColumns+`
	`, id, string(to), fields.CallTime, fields.CancelReason, string(from))

	updated, err := scanBooking(row)
	if err != nil {
		return nil, err
	}

	if err := bumpRevision(ctx, tx, updated.Date); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	return updated, nil
}

func (r *PgRepository) UpdateSymptoms(ctx context.Context, id uuid.UUID, symptoms string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET symptoms = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+bookingColumns+`
	`, id, symptoms)

	updated, err := scanBooking(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrBookingNotFound) {
		return nil, err
	}

	// Distinguish a missing booking from one that moved past pending.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrSymptomsLocked
}

func (r *PgRepository) SetAdminNotes(ctx context.Context, id uuid.UUID, notes string) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET admin_notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+bookingColumns+`
	`, id, notes)
	return scanBooking(row)
}

func (r *PgRepository) SetQueueNumbers(ctx context.Context, date time.Time, assignments []Assignment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin queue numbering: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE bookings
		SET queue_number = NULL,
		    updated_at = now()
		WHERE appointment_date = $1
		  AND queue_number IS NOT NULL
	`, date)
	if err != nil {
		return fmt.Errorf("clear queue numbers: %w", err)
	}

	for _, a := range assignments {
		_, err = tx.Exec(ctx, `
			UPDATE bookings
			SET queue_number = $2,
			    updated_at = now()
			WHERE id = $1
		`, a.BookingID, a.QueueNumber)
		if err != nil {
			return fmt.Errorf("assign queue number %d: %w", a.QueueNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit queue numbering: %w", err)
	}
	return nil
}

func (r *PgRepository) Revision(ctx context.Context, date time.Time) (int64, error) {
	var rev int64
	err := r.db.QueryRow(ctx, `
		SELECT revision
		FROM date_revisions
		WHERE appointment_date = $1
	`, date).Scan(&rev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return rev, nil
}

func (r *PgRepository) CountByStatus(ctx context.Context, date time.Time) (map[Status]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM bookings
		WHERE appointment_date = $1
		GROUP BY status
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
