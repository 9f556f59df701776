package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/booking-service/internal/db"
	"github.com/clinicdesk/booking-service/internal/schedule"
)

var visitReasons = []string{
	"General checkup",
	"Doctor consultation",
	"Medical certificate",
	"Family planning",
	"Diabetes and blood pressure check",
	"Annual health screening",
	"Wound care and suturing",
	"Ultrasound",
	"Injection",
	"Nebulizer treatment",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	patients, err := seedPatients(context.Background(), pool, 500)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedBookings(context.Background(), pool, patients, 7); err != nil {
		log.Fatalf("seed bookings: %v", err)
	}

	log.Println("seed complete")
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		phone := gofakeit.Numerify("08########")

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, phone, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, phone)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedBookings fills roughly half of each upcoming day's slot grid with
// pending and confirmed bookings, leaving the rest open for demos.
func seedBookings(ctx context.Context, pool *pgxpool.Pool, patients []uuid.UUID, days int) error {
	grid := schedule.GridConfig{Hours: schedule.DefaultHours(), SlotMinutes: 30}
	today := schedule.Midnight(time.Now())

	total := 0
	for d := 0; d < days; d++ {
		date := today.AddDate(0, 0, d)
		slots := grid.Grid(date)
		if len(slots) == 0 {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		queue := 1
		for _, slot := range slots {
			if gofakeit.Bool() {
				continue
			}

			patient := patients[gofakeit.Number(0, len(patients)-1)]
			status := "pending"
			if gofakeit.Bool() {
				status = "confirmed"
			}
			symptoms := visitReasons[gofakeit.Number(0, len(visitReasons)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO bookings (id, patient_id, appointment_date, appointment_time, status, queue_number, symptoms, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			`, uuid.New(), patient, date, slot.String(), status, queue, symptoms)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			queue++
			total++
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO date_revisions (appointment_date, revision)
			VALUES ($1, 1)
			ON CONFLICT (appointment_date)
			DO UPDATE SET revision = date_revisions.revision + 1
		`, date)
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("bookings seeded for %s: %d so far", schedule.DateKey(date), total)
	}

	fmt.Printf("seeded %d bookings across %d days\n", total, days)
	return nil
}
