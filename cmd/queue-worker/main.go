package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/booking"
	"github.com/clinicdesk/booking-service/internal/config"
	"github.com/clinicdesk/booking-service/internal/db"
	"github.com/clinicdesk/booking-service/internal/notify"
	redisclient "github.com/clinicdesk/booking-service/internal/redis"
	"github.com/clinicdesk/booking-service/internal/schedule"
)

// The queue worker is a repair pass: queue numbers are resequenced
// synchronously after every mutation, but a crash between the ledger write
// and the resequence could leave a date with stale numbering. This loop
// walks the upcoming dates and restores dense numbering.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "queue-worker").
		Logger()

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("lookahead_days", cfg.WorkerLookahead).
		Msg("queue-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	grid, err := cfg.GridConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid operating hours config")
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDateLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := booking.NewService(repo, locker, booking.ServiceConfig{
		Grid:         grid,
		SlotCapacity: cfg.SlotCapacity,
		CallOffset:   &cfg.CallOffset,
	}, log,
		booking.WithDispatcher(notify.LogDispatcher{Log: log}),
	)

	// Run once at startup
	runOnce(rootCtx, svc, repo, cfg.WorkerLookahead, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping queue worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, repo, cfg.WorkerLookahead, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, repo booking.Repository, lookaheadDays int, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	today := schedule.Midnight(time.Now())
	until := today.AddDate(0, 0, lookaheadDays)

	dates, err := repo.ListDatesWithBookings(runCtx, today, until)
	if err != nil {
		log.Error().Err(err).Msg("list dates for resequencing failed")
		return
	}

	resequenced := 0
	for _, date := range dates {
		if err := svc.ResequenceDate(runCtx, date); err != nil {
			log.Warn().Err(err).Str("date", schedule.DateKey(date)).Msg("resequence failed")
			continue
		}
		resequenced++
	}

	log.Info().
		Int("dates", resequenced).
		Dur("took", time.Since(start)).
		Msg("resequencing run complete")
}
