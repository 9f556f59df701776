package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/api"
	"github.com/clinicdesk/booking-service/internal/booking"
	"github.com/clinicdesk/booking-service/internal/config"
	"github.com/clinicdesk/booking-service/internal/db"
	"github.com/clinicdesk/booking-service/internal/notify"
	"github.com/clinicdesk/booking-service/internal/observability/metrics"
	redisclient "github.com/clinicdesk/booking-service/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := notify.NewHub(log)
	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDateLocker(rdb, cfg.LockTTL, cfg.LockWait)
	cache := redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)

	svc := booking.NewService(repo, locker, booking.ServiceConfig{
		Grid:         grid,
		SlotCapacity: cfg.SlotCapacity,
		CallOffset:   &cfg.CallOffset,
	}, log,
		booking.WithCache(cache),
		booking.WithDispatcher(hub),
		booking.WithMetrics(metrics.NewBookingMetrics(registry)),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Hub:      hub,
		PgPool:   pgPool,
		Redis:    rdb,
		Registry: registry,
		Log:      log,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("http server error")
	case <-rootCtx.Done():
	}

	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "api-server").
		Logger()

	if cfg.Env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
