package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/booking"
	"github.com/clinicdesk/booking-service/internal/notify"
)

type RouterConfig struct {
	Service  *booking.Service
	Hub      *notify.Hub
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Log      zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(MetricsMiddleware(reg))
	r.Use(IdentityMiddleware)

	// Health and metrics
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Public schedule surface
	r.Get("/availability/{date}", availabilityHandler(cfg.Service))
	r.Get("/schedule/hours/{date}", hoursHandler(cfg.Service))

	// Patient surface
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)

		r.Post("/bookings", createBookingHandler(cfg.Service))
		r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service))
		r.Patch("/bookings/{id}/symptoms", updateSymptomsHandler(cfg.Service))
		r.Get("/patients/{id}/bookings", listByPatientHandler(cfg.Service))

		if cfg.Hub != nil {
			r.Get("/ws/queue", queueSubscribeHandler(cfg.Hub))
		}
	})

	// Admin surface
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin)

		r.Get("/bookings", listByDateHandler(cfg.Service))
		r.Get("/bookings/summary", summaryHandler(cfg.Service))
		r.Put("/bookings/{id}/status", updateStatusHandler(cfg.Service))
		r.Post("/bookings/{id}/confirm", confirmBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/call", callBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/complete", completeBookingHandler(cfg.Service))
		r.Put("/bookings/{id}/notes", adminNotesHandler(cfg.Service))
	})

	return r
}

func queueSubscribeHandler(hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFromContext(r.Context())
		hub.Subscribe(w, r, actor.ID)
	}
}
