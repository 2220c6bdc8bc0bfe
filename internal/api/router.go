package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Scheduler Scheduler
	Inbox     Inbox
	Postgres  Pinger
	Redis     Pinger
	Logger    *zap.Logger
	Env       string
	Version   string
	// Now defaults to time.Now; it only drives can_be_cancelled in responses.
	Now func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", proposeAppointmentHandler(cfg.Scheduler, now))
			r.Get("/", listAppointmentsHandler(cfg.Scheduler, now))
			r.Get("/{id}", getAppointmentHandler(cfg.Scheduler, now))
			r.Patch("/{id}", updateAppointmentHandler(cfg.Scheduler, now))
			r.Delete("/{id}", cancelAppointmentHandler(cfg.Scheduler, now))
			r.Patch("/{id}/status", changeStatusHandler(cfg.Scheduler, now))
			r.Get("/{id}/history", statusHistoryHandler(cfg.Scheduler))
		})

		r.Get("/availability", availabilityHandler(cfg.Scheduler))

		r.Route("/doctors/{id}", func(r chi.Router) {
			r.Get("/weekly-slots", weeklySlotsHandler(cfg.Scheduler))
			r.Put("/weekly-slots", replaceWeeklySlotsHandler(cfg.Scheduler))
			r.Get("/unavailability", listUnavailabilityHandler(cfg.Scheduler))
			r.Post("/unavailability", addUnavailabilityHandler(cfg.Scheduler))
			r.Delete("/unavailability/{periodID}", deleteUnavailabilityHandler(cfg.Scheduler))
		})

		if cfg.Inbox != nil {
			r.Get("/notifications", notificationsHandler(cfg.Inbox))
			r.Patch("/notifications/{id}/status", markNotificationHandler(cfg.Inbox))
		}
	})

	return r
}
