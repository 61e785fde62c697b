package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/booking"
	"github.com/hackgods/venue-reservations/internal/clock"
	redisclient "github.com/hackgods/venue-reservations/internal/redis"
	"github.com/hackgods/venue-reservations/internal/retention"
)

type RouterConfig struct {
	Service *booking.Service
	Sweeper *retention.Sweeper
	Locker  redisclient.JobLocker
	Clock   clock.Clock
	Health  *HealthHandler
	Logger  *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = clock.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger.Named("http")))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	svc := cfg.Service

	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", createReservationHandler(svc))
		r.Get("/{id}", getReservationHandler(svc))
		r.Get("/{id}/credential", getCredentialHandler(svc))
		r.Post("/{id}/confirm", confirmReservationHandler(svc))
		r.Post("/{id}/cancel", transitionHandler(svc.CancelReservation))
		r.Post("/{id}/check-in", transitionHandler(svc.CheckIn))
		r.Post("/{id}/complete", transitionHandler(svc.Complete))
		r.Post("/{id}/no-show", transitionHandler(svc.MarkNoShow))
	})

	r.Post("/scan", scanHandler(svc, cfg.Clock))
	r.Post("/scan/validate", validateScanHandler(svc, cfg.Clock))

	r.Route("/slots", func(r chi.Router) {
		r.Post("/generate", generateSlotsHandler(svc))
		r.Get("/{id}", getSlotHandler(svc))
		r.Get("/{id}/reservations", listSlotReservationsHandler(svc))
		r.Post("/{id}/close", slotStatusHandler(svc.CloseSlot))
		r.Post("/{id}/reopen", slotStatusHandler(svc.ReopenSlot))
	})

	if cfg.Sweeper != nil {
		r.Post("/admin/sweep", sweepHandler(cfg.Sweeper, cfg.Locker, cfg.Clock))
	}

	return r
}
