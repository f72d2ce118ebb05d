package transport

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/eod"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/internal/timeclock"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	SOP      *sop.Controller
	EOD      *eod.Controller
	Pipeline *pipeline.Machine
	Clock    *timeclock.Gate
	Metrics  *observability.Metrics
	Ready    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// API middleware chain.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Logger))
	r.Use(RequestID)

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method("GET", deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// API routes.
	r.Route("/api", func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		mx := domainMetrics{m: deps.Metrics}

		r.Route("/job-cards", func(r chi.Router) {
			r.Post("/", handleJobCardRegister(deps.Pipeline, deps.SOP))
			r.Get("/", handleJobCardList(deps.Pipeline))
			r.Get("/{jobCardId}", handleJobCardGet(deps.Pipeline))
			r.Post("/{jobCardId}/stage", handleJobCardStage(deps.Pipeline, mx))
			r.Post("/{jobCardId}/priority", handleJobCardPriority(deps.Pipeline))

			r.Get("/{jobCardId}/sop", handleSOPGet(deps.SOP, deps.Pipeline))
			r.Post("/{jobCardId}/sop/steps/{stepId}/complete", handleSOPComplete(deps.SOP, mx))
			r.Post("/{jobCardId}/sop/steps/{stepId}/uncheck", handleSOPUncheck(deps.SOP, mx))
			r.Post("/{jobCardId}/sop/steps/{stepId}/photos", handleSOPPhoto(deps.SOP, mx))
		})

		r.Route("/eod", func(r chi.Router) {
			r.Get("/{businessDate}", handleEODGet(deps.EOD))
			r.Post("/{businessDate}/steps/{stepId}", handleEODStep(deps.EOD, mx))
			r.Post("/{businessDate}/finalize", handleEODFinalize(deps.EOD, mx))
		})

		r.Post("/time-clock/clock-out", handleClockOut(deps.Clock, mx))
	})

	return r
}
