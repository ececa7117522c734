package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/escrowd/coordinator/internal/api/handlers"
	"github.com/escrowd/coordinator/internal/api/middleware"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter mounts every coordinator endpoint behind the request-logging,
// panic-recovery, CORS, API-key, and rate-limit middleware stack. /live and
// /health stay outside the API key check so a load balancer can probe
// without a key.
func NewRouter(deps *handlers.Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogging)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(deps.Cfg))

	r.Get("/live", handlers.Live())
	r.Get("/health", handlers.Health(deps))

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(deps.Cfg))
		r.Use(middleware.RateLimit(deps.Cfg))

		r.Get("/metrics", handlers.Metrics().ServeHTTP)

		r.Post("/orders", handlers.CreateOrder(deps))
		r.Get("/orders/{id}/status", handlers.Status(deps))
		r.Post("/orders/{id}/payout_quote", handlers.PayoutQuote(deps))

		r.Post("/psbt/build", handlers.BuildPayout(deps))
		r.Post("/psbt/build_refund", handlers.BuildRefund(deps))
		r.Post("/psbt/merge", handlers.Merge(deps))
		r.Post("/psbt/decode", handlers.Decode(deps))
		r.Post("/psbt/finalize", handlers.Finalize(deps))

		r.Post("/tx/broadcast", handlers.Broadcast(deps))
		r.Post("/tx/bumpfee", handlers.BumpFee(deps))
		r.Post("/tx/bumpfee/finalize", handlers.BumpFeeFinalize(deps))
	})

	slog.Info("router initialized", "version", Version)

	return r
}
