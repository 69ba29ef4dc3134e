package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/goodsflow/internal/catalog"
	"github.com/odyssey-erp/goodsflow/internal/contracts"
	"github.com/odyssey-erp/goodsflow/internal/inbound"
	"github.com/odyssey-erp/goodsflow/internal/ledger"
	"github.com/odyssey-erp/goodsflow/internal/observability"
	"github.com/odyssey-erp/goodsflow/internal/outbound"
	"github.com/odyssey-erp/goodsflow/internal/platform/httpx"
	"github.com/odyssey-erp/goodsflow/internal/transfer"
	"github.com/odyssey-erp/goodsflow/internal/warehouses"
	"github.com/odyssey-erp/goodsflow/jobs"
)

// Pinger reports dependency health for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	WarehousesHandler *warehouses.Handler
	CatalogHandler    *catalog.Handler
	LedgerHandler     *ledger.Handler
	ContractsHandler  *contracts.Handler
	InboundHandler    *inbound.Handler
	OutboundHandler   *outbound.Handler
	TransferHandler   *transfer.Handler
	JobHandler        *jobs.Handler

	Readiness map[string]Pinger
}

// NewRouter constructs the chi.Router with goods-flow defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:  params.Logger,
			Config:  params.Config,
			Metrics: params.Metrics,
		}) {
			r.Use(mw)
		}

		r.Route("/api", func(r chi.Router) {
			if params.WarehousesHandler != nil {
				r.Route("/warehouses", params.WarehousesHandler.MountRoutes)
			}
			if params.CatalogHandler != nil {
				r.Route("/variants", params.CatalogHandler.MountRoutes)
			}
			if params.LedgerHandler != nil {
				r.Route("/stock", params.LedgerHandler.MountRoutes)
			}
			if params.ContractsHandler != nil {
				r.Route("/contracts", params.ContractsHandler.MountRoutes)
			}
			if params.InboundHandler != nil {
				r.Route("/inbound", params.InboundHandler.MountRoutes)
			}
			if params.OutboundHandler != nil {
				r.Route("/outbound", params.OutboundHandler.MountRoutes)
			}
			if params.TransferHandler != nil {
				r.Route("/transfers", params.TransferHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}

func readiness(logger *slog.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(deps))
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				logger.Warn("readiness check", slog.String("dependency", name), slog.Any("error", err))
				out[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "up"
		}
		httpx.JSON(w, status, out)
	}
}
