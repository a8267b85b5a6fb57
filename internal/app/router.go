package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dropship-ops/opsconsole/internal/accounting"
	"github.com/dropship-ops/opsconsole/internal/catalog"
	"github.com/dropship-ops/opsconsole/internal/inventory"
	"github.com/dropship-ops/opsconsole/internal/masterdata/products"
	"github.com/dropship-ops/opsconsole/internal/observability"
	"github.com/dropship-ops/opsconsole/internal/platform/httpx"
	"github.com/dropship-ops/opsconsole/internal/sales/commission"
	"github.com/dropship-ops/opsconsole/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Services *Services
	Queue    jobs.QueueInspector
	Metrics  *observability.Metrics
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok", "store": params.Config.StoreDriver})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	svc := params.Services
	accounting.NewHandler(params.Logger, svc.Ledger).MountRoutes(r)
	inventory.NewHandler(params.Logger, svc.Inventory).MountRoutes(r)
	products.NewHandler(params.Logger, svc.Products).MountRoutes(r)
	catalog.NewHandler(params.Logger, svc.Catalog).MountRoutes(r)
	commission.NewHandler(params.Logger, svc.Commissions).MountRoutes(r)
	jobs.NewHandler(params.Queue, params.Logger).MountRoutes(r)

	return r
}
