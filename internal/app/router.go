package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freshgate-erp/freshgate-erp/internal/discard"
	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
	"github.com/freshgate-erp/freshgate-erp/internal/purchasebill"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/regrading"
	"github.com/freshgate-erp/freshgate-erp/internal/settlement"
)

// RouterDeps carries the handlers the router mounts.
type RouterDeps struct {
	Logger *slog.Logger
	Config *Config

	QC          *qc.Handler
	Bills       *purchasebill.Handler
	Settlements *settlement.Handler
	Regrading   *regrading.Handler
	Discards    *discard.Handler
	Ledger      *ledger.Handler
}

// NewRouter builds the HTTP routing tree.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: deps.Logger, Config: deps.Config}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/qc", func(r chi.Router) { deps.QC.MountRoutes(r) })
		r.Route("/bills", func(r chi.Router) { deps.Bills.MountRoutes(r) })
		r.Route("/settlements", func(r chi.Router) { deps.Settlements.MountRoutes(r) })
		r.Route("/regrading-jobs", func(r chi.Router) { deps.Regrading.MountRoutes(r) })
		r.Route("/discards", func(r chi.Router) { deps.Discards.MountRoutes(r) })
		r.Route("/ledger", func(r chi.Router) { deps.Ledger.MountRoutes(r) })
	})

	return r
}
