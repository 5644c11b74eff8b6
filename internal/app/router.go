package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/checkout"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/stockcount"
)

// RouterConfig aggregates the module handlers the HTTP surface mounts.
type RouterConfig struct {
	Logger     *slog.Logger
	Config     *Config
	Catalog    *catalog.Handler
	Ledger     *ledger.Handler
	Checkout   *checkout.Handler
	StockCount *stockcount.Handler
}

// NewRouter builds the chi router with the full middleware chain. All module
// routes live under /api and require caller identity headers.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: cfg.Logger, Config: cfg.Config}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(IdentityHeaders(cfg.Logger))
		if cfg.Catalog != nil {
			cfg.Catalog.MountRoutes(api)
		}
		if cfg.Ledger != nil {
			cfg.Ledger.MountRoutes(api)
		}
		if cfg.Checkout != nil {
			cfg.Checkout.MountRoutes(api)
		}
		if cfg.StockCount != nil {
			cfg.StockCount.MountRoutes(api)
		}
	})

	return r
}
