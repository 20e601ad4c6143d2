package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clarityhq/clarity/engine/search"
	"github.com/clarityhq/clarity/engine/store"
	"github.com/clarityhq/clarity/engine/task"
	"github.com/clarityhq/clarity/pkg/metrics"
	"github.com/clarityhq/clarity/pkg/mid"
)

// maxBodyBytes caps request bodies; raw provider answers are the largest.
const maxBodyBytes = 4 << 20

// taskPoller checks one remote task by handle. *task.Coordinator
// satisfies it.
type taskPoller interface {
	Poll(ctx context.Context, handle string) (task.PollResult, error)
}

// api holds the handler dependencies.
type api struct {
	searches *search.Manager
	tasks    taskPoller
	store    *store.Store
	norm     search.Normalizer
	logger   *slog.Logger
	now      func() time.Time
}

func (a *api) routes(corsOrigin, serviceName string, reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.StripSlashes)
	r.Use(
		mid.RequestID(),
		mid.Recover(a.logger),
		mid.Logger(a.logger),
		mid.CORS(corsOrigin),
		mid.Metrics(reg),
	)

	r.Get("/", handleRoot)
	r.Get("/health", handleHealth)
	if reg != nil {
		r.Method(http.MethodGet, "/metrics", reg.Handler())
	}

	r.Post("/search", a.handleInitiate)
	r.Get("/search/{id}", a.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/brands", a.handleListBrands)
		r.Route("/brands/{brand}", func(r chi.Router) {
			r.Get("/data", a.handleBrandData)
			r.Get("/latest", a.handleBrandLatest)
			r.Get("/stats", a.handleBrandStats)
			r.Post("/scrape", a.handleBrandScrape)
			r.Post("/scrape/status", a.handleScrapeStatus)
			r.Post("/save", a.handleBrandSave)
		})
		r.Post("/scrape/process", a.handleProcess)
	})

	return mid.Chain(r, mid.OTel(serviceName))
}
