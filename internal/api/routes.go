package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/granitex/quotebridge/internal/artifact"
	"github.com/granitex/quotebridge/internal/config"
	"github.com/granitex/quotebridge/internal/dispatch"
	"github.com/granitex/quotebridge/internal/events"
	"github.com/granitex/quotebridge/internal/presence"
	"github.com/granitex/quotebridge/internal/quote"
)

func NewRouter(cfg *config.Config, store quote.Store, d *dispatch.Dispatcher, artifacts *artifact.Store, registry *presence.Registry, hub *events.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := NewHandlers(cfg, store, d, artifacts, registry)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Quotes API (back office)
	r.Post("/api/quotes", h.CreateQuote)
	r.Get("/api/quotes", h.ListQuotes)
	r.Get("/api/quotes/{id}", h.GetQuote)
	r.Post("/api/quotes/{id}/dispatch", h.DispatchQuote)
	r.Post("/api/quotes/{id}/retry", h.RetryQuote)
	r.Post("/api/quotes/{id}/source", h.UploadSource)
	r.Get("/api/quotes/{id}/artifacts", h.ListArtifacts)
	r.Get("/api/quotes/{id}/artifacts/{name}", h.DownloadArtifact)

	// Jobs API (bridge)
	r.Get("/api/jobs/next", h.NextJob)
	r.Post("/api/jobs/{id}/ack", h.AckJob)
	r.Post("/api/jobs/{id}/result", h.UploadResult)
	r.Post("/api/jobs/{id}/fail", h.FailJob)
	r.Get("/api/jobs/{id}/source", h.DownloadSource)

	// Bridges API
	r.Get("/api/bridges", h.ListBridges)

	// WebSocket event feed
	if hub != nil {
		r.Get("/ws/events", hub.Handle)
	}

	return r
}
