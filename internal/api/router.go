// Package api exposes the distribution engine and channel registry over a
// JSON HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"syndicate/internal/channel"
	"syndicate/internal/distribution"
	logx "syndicate/pkg/logx"
)

const maxBody = 1 << 20

type handlers struct {
	dist     *distribution.Service
	channels *channel.Registry
	log      logx.Logger
}

// NewRouter returns the /v1 API routes. Authentication is applied by Server.
func NewRouter(dist *distribution.Service, channels *channel.Registry, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{dist: dist, channels: channels, log: log.With(logx.String("comp", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLog)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/distributions", func(r chi.Router) {
			r.Post("/", h.distribute)
			r.Get("/", h.listRecords)
			r.Post("/bulk", h.bulk)
			r.Post("/process-scheduled", h.processScheduled)
			r.Post("/cleanup", h.cleanup)
			r.Get("/{id}", h.getRecord)
			r.Post("/{id}/retry", h.retry)
			r.Post("/{id}/cancel", h.cancel)
		})
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.listChannels)
			r.Post("/", h.createChannel)
			r.Get("/{id}", h.getChannel)
			r.Put("/{id}", h.updateChannel)
			r.Delete("/{id}", h.deleteChannel)
			r.Post("/{id}/validate", h.validateChannel)
		})
		r.Get("/stats", h.stats)
		r.Get("/health", h.health)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)
		r.Post("/hooks/content-published", h.contentPublished)
	})
	return r
}

func (h *handlers) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}
