// Sentinel - Tourist Safety Realtime Event Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/sentinel/internal/logging"
)

// RouterConfig carries the HTTP surface settings the router needs.
type RouterConfig struct {
	CORSOrigins       []string
	IngestRatePerMin  int
	RequestRatePerMin int
}

// NewRouter assembles the HTTP routes. ws handles WebSocket upgrades and
// may be nil when the realtime surface is disabled.
func NewRouter(cfg RouterConfig, h *Handlers, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	if ws != nil {
		r.Handle("/ws", ws)
	}

	// Ingest: high-frequency device traffic gets its own rate budget.
	r.Route("/api/tourists", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.IngestRatePerMin, time.Minute))
		r.Post("/location", h.IngestLocation)
	})

	r.Route("/api/alerts", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestRatePerMin, time.Minute))
		r.Get("/", h.ListAlerts)
		r.Post("/sos", h.CreateSOS)
		r.Patch("/{id}", h.UpdateAlert)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestRatePerMin, time.Minute))
		r.Post("/send", h.SendChat)
		r.Get("/{id}", h.ChatHistory)
	})

	r.Route("/api/zones", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestRatePerMin, time.Minute))
		r.Get("/", h.ListZones)
		r.Get("/nearby", h.NearestZone)
		r.Post("/check", h.CheckZones)
	})

	r.Route("/api/queue", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RequestRatePerMin, time.Minute))
		r.Get("/stats", h.QueueStatsHandler)
		r.Get("/dead-letters", h.ListDeadLetters)
		r.Delete("/dead-letters/{id}", h.RemoveDeadLetter)
	})

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}
