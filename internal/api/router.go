// ConfluenceSyncService - Smartsheet/Confluence Mirroring and Task Acknowledgment Workflow
// Copyright 2026 Chip E. (chip-edw)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chip-edw/ConfluenceSyncService-sub000

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chip-edw/ConfluenceSyncService-sub000/internal/middleware"
)

// RouterConfig holds routing-level settings.
type RouterConfig struct {
	// RateLimitReqs per RateLimitWindow per client IP on the public
	// acknowledgment endpoint.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter assembles the HTTP routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Public acknowledgment endpoint. The path is fixed by the links already
	// minted into notification threads.
	r.Route("/maintenance/actions", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(middleware.PrometheusMetrics)
		r.Get("/mark-complete", h.MarkComplete)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
