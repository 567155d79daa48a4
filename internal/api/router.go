package api

import (
	"log/slog"
	"net/http"

	"affordability-pipeline/internal/api/handler"
	"affordability-pipeline/pkg/router"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "affordability-pipeline/docs"
)

// RegisterRoutes mounts the pipeline API on r. metrics may be nil.
func RegisterRoutes(r *router.Router, h *handler.Handler, metrics http.Handler) {
	r.GET("/health", h.Health)

	r.POST("/api/v1/runs", h.CreateRun)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/quarantine", h.GetRunQuarantine)
	r.GET("/api/v1/runs/*", h.GetRun)

	r.GET("/api/v1/checkpoints/*/*", h.GetCheckpoint)
	r.GET("/api/v1/checkpoints/*", h.ListCheckpoints)

	r.POST("/api/v1/evaluate", h.Evaluate)

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Handle("/swagger/**", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

// NewRouter builds a router with every API route registered.
func NewRouter(h *handler.Handler, metrics http.Handler, logger *slog.Logger) *router.Router {
	r := router.New(logger)
	RegisterRoutes(r, h, metrics)
	return r
}
