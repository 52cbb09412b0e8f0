package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/uav-deconflict/internal/analysis"
	"github.com/yegors/uav-deconflict/internal/config"
	"github.com/yegors/uav-deconflict/internal/metrics"
	"github.com/yegors/uav-deconflict/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(service *analysis.Service, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(service, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.Metrics)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		router.With(r.middleware.BodyLimit(r.config.Server.MaxBodyBytes)).Post("/check", r.handler.Check)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	// Prometheus metrics
	router.Handle("/metrics", metrics.Handler())

	return router
}
