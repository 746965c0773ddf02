// Package rest exposes the live view over HTTP
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest/handlers"
	"github.com/Steake/GodelOS-sub005/interfaces/http/rest/middleware"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Router creates and configures the HTTP router
type Router struct {
	view         handlers.View
	cfg          config.HTTP
	metrics      *observability.Collector
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewRouter creates a router over the engine view
func NewRouter(
	view handlers.View,
	cfg config.HTTP,
	metrics *observability.Collector,
	logger *zap.Logger,
	errorHandler *pkgerrors.ErrorHandler,
) *Router {
	return &Router{
		view:         view,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger.Named("http"),
		errorHandler: errorHandler,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestIDHeader)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	origins := rt.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	viewHandler := handlers.NewViewHandler(rt.view, rt.logger, rt.errorHandler)
	nodeHandler := handlers.NewNodeHandler(rt.view, rt.logger, rt.errorHandler)
	importHandler := handlers.NewImportHandler(rt.view, rt.logger, rt.errorHandler)

	router.Get("/health", viewHandler.Health)
	router.Handle("/metrics", rt.metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", viewHandler.GetStatus)
		r.Get("/scene", viewHandler.GetScene)
		r.Get("/scene.svg", viewHandler.GetSceneSVG)
		r.Get("/snapshot", viewHandler.GetSnapshot)
		r.Post("/pointer", viewHandler.Pointer)
		r.Post("/viewport", viewHandler.SetViewport)
		r.Put("/layout", viewHandler.SetLayout)
		r.Put("/filter", nodeHandler.SetFilter)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", nodeHandler.ListNodes)
			r.Get("/{id}", nodeHandler.GetNode)
			r.Delete("/{id}", nodeHandler.DeleteNode)
			r.Post("/{id}/select", nodeHandler.SelectNode)
			r.Post("/{id}/pin", nodeHandler.PinNode)
			r.Delete("/{id}/pin", nodeHandler.UnpinNode)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Get("/", importHandler.ListImports)
			r.Post("/", importHandler.SubmitImport)
			r.Delete("/{id}", importHandler.CancelImport)
		})
	})

	return router
}
