package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markdave123-py/policyqa/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/policyqa/internal/api/middlewares"
	"github.com/markdave123-py/policyqa/internal/config"
	"github.com/markdave123-py/policyqa/internal/core/ingestion_engine"
	"github.com/markdave123-py/policyqa/internal/logger"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	ing ingestion_engine.Ingestor,
	engine handlers.QAEngine,
	publisher handlers.Publisher,
	gatherer prometheus.Gatherer,
	log logger.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           newRouter(cfg, ing, engine, publisher, gatherer, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func newRouter(
	cfg *config.Config,
	ing ingestion_engine.Ingestor,
	engine handlers.QAEngine,
	publisher handlers.Publisher,
	gatherer prometheus.Gatherer,
	log logger.Logger,
) http.Handler {
	docHandler := handlers.NewDocumentHandler(ing, publisher, cfg.DocID)
	chatHandler := handlers.NewChatHandler(engine)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", docHandler.Health)

		api.Post("/ask", chatHandler.Ask)
		api.Post("/debug_search", chatHandler.DebugSearch)
		api.Get("/metrics", chatHandler.Metrics)

		api.Post("/conversation/new", chatHandler.NewConversation)
		api.Get("/conversation/{session_id}", chatHandler.GetConversation)
		api.Delete("/conversation/{session_id}", chatHandler.ClearConversation)

		// admin endpoints
		api.Group(func(admin chi.Router) {
			admin.Use(appMiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Post("/refresh", docHandler.Refresh)
			admin.Post("/documents", docHandler.UploadDocument)
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
