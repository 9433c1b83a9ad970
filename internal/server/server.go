package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/gosuda/relai/internal/api/ws"
	"github.com/gosuda/relai/internal/config"
	"github.com/gosuda/relai/internal/engine"
	"github.com/gosuda/relai/internal/server/middleware"
	"github.com/gosuda/relai/internal/store/postgres"
	"github.com/gosuda/relai/internal/tasks"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *postgres.Store
	wsHub      *ws.Hub
	cfg        *config.Config
}

// New creates a Server with all routes wired. The websocket endpoint shares
// the chat stack with the REST surface; no write to conversation state
// happens outside it.
func New(ctx context.Context, cfg *config.Config, store *postgres.Store, redis *goredis.Client, assistant *engine.Assistant, retriever engine.Retriever, enq tasks.Enqueuer) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	hub := ws.NewHub(cfg, store, redis, assistant, retriever, enq)

	s := &Server{
		router: router,
		store:  store,
		wsHub:  hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// REST routes on /api/v1 with per-IP rate limiting.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 10, 20))

		apiConfig := huma.DefaultConfig("Relai API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, store)
	})

	// WebSocket routes. The ws handler does its own admission checks, so no
	// HTTP middleware beyond the globals.
	router.Route("/ws", func(r chi.Router) {
		registerWSRoutes(r, hub)
	})

	// Health check.
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
