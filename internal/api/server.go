// Package api is the HTTP surface: live media, scene state, rule CRUD, alert
// replay, and health.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"physicalmcp/internal/auth"
	"physicalmcp/internal/config"
	"physicalmcp/internal/engine"
	"physicalmcp/internal/storage"
	"physicalmcp/internal/ws"
)

// Server wires the chi router over the engine.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	auth    *auth.Authenticator
	hub     *ws.Hub
	store   *storage.Store
	reg     *prometheus.Registry
	log     zerolog.Logger
	httpSrv *http.Server
	version string
}

func NewServer(cfg *config.Config, eng *engine.Engine, authn *auth.Authenticator,
	hub *ws.Hub, store *storage.Store, reg *prometheus.Registry,
	version string, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		auth:    authn,
		hub:     hub,
		store:   store,
		reg:     reg,
		log:     logger.With().Str("component", "api").Logger(),
		version: version,
	}
	addr := cfg.VisionAPI.Host + ":" + strconv.Itoa(cfg.VisionAPI.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))
	r.Use(rateLimit(rate.NewLimiter(rate.Limit(100), 200)))

	r.Get("/health", s.handleHealth)
	r.Get("/scene", s.handleScene)
	r.Get("/changes", s.handleChanges)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/stats", s.handleStats)
	r.Get("/templates", s.handleTemplates)
	r.Get("/rules", s.handleListRules)
	r.Get("/cameras", s.handleListCameras)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.Handle("/ws", ws.NewHandler(s.hub))

	r.Group(func(r chi.Router) {
		r.Use(s.requireMediaAuth)
		r.Get("/frame", s.handleFrame)
		r.Get("/stream", s.handleStream)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/rules", s.handleCreateRule)
		r.Delete("/rules/{id}", s.handleDeleteRule)
		r.Put("/rules/{id}/toggle", s.handleToggleRule)
		r.Post("/templates/{id}/create", s.handleCreateFromTemplate)

		r.Post("/cameras", s.handleAddCamera)
		r.Delete("/cameras/{id}", s.handleRemoveCamera)
		r.Get("/cameras/discover", s.handleDiscoverCameras)
		r.Post("/cameras/open", s.handleOpenCamera)
		r.Post("/cameras/{id}/open", s.handleOpenCamera)

		r.Post("/provider", s.handleConfigureProvider)
		r.Get("/evaluations/pending", s.handlePendingEvaluations)
		r.Post("/evaluations/report", s.handleReportEvaluation)

		r.Post("/stream/token", s.handleStreamToken)

		r.Get("/memory/{namespace}", s.handleMemoryList)
		r.Get("/memory/{namespace}/{key}", s.handleMemoryGet)
		r.Put("/memory/{namespace}/{key}", s.handleMemorySet)
		r.Delete("/memory/{namespace}/{key}", s.handleMemoryDelete)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}
