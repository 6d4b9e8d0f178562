// Package api serves the engine over HTTP: a JSON control surface, the
// health and metrics endpoints, and a WebSocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/engine"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/ledger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/pricing"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/strategy"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/triggers"
)

// Controller is the part of the engine the API drives
type Controller interface {
	Status() engine.Status
	AddAsset(ctx context.Context, spec engine.AssetSpec) error
	RemoveAsset(address string) error
	PriceHistory(asset string, since time.Time) ([]pricing.PricePoint, error)
	CreateStrategy(ctx context.Context, cfg strategy.Config) (strategy.Status, error)
	StartStrategy(id string) error
	StopStrategy(id string) error
	CloseStrategy(ctx context.Context, id string) error
	StrategyStatus(id string) (strategy.Status, bool)
	StrategyPositions(id string) ([]strategy.Position, bool)
	CreateTrigger(ctx context.Context, t triggers.Trigger) (triggers.Trigger, error)
	RemoveTrigger(id string) error
	Triggers() []triggers.Trigger
	Ledgers() map[string]ledger.AssetLedger
	SaveSnapshot(ctx context.Context) error
}

// Config configures the listener
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Option customizes a Server
type Option func(*Server)

// WithHealth mounts h at /health
func WithHealth(h http.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics mounts h at /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHub mounts the event stream at /ws
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the HTTP/WebSocket API server
type Server struct {
	cfg        Config
	controller Controller
	logger     *logger.Logger
	router     *mux.Router
	httpServer *http.Server
	health     http.Handler
	metrics    http.Handler
	hub        *Hub
}

// NewServer creates the server and its routes
func NewServer(cfg Config, controller Controller, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:        cfg,
		controller: controller,
		logger:     logger.NewNop(),
		router:     mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.health != nil {
		s.router.Handle("/health", s.health).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	if s.hub != nil {
		s.router.Handle("/ws", s.hub)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/ledgers", s.handleLedgers).Methods(http.MethodGet)
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodPost)

	v1.HandleFunc("/assets", s.handleListAssets).Methods(http.MethodGet)
	v1.HandleFunc("/assets", s.handleAddAsset).Methods(http.MethodPost)
	v1.HandleFunc("/assets/{address}", s.handleRemoveAsset).Methods(http.MethodDelete)
	v1.HandleFunc("/assets/{address}/history", s.handleHistory).Methods(http.MethodGet)

	v1.HandleFunc("/strategies", s.handleListStrategies).Methods(http.MethodGet)
	v1.HandleFunc("/strategies", s.handleCreateStrategy).Methods(http.MethodPost)
	v1.HandleFunc("/strategies/{id}", s.handleGetStrategy).Methods(http.MethodGet)
	v1.HandleFunc("/strategies/{id}/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/strategies/{id}/start", s.handleStartStrategy).Methods(http.MethodPost)
	v1.HandleFunc("/strategies/{id}/stop", s.handleStopStrategy).Methods(http.MethodPost)
	v1.HandleFunc("/strategies/{id}/close", s.handleCloseStrategy).Methods(http.MethodPost)

	v1.HandleFunc("/triggers", s.handleListTriggers).Methods(http.MethodGet)
	v1.HandleFunc("/triggers", s.handleCreateTrigger).Methods(http.MethodPost)
	v1.HandleFunc("/triggers/{id}", s.handleRemoveTrigger).Methods(http.MethodDelete)
}

// Handler returns the routes wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(s.router)
}

// Start listens until Stop is called. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("API listening on %s", s.cfg.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Stop disconnects stream clients and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
