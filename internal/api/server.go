package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/playsem-core/internal/activity"
	"github.com/nerrad567/playsem-core/internal/device"
	"github.com/nerrad567/playsem-core/internal/engine"
	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
	"github.com/nerrad567/playsem-core/internal/infrastructure/logging"
	"github.com/nerrad567/playsem-core/internal/infrastructure/metrics"
	"github.com/nerrad567/playsem-core/internal/timeline"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthCheck is a named dependency probe reported by /api/v1/health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   *engine.Engine

	// Metrics is optional. When set, requests are instrumented and the
	// registry is exposed at MetricsPath.
	Metrics     *metrics.Metrics
	MetricsPath string

	// OnIngest, if set, is called after every HTTP and WebSocket ingest
	// attempt with err nil on success.
	OnIngest func(protocol string, err error)

	// History is optional. Without it device history requests get 503.
	History device.StateHistoryRepository

	Checks  []HealthCheck
	Version string
}

// Server is the HTTP API server for PlaySEM Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	engine      *engine.Engine
	registry    *device.Registry
	activity    *activity.Log
	metrics     *metrics.Metrics
	metricsPath string
	onIngest    func(protocol string, err error)
	history     device.StateHistoryRepository
	checks      []HealthCheck
	version     string
	startTime   time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc
}

// New creates a new API server and connects the WebSocket hub to the
// engine's activity log, timeline transitions and device state changes.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		engine:      deps.Engine,
		registry:    deps.Engine.Registry(),
		activity:    deps.Engine.Activity(),
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		onIngest:    deps.OnIngest,
		history:     deps.History,
		checks:      deps.Checks,
		version:     deps.Version,
		startTime:   time.Now(),
		tickets:     newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.controller = s.engine
	s.hub.ingester = s.engine
	s.hub.onIngest = s.observeIngest
	s.wireFeeds()

	return s, nil
}

// wireFeeds relays engine events to WebSocket subscribers.
func (s *Server) wireFeeds() {
	s.activity.AddSink(activity.SinkFunc(func(rec activity.Record) {
		s.hub.Broadcast(ChannelActivity, rec)
	}))
	s.engine.OnTransition(func(t timeline.Transition) {
		s.hub.Broadcast(ChannelTimeline, t)
	})
	s.registry.OnStateChange(func(c device.StateChange) {
		s.hub.Broadcast(ChannelDevices, c)
	})
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) observeIngest(protocol string, err error) {
	if s.metrics != nil {
		s.metrics.Ingested(protocol, err)
	}
	if s.onIngest != nil {
		s.onIngest(protocol, err)
	}
}
