// Package gateway exposes the mailops HTTP surface: the Postmark inbound
// webhook, health and metrics endpoints, and development-only tool endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/mailops/internal/observability"
	"github.com/haasonsaas/mailops/internal/orchestrator"
	"github.com/haasonsaas/mailops/internal/tools"
	"github.com/haasonsaas/mailops/pkg/models"
)

// maxInboundSize bounds webhook bodies.
const maxInboundSize = 10 << 20

// TurnHandler processes one inbound message.
type TurnHandler interface {
	Handle(ctx context.Context, msg models.InboundMessage) (*orchestrator.Result, error)
}

// ToolInvoker runs tools for the debug endpoints.
type ToolInvoker interface {
	Invoke(ctx context.Context, caller tools.CallerContext, call tools.Call) tools.Result
}

// Config configures the HTTP server.
type Config struct {
	Addr string

	// Username and Password are the basic auth credentials Postmark sends.
	Username string
	Password string

	// Development enables the /debug/tools endpoints.
	Development bool

	ReadHeaderTimeout time.Duration

	Turns   TurnHandler
	Tools   ToolInvoker
	Metrics *observability.Metrics

	// Gatherer backs /metrics. Defaults to the default Prometheus registry.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the mailops HTTP server.
type Server struct {
	config   Config
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer validates cfg and builds the routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Turns == nil {
		return nil, errors.New("gateway: turn handler is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("gateway: inbound credentials are required")
	}
	if cfg.Development && cfg.Tools == nil {
		return nil, errors.New("gateway: development mode requires tools")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{config: cfg, logger: cfg.Logger.With("component", "gateway")}

	mux := http.NewServeMux()
	mux.Handle("POST /api/inbound", s.basicAuth(http.HandlerFunc(s.handleInbound)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	if cfg.Development {
		mux.HandleFunc("GET /debug/tools", s.handleListTools)
		mux.HandleFunc("POST /debug/tools/{name}", s.handleInvokeTool)
	}
	s.handler = s.withRequestID(s.withMetrics(mux))
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String(), "development", s.config.Development)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
