// Package httpapi serves the browser-facing JSON API of walletd.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/internal/session"
	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// maxBodySize is the maximum allowed request body size (64 KB).
const maxBodySize = 64 << 10

// Config configures the API server.
type Config struct {
	Addr            string
	Network         btc.Network
	AllowedIPs      []string // IPs or CIDRs; empty allows all.
	CORSOrigins     []string // Empty = no CORS headers.
	OverviewTimeout time.Duration
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the walletd HTTP API.
type Server struct {
	cfg      Config
	sessions *session.Manager
	server   *http.Server
	ln       net.Listener
	router   chi.Router
}

// New creates a server for the given session manager.
func New(cfg Config, sessions *session.Manager) *Server {
	if cfg.OverviewTimeout <= 0 {
		cfg.OverviewTimeout = 5 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, sessions: sessions}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(ipFilter(parseAllowedIPs(s.cfg.AllowedIPs)))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(metrics.HTTPMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Get("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/logout", s.handleLogout)
			r.Get("/address", s.handleAddress)
			r.Get("/balance", s.handleBalance)
			r.Get("/wallet", s.handleWallet)
			r.Post("/send", s.handleSend)
		})
	})
	return r
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			klog.HTTP.Error().Err(err).Msg("HTTP server error")
		}
	}()
	klog.HTTP.Info().Str("addr", ln.Addr().String()).Str("network", string(s.cfg.Network)).Msg("HTTP API listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the router for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
