package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vango-go/vai-realtime/pkg/credential"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	"github.com/vango-go/vai-realtime/pkg/gateway/handlers"
	"github.com/vango-go/vai-realtime/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-realtime/pkg/gateway/metrics"
	"github.com/vango-go/vai-realtime/pkg/gateway/mw"
	"github.com/vango-go/vai-realtime/pkg/gateway/ratelimit"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	broker     credential.Broker
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	lifecycle  *lifecycle.Lifecycle
}

// newUpstreamClient is shared by every exchange. Exchanges are one short
// POST each, so the idle pool stays small.
func newUpstreamClient(cfg config.Config) *http.Client {
	connectTimeout := cfg.UpstreamConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &http.Client{
		// Redirects are not followed: the upstream key must not be replayed
		// to another host.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

// New wires the broker: one Exchanger holding the upstream key, the
// per-principal limiter, readiness state and optional metrics.
func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := newUpstreamClient(cfg)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		httpClient: httpClient,
		broker: &credential.Exchanger{
			APIKey:      cfg.OpenAIAPIKey,
			UpstreamURL: cfg.UpstreamURL,
			Model:       cfg.Model,
			Voice:       cfg.Voice,
			HTTPClient:  httpClient,
			Timeout:     cfg.ExchangeTimeout,
			Logger:      logger,
		},
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
		lifecycle: &lifecycle.Lifecycle{},
	}
	if cfg.MetricsEnabled {
		s.metrics = metrics.New("")
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	s.mux.Handle("/session", s.metrics.Middleware("session", handlers.SessionHandler{
		Broker:    s.broker,
		Logger:    s.logger,
		Metrics:   s.metrics,
		Lifecycle: s.lifecycle,
	}))
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, s.metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing new exchanges.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) IsDraining() bool {
	return s.lifecycle.IsDraining()
}

// InFlight counts credential exchanges that have not yet responded.
func (s *Server) InFlight() int64 {
	return s.lifecycle.InFlight()
}
