package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	DefaultAddr        = ":5000"
	DefaultCORSOrigin  = "http://localhost:5173"
	DefaultUpstreamURL = "https://api.openai.com/v1/realtime/client_secrets"
	DefaultModel       = "gpt-realtime"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the broker is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	// Upstream credential exchange. OpenAIAPIKey never leaves this process.
	OpenAIAPIKey    string
	UpstreamURL     string
	Model           string
	Voice           string
	ExchangeTimeout time.Duration

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	MetricsEnabled bool

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("REALTIME_BROKER_ADDR", DefaultAddr),
		AuthMode:                      AuthMode(envOr("REALTIME_BROKER_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                       make(map[string]struct{}),
		TrustProxyHeaders:             envBoolOr("REALTIME_BROKER_TRUST_PROXY_HEADERS", false),
		OpenAIAPIKey:                  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		UpstreamURL:                   envOr("REALTIME_BROKER_UPSTREAM_URL", DefaultUpstreamURL),
		Model:                         envOr("REALTIME_BROKER_MODEL", DefaultModel),
		Voice:                         envOr("REALTIME_BROKER_VOICE", ""),
		ExchangeTimeout:               envDurationOr("REALTIME_BROKER_EXCHANGE_TIMEOUT", 10*time.Second),
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("REALTIME_BROKER_RATE_LIMIT_RPS", 1.0),
		LimitBurst:                    envIntOr("REALTIME_BROKER_RATE_LIMIT_BURST", 5),
		LimitMaxConcurrentRequests:    envIntOr("REALTIME_BROKER_MAX_CONCURRENT_REQUESTS", 4),
		MetricsEnabled:                envBoolOr("REALTIME_BROKER_METRICS", true),
		ReadHeaderTimeout:             envDurationOr("REALTIME_BROKER_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("REALTIME_BROKER_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:                envDurationOr("REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("REALTIME_BROKER_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		UpstreamConnectTimeout:        envDurationOr("REALTIME_BROKER_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("REALTIME_BROKER_RESPONSE_HEADER_TIMEOUT", 10*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("REALTIME_BROKER_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("REALTIME_BROKER_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	origins, set := os.LookupEnv("REALTIME_BROKER_CORS_ORIGINS")
	if !set {
		origins = DefaultCORSOrigin
	}
	for _, origin := range splitCSV(origins) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if u, err := url.Parse(cfg.UpstreamURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Config{}, fmt.Errorf("REALTIME_BROKER_UPSTREAM_URL must be an absolute http(s) URL")
	}
	if cfg.ExchangeTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_EXCHANGE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout < cfg.ExchangeTimeout {
		return Config{}, fmt.Errorf("REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT must be >= REALTIME_BROKER_EXCHANGE_TIMEOUT")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("REALTIME_BROKER_API_KEYS must be set when REALTIME_BROKER_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
