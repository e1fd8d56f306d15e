package config

import (
	"strings"
	"testing"
	"time"
)

var brokerEnvKeys = []string{
	"REALTIME_BROKER_ADDR",
	"REALTIME_BROKER_AUTH_MODE",
	"REALTIME_BROKER_API_KEYS",
	"REALTIME_BROKER_TRUST_PROXY_HEADERS",
	"REALTIME_BROKER_UPSTREAM_URL",
	"REALTIME_BROKER_MODEL",
	"REALTIME_BROKER_VOICE",
	"REALTIME_BROKER_EXCHANGE_TIMEOUT",
	"REALTIME_BROKER_RATE_LIMIT_RPS",
	"REALTIME_BROKER_RATE_LIMIT_BURST",
	"REALTIME_BROKER_MAX_CONCURRENT_REQUESTS",
	"REALTIME_BROKER_METRICS",
	"REALTIME_BROKER_READ_HEADER_TIMEOUT",
	"REALTIME_BROKER_READ_TIMEOUT",
	"REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT",
	"REALTIME_BROKER_SHUTDOWN_GRACE_PERIOD",
	"REALTIME_BROKER_CONNECT_TIMEOUT",
	"REALTIME_BROKER_RESPONSE_HEADER_TIMEOUT",
}

func clearBrokerEnv(t *testing.T) {
	t.Helper()
	for _, key := range brokerEnvKeys {
		t.Setenv(key, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearBrokerEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":5000" {
		t.Fatalf("Addr = %q, want :5000", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeDisabled)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("OpenAIAPIKey = %q", cfg.OpenAIAPIKey)
	}
	if cfg.UpstreamURL != DefaultUpstreamURL {
		t.Fatalf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.Model != "gpt-realtime" {
		t.Fatalf("Model = %q, want gpt-realtime", cfg.Model)
	}
	if cfg.Voice != "" {
		t.Fatalf("Voice = %q, want empty", cfg.Voice)
	}
	if cfg.ExchangeTimeout != 10*time.Second {
		t.Fatalf("ExchangeTimeout = %v, want 10s", cfg.ExchangeTimeout)
	}
	if _, ok := cfg.CORSAllowedOrigins["http://localhost:5173"]; !ok || len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("CORSAllowedOrigins = %v, want only http://localhost:5173", cfg.CORSAllowedOrigins)
	}
	if cfg.LimitRPS != 1.0 || cfg.LimitBurst != 5 || cfg.LimitMaxConcurrentRequests != 4 {
		t.Fatalf("limits = %v/%d/%d, want 1/5/4", cfg.LimitRPS, cfg.LimitBurst, cfg.LimitMaxConcurrentRequests)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = false, want true")
	}
	if cfg.HandlerTimeout != 30*time.Second {
		t.Fatalf("HandlerTimeout = %v, want 30s", cfg.HandlerTimeout)
	}
	if cfg.ShutdownGracePeriod != 15*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 15s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("REALTIME_BROKER_ADDR", ":9090")
	t.Setenv("REALTIME_BROKER_AUTH_MODE", "optional")
	t.Setenv("REALTIME_BROKER_API_KEYS", "k1, k2,")
	t.Setenv("REALTIME_BROKER_TRUST_PROXY_HEADERS", "yes")
	t.Setenv("REALTIME_BROKER_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("REALTIME_BROKER_UPSTREAM_URL", "http://127.0.0.1:8081/client_secrets")
	t.Setenv("REALTIME_BROKER_MODEL", "gpt-realtime-mini")
	t.Setenv("REALTIME_BROKER_VOICE", "coral")
	t.Setenv("REALTIME_BROKER_EXCHANGE_TIMEOUT", "3s")
	t.Setenv("REALTIME_BROKER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("REALTIME_BROKER_RATE_LIMIT_BURST", "9")
	t.Setenv("REALTIME_BROKER_METRICS", "off")
	t.Setenv("REALTIME_BROKER_SHUTDOWN_GRACE_PERIOD", "2s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeOptional {
		t.Fatalf("Addr/AuthMode = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys = %v, want 2 keys", cfg.APIKeys)
	}
	if _, ok := cfg.APIKeys["k2"]; !ok {
		t.Fatalf("APIKeys missing trimmed k2: %v", cfg.APIKeys)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = false, want true")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.UpstreamURL != "http://127.0.0.1:8081/client_secrets" || cfg.Model != "gpt-realtime-mini" || cfg.Voice != "coral" {
		t.Fatalf("upstream = %q %q %q", cfg.UpstreamURL, cfg.Model, cfg.Voice)
	}
	if cfg.ExchangeTimeout != 3*time.Second || cfg.ShutdownGracePeriod != 2*time.Second {
		t.Fatalf("timeouts = %v %v", cfg.ExchangeTimeout, cfg.ShutdownGracePeriod)
	}
	if cfg.LimitRPS != 2.5 || cfg.LimitBurst != 9 {
		t.Fatalf("limits = %v/%d", cfg.LimitRPS, cfg.LimitBurst)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("MetricsEnabled = true, want false")
	}
}

func TestLoadFromEnv_EmptyCORSDisables(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("REALTIME_BROKER_CORS_ORIGINS", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFromEnv_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearBrokerEnv(t)
	t.Setenv("REALTIME_BROKER_EXCHANGE_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ExchangeTimeout != 10*time.Second {
		t.Fatalf("ExchangeTimeout = %v, want 10s", cfg.ExchangeTimeout)
	}
}

func TestLoadFromEnv_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing api key", map[string]string{"OPENAI_API_KEY": ""}, "OPENAI_API_KEY"},
		{"auth mode", map[string]string{"REALTIME_BROKER_AUTH_MODE": "sometimes"}, "REALTIME_BROKER_AUTH_MODE"},
		{"required without keys", map[string]string{"REALTIME_BROKER_AUTH_MODE": "required"}, "REALTIME_BROKER_API_KEYS"},
		{"relative upstream", map[string]string{"REALTIME_BROKER_UPSTREAM_URL": "/client_secrets"}, "REALTIME_BROKER_UPSTREAM_URL"},
		{"ws upstream", map[string]string{"REALTIME_BROKER_UPSTREAM_URL": "wss://api.openai.com"}, "REALTIME_BROKER_UPSTREAM_URL"},
		{"negative exchange timeout", map[string]string{"REALTIME_BROKER_EXCHANGE_TIMEOUT": "-1s"}, "REALTIME_BROKER_EXCHANGE_TIMEOUT"},
		{"handler shorter than exchange", map[string]string{
			"REALTIME_BROKER_EXCHANGE_TIMEOUT":      "20s",
			"REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT": "5s",
		}, "REALTIME_BROKER_TOTAL_REQUEST_TIMEOUT"},
		{"negative rps", map[string]string{"REALTIME_BROKER_RATE_LIMIT_RPS": "-1"}, "REALTIME_BROKER_RATE_LIMIT_RPS"},
		{"negative burst", map[string]string{"REALTIME_BROKER_RATE_LIMIT_BURST": "-2"}, "REALTIME_BROKER_RATE_LIMIT_BURST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearBrokerEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %q, want mention of %s", err.Error(), tc.want)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,, c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitCSV("  ") != nil {
		t.Fatalf("splitCSV(blank) should be nil")
	}
}
