package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	"github.com/vango-go/vai-realtime/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the broker can mint credentials. It turns
// unready while the process drains.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		Draining      bool     `json:"draining,omitempty"`
		DrainingSince string   `json:"draining_since,omitempty"`
		InFlight      int64    `json:"in_flight_exchanges"`
		AuthMode      string   `json:"auth_mode"`
		Model         string   `json:"model"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if strings.TrimSpace(h.Config.OpenAIAPIKey) == "" {
		issues = append(issues, "upstream api key not configured")
	}
	if strings.TrimSpace(h.Config.UpstreamURL) == "" {
		issues = append(issues, "upstream url not configured")
	}
	if h.Config.ExchangeTimeout <= 0 {
		issues = append(issues, "exchange timeout must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.UpstreamConnectTimeout <= 0 || h.Config.UpstreamResponseHeaderTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}

	draining := h.Lifecycle.IsDraining()
	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) || h.Config.LimitMaxConcurrentRequests > 0

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case draining:
		status = http.StatusServiceUnavailable
	}

	var since string
	if t := h.Lifecycle.DrainingSince(); draining && !t.IsZero() {
		since = t.UTC().Format(time.RFC3339)
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		Draining:      draining,
		DrainingSince: since,
		InFlight:      h.Lifecycle.InFlight(),
		AuthMode:      string(h.Config.AuthMode),
		Model:         h.Config.Model,
		LimitsEnabled: limitsEnabled,
		Issues:        issues,
	})
}
