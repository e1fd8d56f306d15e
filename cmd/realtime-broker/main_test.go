package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-realtime/pkg/gateway/server"
)

func brokerTestConfig(addr string) config.Config {
	return config.Config{
		Addr:                          addr,
		AuthMode:                      config.AuthModeDisabled,
		APIKeys:                       map[string]struct{}{},
		OpenAIAPIKey:                  "sk-test",
		UpstreamURL:                   "http://127.0.0.1:1/client_secrets",
		Model:                         config.DefaultModel,
		ExchangeTimeout:               time.Second,
		CORSAllowedOrigins:            map[string]struct{}{},
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                2 * time.Second,
		ShutdownGracePeriod:           time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), nil, io.Discard, &stderr, brokerDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBroker_MissingDependencies(t *testing.T) {
	t.Parallel()
	if err := runBroker(context.Background(), nil, brokerDeps{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestRunBroker_SignalDrainsAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var gw *gatewayserver.Server
	sigReady := make(chan chan<- os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- runBroker(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), brokerDeps{
			loadConfig: func() (config.Config, error) { return brokerTestConfig(addr), nil },
			newGateway: func(cfg config.Config, logger *slog.Logger) *gatewayserver.Server {
				gw = gatewayserver.New(cfg, logger)
				return gw
			},
			signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { sigReady <- c },
			signalStop:   func(c chan<- os.Signal) {},
		})
	}()

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-sigReady:
	case <-time.After(2 * time.Second):
		t.Fatalf("signal handler never installed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("broker never became reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	sigCh <- os.Interrupt
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runBroker error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("runBroker did not stop after signal")
	}
	if !gw.IsDraining() {
		t.Fatalf("expected gateway to be draining after shutdown")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		HandlerTimeout:    4 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
	if srv.WriteTimeout != cfg.HandlerTimeout {
		t.Fatalf("WriteTimeout=%v, want %v", srv.WriteTimeout, cfg.HandlerTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gatewayserver.New(brokerTestConfig(":0"), logger)

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRunMain_CheckConfigPrintsSummaryWithoutSecrets(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	cfg := brokerTestConfig(":5000")
	cfg.APIKeys = map[string]struct{}{"rb_secret": {}}
	cfg.CORSAllowedOrigins = map[string]struct{}{"http://localhost:5173": {}}

	exitCode := runMain(context.Background(), []string{"-check-config", "-env-file", filepath.Join(t.TempDir(), "missing.env")}, &stdout, &stderr, brokerDeps{
		loadConfig: func() (config.Config, error) { return cfg, nil },
		newGateway: func(config.Config, *slog.Logger) *gatewayserver.Server {
			t.Fatalf("newGateway should not be called with -check-config")
			return nil
		},
	})
	if exitCode != 0 {
		t.Fatalf("exitCode=%d stderr=%q", exitCode, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"addr:            :5000", "(1 keys)", "http://localhost:5173", "gpt-realtime"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	for _, secret := range []string{"rb_secret", "sk-test"} {
		if strings.Contains(out, secret) {
			t.Fatalf("summary leaked %q:\n%s", secret, out)
		}
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	opts, err := parseArgs(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(opts.envFiles) != 2 || opts.envFiles[0] != ".env.local" || opts.checkConfig {
		t.Fatalf("defaults=%+v", opts)
	}

	opts, err = parseArgs([]string{"-env-file", "a.env", "-env-file", "b.env"}, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if strings.Join(opts.envFiles, ",") != "a.env,b.env" {
		t.Fatalf("envFiles=%v", opts.envFiles)
	}

	if _, err := parseArgs([]string{"serve"}, io.Discard); err == nil {
		t.Fatalf("expected error for positional argument")
	}
	if code := runMain(context.Background(), []string{"-nope"}, io.Discard, io.Discard, brokerDeps{}); code != 2 {
		t.Fatalf("exitCode=%d, want 2 for bad flag", code)
	}
}
