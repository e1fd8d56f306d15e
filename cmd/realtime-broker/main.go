// Command realtime-broker mints short-lived realtime credentials for browser
// and CLI clients so the upstream API key never leaves the server.
//
// Usage:
//
//	realtime-broker [-env-file path]... [-check-config]
//
// Without -env-file, .env.local and then .env are read from the working
// directory. Variables already set in the environment always win.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/vango-go/vai-realtime/internal/dotenv"
	"github.com/vango-go/vai-realtime/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-realtime/pkg/gateway/server"
)

type brokerDeps struct {
	loadConfig   func() (config.Config, error)
	newGateway   func(config.Config, *slog.Logger) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBrokerDeps() brokerDeps {
	return brokerDeps{
		loadConfig: config.LoadFromEnv,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.HandlerTimeout,
	}
}

func runBroker(ctx context.Context, logger *slog.Logger, deps brokerDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw := deps.newGateway(cfg, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting credential broker",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"model", cfg.Model,
		"cors_origins", len(cfg.CORSAllowedOrigins),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "reason", ctx.Err())
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	logger.Info("draining", "in_flight_exchanges", gw.InFlight(), "grace_period", cfg.ShutdownGracePeriod)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("credential broker stopped")
	return nil
}

type cliOptions struct {
	envFiles    []string
	checkConfig bool
}

func parseArgs(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("realtime-broker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Func("env-file", "dotenv file to load (repeatable; earlier files win)", func(v string) error {
		if strings.TrimSpace(v) == "" {
			return errors.New("env-file must not be empty")
		}
		opts.envFiles = append(opts.envFiles, v)
		return nil
	})
	fs.BoolVar(&opts.checkConfig, "check-config", false, "validate configuration, print a summary and exit")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if len(opts.envFiles) == 0 {
		opts.envFiles = []string{".env.local", ".env"}
	}
	return opts, nil
}

// writeConfigSummary prints the effective configuration without secrets.
func writeConfigSummary(w io.Writer, cfg config.Config) {
	origins := make([]string, 0, len(cfg.CORSAllowedOrigins))
	for o := range cfg.CORSAllowedOrigins {
		origins = append(origins, o)
	}
	sort.Strings(origins)

	fmt.Fprintf(w, "addr:            %s\n", cfg.Addr)
	fmt.Fprintf(w, "auth_mode:       %s (%d keys)\n", cfg.AuthMode, len(cfg.APIKeys))
	fmt.Fprintf(w, "upstream:        %s\n", cfg.UpstreamURL)
	fmt.Fprintf(w, "model:           %s\n", cfg.Model)
	fmt.Fprintf(w, "exchange_timeout: %s\n", cfg.ExchangeTimeout)
	fmt.Fprintf(w, "cors_origins:    %s\n", strings.Join(origins, ", "))
	fmt.Fprintf(w, "rate_limit:      %.2f rps, burst %d, %d concurrent\n", cfg.LimitRPS, cfg.LimitBurst, cfg.LimitMaxConcurrentRequests)
	fmt.Fprintf(w, "metrics:         %t\n", cfg.MetricsEnabled)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps brokerDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := dotenv.LoadFiles(opts.envFiles...); err != nil {
		fmt.Fprintf(stderr, "realtime-broker: %v\n", err)
		return 1
	}

	if opts.checkConfig {
		if deps.loadConfig == nil {
			fmt.Fprintln(stderr, "realtime-broker: missing loadConfig dependency")
			return 1
		}
		cfg, err := deps.loadConfig()
		if err != nil {
			fmt.Fprintf(stderr, "realtime-broker: load config: %v\n", err)
			return 1
		}
		writeConfigSummary(stdout, cfg)
		return 0
	}

	if err := runBroker(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "realtime-broker: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultBrokerDeps()))
}
