// Package main provides the advisor CLI, a terminal client for the realtime
// product advisor.
//
// # Basic Usage
//
// Chat with the advisor over a live session:
//
//	advisor chat --config advisor.yaml
//
// Check that the broker issues credentials:
//
//	advisor token --broker http://localhost:5000
//
// # Environment Variables
//
//   - ADVISOR_CONFIG: path to the agent profile (default: built-in profile)
//   - ADVISOR_BROKER_URL: credential broker base URL
//   - ADVISOR_BROKER_API_KEY: bearer key for brokers running with auth
//
// Variables are also read from .env.local and .env in the working directory.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-realtime/internal/agentconfig"
	"github.com/vango-go/vai-realtime/internal/dotenv"
	"github.com/vango-go/vai-realtime/pkg/credential"
)

var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	brokerURL  string
	apiKey     string
	verbose    bool
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "advisor",
		Short:         "Realtime product advisor client",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Agent profile YAML (or set ADVISOR_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flags.brokerURL, "broker", "", "Credential broker base URL (overrides the profile)")
	rootCmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", "", "Broker bearer key (overrides the profile)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log session internals to stderr")

	rootCmd.AddCommand(
		buildChatCmd(flags),
		buildTokenCmd(flags),
	)
	return rootCmd
}

// loadProfile resolves the agent profile from flags, environment and the
// profile file, in that order of precedence.
func loadProfile(flags *rootFlags) (agentconfig.Profile, error) {
	if err := dotenv.LoadFiles(".env.local", ".env"); err != nil {
		return agentconfig.Profile{}, err
	}

	path := strings.TrimSpace(flags.configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ADVISOR_CONFIG"))
	}
	profile, err := agentconfig.Load(path)
	if err != nil {
		return agentconfig.Profile{}, err
	}

	if v := firstNonEmpty(flags.brokerURL, os.Getenv("ADVISOR_BROKER_URL")); v != "" {
		profile.Broker.URL = v
	}
	if v := firstNonEmpty(flags.apiKey, os.Getenv("ADVISOR_BROKER_API_KEY")); v != "" {
		profile.Broker.APIKey = v
	}
	if err := profile.Validate(); err != nil {
		return agentconfig.Profile{}, err
	}
	return profile, nil
}

func brokerClient(profile agentconfig.Profile) *credential.Client {
	return &credential.Client{
		BaseURL: profile.Broker.URL,
		APIKey:  profile.Broker.APIKey,
		Timeout: profile.Broker.Timeout,
	}
}

func newLogger(flags *rootFlags) *slog.Logger {
	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
