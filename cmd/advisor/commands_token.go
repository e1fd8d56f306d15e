package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-realtime/pkg/credential"
)

func buildTokenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Request a credential from the broker and print its redacted form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile(flags)
			if err != nil {
				return err
			}
			return runToken(cmd.Context(), brokerClient(profile), cmd.OutOrStdout(), time.Now)
		},
	}
}

// runToken never prints the secret itself.
func runToken(ctx context.Context, broker credential.Broker, out io.Writer, now func() time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cred, err := broker.RequestCredential(ctx)
	if err != nil {
		return fmt.Errorf("request credential: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Fprintln(out, "Credential issued")
	cyan.Fprint(out, "  value:   ")
	fmt.Fprintln(out, cred.String())
	cyan.Fprint(out, "  expires: ")
	if cred.ExpiresAt.IsZero() {
		fmt.Fprintln(out, "unknown")
		return nil
	}
	remaining := cred.ExpiresAt.Sub(now()).Truncate(time.Second)
	if remaining <= 0 {
		fmt.Fprintf(out, "%s (expired)\n", cred.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	}
	fmt.Fprintf(out, "%s (in %s)\n", cred.ExpiresAt.UTC().Format(time.RFC3339), remaining)
	return nil
}
