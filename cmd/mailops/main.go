// Package main provides the CLI entry point for mailops, the email-driven
// operations assistant.
//
// # Basic Usage
//
// Start the webhook server:
//
//	mailops serve --config mailops.yaml
//
// Manage database migrations:
//
//	mailops migrate up
//	mailops migrate status
//
// Inspect a conversation:
//
//	mailops threads show f00dfeed12
//
// # Environment Variables
//
//   - MAILOPS_CONFIG: Path to configuration file (default: mailops.yaml)
//
// Any ${VAR} reference inside the configuration file is expanded from the
// environment, which is the usual way to supply API keys and tokens.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mailops",
		Short: "mailops - email-driven operations assistant",
		Long: `mailops answers operations questions sent by email.

Inbound mail arrives through the Postmark inbound webhook, is routed to a
conversation thread, answered by a language model that can inspect Docker
containers and Prometheus metrics, and the reply is sent back through Postmark.`,
		Version:      versionString(),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildThreadsCmd(),
		buildResolveCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
