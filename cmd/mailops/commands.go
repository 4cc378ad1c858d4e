package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mailops/internal/config"
)

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "",
		fmt.Sprintf("Path to YAML configuration file (default: $%s or %s)", config.EnvPath, config.DefaultPath))
}

// buildServeCmd creates the "serve" command that starts the webhook server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mailops webhook server",
		Long: `Start the mailops HTTP server.

The server will:
1. Load configuration from the specified file (or mailops.yaml)
2. Open the thread database and apply pending migrations
3. Connect the Docker and Prometheus tool backends
4. Initialize the configured LLM provider
5. Serve the Postmark inbound webhook, /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  mailops serve

  # Start with custom config and debug logging
  mailops serve --config /etc/mailops/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.ResolvePath(configPath), debug)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long:  `Manage the thread database schema.`,
	}

	var upConfig, statusConfig string
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, config.ResolvePath(upConfig))
		},
	}
	addConfigFlag(up, &upConfig)

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, config.ResolvePath(statusConfig))
		},
	}
	addConfigFlag(status, &statusConfig)

	cmd.AddCommand(up, status)
	return cmd
}

// buildThreadsCmd creates the "threads" command group.
func buildThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect conversation threads",
	}

	var (
		configPath string
		asJSON     bool
	)
	show := &cobra.Command{
		Use:   "show <thread-key>",
		Short: "Print a thread's history and exchange records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadsShow(cmd, config.ResolvePath(configPath), args[0], asJSON)
		},
	}
	addConfigFlag(show, &configPath)
	show.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	cmd.AddCommand(show)
	return cmd
}

// buildResolveCmd creates the "resolve" command.
func buildResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [hint]",
		Short: "Print the thread key an inbound message would use",
		Long: `Print the thread key for a correlation hint.

A non-blank hint is used verbatim. Without a hint a fresh random key is generated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint := ""
			if len(args) == 1 {
				hint = args[0]
			}
			return runResolve(cmd, hint)
		},
	}
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, config.ResolvePath(configPath))
		},
	}
	addConfigFlag(validate, &configPath)

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mailops %s\n", versionString())
			return err
		},
	}
}
