package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mailops/internal/config"
	"github.com/haasonsaas/mailops/internal/threads"
	"github.com/haasonsaas/mailops/pkg/models"
)

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*threads.SQLStore, error) {
	store, err := threads.Open(ctx, threads.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  10 * time.Second,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func migrate(ctx context.Context, store *threads.SQLStore) ([]string, error) {
	migrator, err := threads.NewMigrator(store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return migrator.Up(ctx)
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	applied, err := migrate(cmd.Context(), store)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "no pending migrations")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(out, "applied %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	migrator, err := threads.NewMigrator(store)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAPPLIED AT")
	for _, m := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", m.ID, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.ID)
	}
	return w.Flush()
}

type threadView struct {
	Thread  *models.ConversationThread `json:"thread"`
	History *models.History            `json:"history"`
	Records []models.ExchangeRecord    `json:"records"`
}

// runThreadsShow prints one thread.
func runThreadsShow(cmd *cobra.Command, configPath, key string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	store, err := openStore(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	thread, err := store.LoadByKey(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to load thread %q: %w", key, err)
	}
	history, err := models.DecodeHistory(thread.History)
	if err != nil {
		return err
	}
	records, err := store.ListRecords(cmd.Context(), thread.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(threadView{Thread: thread, History: history, Records: records})
	}

	fmt.Fprintf(out, "Thread %s (id %s, version %d)\n", thread.ThreadKey, thread.ID, thread.Version)
	fmt.Fprintf(out, "Created %s, updated %s\n\n", thread.CreatedAt.Format(time.RFC3339), thread.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "History (%d turns):\n", history.Len())
	for i, turn := range history.Turns {
		fmt.Fprintf(out, "[%d] %s: %s\n", i, turn.Role, indent(turn.Content))
		for _, tool := range turn.Tools {
			status := "ok"
			if tool.Result.IsError {
				status = "error"
			}
			fmt.Fprintf(out, "    tool %s(%s) -> %s\n", tool.Call.Name, string(tool.Call.Input), status)
		}
	}
	fmt.Fprintf(out, "\nRecords (%d):\n", len(records))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tDIRECTION\tPARTICIPANT\tCONTENT")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.CreatedAt.Format(time.RFC3339), rec.Direction, rec.ParticipantAddress, summarize(rec.Content, 60))
	}
	return w.Flush()
}

// runResolve prints the thread key for hint.
func runResolve(cmd *cobra.Command, hint string) error {
	key, err := threads.ResolveKey(hint)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
	return err
}

// runConfigValidate loads the config and reports settings missing for serve.
func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if issues := cfg.ServeIssues(); len(issues) > 0 {
		fmt.Fprintf(out, "%s is valid but cannot serve yet:\n", configPath)
		for _, issue := range issues {
			fmt.Fprintf(out, "- %s\n", issue)
		}
		return nil
	}
	fmt.Fprintf(out, "%s is valid\n", configPath)
	return nil
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}

func summarize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
