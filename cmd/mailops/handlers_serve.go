package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/mailops/internal/agent"
	"github.com/haasonsaas/mailops/internal/agent/providers"
	"github.com/haasonsaas/mailops/internal/config"
	"github.com/haasonsaas/mailops/internal/gateway"
	"github.com/haasonsaas/mailops/internal/mail"
	"github.com/haasonsaas/mailops/internal/observability"
	"github.com/haasonsaas/mailops/internal/orchestrator"
	"github.com/haasonsaas/mailops/internal/protocol"
	"github.com/haasonsaas/mailops/internal/tools"
)

// runServe wires every component and serves until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if issues := cfg.ServeIssues(); len(issues) > 0 {
		return errors.New("config incomplete:\n- " + strings.Join(issues, "\n- "))
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	logger.Info("starting mailops", "version", version, "commit", commit, "config", configPath)

	tracer, shutdownTracing := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "mailops",
		ServiceVersion: version,
		Environment:    cfg.Server.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	applied, err := migrate(ctx, store)
	if err != nil {
		return err
	}
	for _, id := range applied {
		logger.Info("applied migration", "id", id)
	}

	toolCfg := tools.Config{
		AuthorizedSenders: cfg.Mail.AuthorizedSenders,
		ScratchDir:        cfg.Tools.ScratchDir,
		Timeout:           cfg.Tools.ToolTimeout,
		Recorder:          metrics,
		Logger:            logger,
	}
	if docker, err := tools.NewDockerEngine(cfg.Tools.DockerHost); err != nil {
		logger.Warn("docker unavailable, container tools will fail", "error", err)
	} else {
		defer docker.Close()
		toolCfg.Engine = docker
	}
	if cfg.Tools.PrometheusURL != "" {
		backend, err := tools.NewPrometheusBackend(cfg.Tools.PrometheusURL, logger)
		if err != nil {
			return fmt.Errorf("failed to create prometheus client: %w", err)
		}
		toolCfg.Metrics = backend
	} else {
		logger.Warn("tools.prometheus_url not set, metric tools will fail")
	}
	toolGateway, err := tools.NewGateway(toolCfg)
	if err != nil {
		return err
	}

	provider, err := providers.New(providers.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	})
	if err != nil {
		return err
	}
	round, err := agent.NewRound(provider, toolGateway, agent.RoundConfig{
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxIterations: cfg.LLM.MaxIterations,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	mailer, err := mail.NewClient(mail.Config{
		ServerToken:    cfg.Mail.ServerToken,
		From:           cfg.Mail.From,
		ReplyToPattern: cfg.Mail.ReplyToPattern,
		Tag:            cfg.Mail.Tag,
		MessageStream:  cfg.Mail.MessageStream,
		BaseURL:        cfg.Mail.BaseURL,
		RateLimit:      cfg.Mail.RateLimit,
		RateBurst:      cfg.Mail.RateBurst,
		Recorder:       metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:        store,
		Completer:    round,
		Parser:       protocol.NewParser(toolGateway.ScratchDir(), cfg.Protocol.IsStrict()),
		Dispatcher:   mailer,
		SystemPrompt: cfg.LLM.SystemPrompt,
		ProviderName: provider.Name(),
		Recorder:     metrics,
		Tracer:       tracer,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	server, err := gateway.NewServer(gateway.Config{
		Addr:              cfg.Server.Addr(),
		Username:          cfg.Auth.Username,
		Password:          cfg.Auth.Password,
		Development:       cfg.Server.Development(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		Turns:             orch,
		Tools:             toolGateway,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
