// Package orchestrator runs one conversation turn per inbound email: it
// resolves the thread, extends its history, drives the completion round,
// parses the reply, commits the thread atomically and hands the reply to
// delivery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/mailops/internal/agent"
	"github.com/haasonsaas/mailops/internal/observability"
	"github.com/haasonsaas/mailops/internal/protocol"
	"github.com/haasonsaas/mailops/internal/threads"
	"github.com/haasonsaas/mailops/internal/tools"
	"github.com/haasonsaas/mailops/pkg/models"
)

// Completer runs a tool-augmented completion over a history on behalf of caller.
type Completer interface {
	Complete(ctx context.Context, caller tools.CallerContext, history *models.History) (*agent.Outcome, error)
}

// Dispatcher delivers a committed reply.
type Dispatcher interface {
	Deliver(ctx context.Context, req models.DeliveryRequest) error
}

// Recorder receives turn metrics.
type Recorder interface {
	TurnFinished(success bool, state string, duration time.Duration)
	TokensUsed(provider string, input, output int)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store      threads.Store
	Completer  Completer
	Parser     *protocol.Parser
	Dispatcher Dispatcher

	// SystemPrompt seeds the history of every new thread.
	SystemPrompt string

	// Locker serializes turns per thread key. Defaults to an in-process KeyLocker.
	Locker   threads.Locker
	Resolver *threads.Resolver

	// ProviderName labels token metrics.
	ProviderName string
	Recorder     Recorder
	Tracer       *observability.Tracer
	Logger       *slog.Logger

	// Now is used for turn timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Result summarizes a processed turn.
type Result struct {
	ThreadKey string
	ThreadID  string

	// Created is true when the turn started a new thread.
	Created bool

	Delivery  models.DeliveryRequest
	Delivered bool

	ToolCalls int
}

// Orchestrator processes inbound messages.
type Orchestrator struct {
	store      threads.Store
	completer  Completer
	parser     *protocol.Parser
	dispatcher Dispatcher
	prompt     string
	locker     threads.Locker
	resolver   *threads.Resolver
	provider   string
	recorder   Recorder
	tracer     *observability.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// New validates cfg and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case cfg.Completer == nil:
		return nil, errors.New("orchestrator: completer is required")
	case cfg.Parser == nil:
		return nil, errors.New("orchestrator: parser is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	}
	if cfg.Locker == nil {
		cfg.Locker = threads.NewKeyLocker()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = threads.NewResolver()
	}
	if cfg.Tracer == nil {
		cfg.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		store:      cfg.Store,
		completer:  cfg.Completer,
		parser:     cfg.Parser,
		dispatcher: cfg.Dispatcher,
		prompt:     cfg.SystemPrompt,
		locker:     cfg.Locker,
		resolver:   cfg.Resolver,
		provider:   cfg.ProviderName,
		recorder:   cfg.Recorder,
		tracer:     cfg.Tracer,
		logger:     cfg.Logger.With("component", "orchestrator"),
		now:        cfg.Now,
	}, nil
}

// turn carries the working state of one inbound message.
type turn struct {
	msg     models.InboundMessage
	key     string
	thread  *models.ConversationThread
	history *models.History
	outcome *agent.Outcome
	reply   *protocol.Response
	span    trace.Span
}

// Handle runs the full turn for msg. Any returned error is a *TurnError and
// means nothing was committed or sent, except that delivery failures after a
// successful commit are logged and not returned.
func (o *Orchestrator) Handle(ctx context.Context, msg models.InboundMessage) (result *Result, err error) {
	start := o.now()
	state := StateResolving
	t := &turn{msg: msg}

	defer func() {
		if err != nil {
			state = FailedState(err)
		}
		if o.recorder != nil {
			o.recorder.TurnFinished(err == nil, string(state), time.Since(start))
		}
	}()

	if strings.TrimSpace(msg.FromAddress) == "" {
		return nil, &TurnError{State: StateResolving, Cause: ErrEmptyMessage}
	}

	key, err := o.resolver.Resolve(msg.CorrelationHint)
	if err != nil {
		return nil, &TurnError{State: StateResolving, Cause: err}
	}
	t.key = key

	ctx = observability.AddThreadKey(ctx, key)
	ctx, t.span = o.tracer.TraceTurn(ctx, key, msg.FromAddress)
	defer t.span.End()
	logger := o.logger.With("thread_key", key, "from", msg.FromAddress)

	if err := o.locker.Lock(ctx, key); err != nil {
		return nil, o.fail(ctx, logger, t, StateResolving, fmt.Errorf("failed to lock thread: %w", err))
	}
	defer o.locker.Unlock(key)

	steps := []struct {
		state State
		run   func(context.Context, *turn) error
	}{
		{StateLoading, o.load},
		{StateCompleting, o.complete},
		{StateParsing, o.parse},
		{StateCommitting, o.commit},
	}
	for _, step := range steps {
		o.tracer.AddEvent(t.span, "state", "name", string(step.state))
		if err := ctx.Err(); err != nil {
			return nil, o.fail(ctx, logger, t, step.state, err)
		}
		if err := step.run(ctx, t); err != nil {
			return nil, o.fail(ctx, logger, t, step.state, err)
		}
	}

	state = StateDispatching
	o.tracer.AddEvent(t.span, "state", "name", string(state))
	result = &Result{
		ThreadKey: key,
		ThreadID:  t.thread.ID,
		Created:   t.thread.Version == 1,
		Delivery: models.DeliveryRequest{
			ThreadKey:       key,
			ToAddress:       msg.FromAddress,
			Subject:         t.reply.Subject,
			BodyMarkdown:    t.reply.BodyMarkdown,
			AttachmentPaths: t.reply.AttachmentPaths(),
		},
		ToolCalls: len(t.outcome.Tools),
	}
	if err := o.dispatcher.Deliver(ctx, result.Delivery); err != nil {
		logger.ErrorContext(ctx, "reply delivery failed", "state", string(state), "error", err)
		o.tracer.RecordError(t.span, err)
	} else {
		result.Delivered = true
	}

	state = StateDone
	logger.InfoContext(ctx, "turn processed",
		"thread_id", t.thread.ID,
		"version", t.thread.Version,
		"tool_calls", result.ToolCalls,
		"delivered", result.Delivered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, t *turn, state State, cause error) error {
	err := &TurnError{State: state, ThreadKey: t.key, Cause: cause}
	if t.span != nil {
		o.tracer.RecordError(t.span, err)
	}
	logger.ErrorContext(ctx, "turn failed", "state", string(state), "error", cause)
	return err
}

// load fetches or creates the thread and appends the inbound user turn.
func (o *Orchestrator) load(ctx context.Context, t *turn) error {
	thread, err := o.store.LoadByKey(ctx, t.key)
	switch {
	case errors.Is(err, threads.ErrNotFound):
		t.thread = threads.NewThread(t.key, o.now())
		t.history = models.NewHistory()
		t.history.Append(models.Turn{Role: models.RoleSystem, Content: o.prompt, CreatedAt: o.now().UTC()})
	case err != nil:
		return fmt.Errorf("failed to load thread: %w", err)
	default:
		t.thread = thread
		t.history, err = models.DecodeHistory(thread.History)
		if err != nil {
			return err
		}
	}

	t.history.Append(models.Turn{
		Role:      models.RoleUser,
		Content:   FormatUserTurn(t.msg.Subject, t.msg.TextBody),
		CreatedAt: o.now().UTC(),
	})
	return nil
}

// complete runs the completion round with the sender as caller context.
func (o *Orchestrator) complete(ctx context.Context, t *turn) error {
	caller := tools.CallerContext{OriginAddress: t.msg.FromAddress}
	outcome, err := o.completer.Complete(ctx, caller, t.history.Clone())
	if err != nil {
		return err
	}
	t.outcome = outcome
	if o.recorder != nil {
		o.recorder.TokensUsed(o.provider, outcome.InputTokens, outcome.OutputTokens)
	}
	t.history.Append(models.Turn{
		Role:      models.RoleAssistant,
		Content:   outcome.Text,
		Tools:     outcome.Tools,
		CreatedAt: o.now().UTC(),
	})
	return nil
}

func (o *Orchestrator) parse(_ context.Context, t *turn) error {
	reply, err := o.parser.Parse(t.outcome.Text)
	if err != nil {
		return err
	}
	t.reply = reply
	return nil
}

// commit persists the extended history with the inbound and outbound records.
func (o *Orchestrator) commit(ctx context.Context, t *turn) error {
	encoded, err := models.EncodeHistory(t.history)
	if err != nil {
		return err
	}
	batch := threads.NewBatchAt(t.thread, o.now())
	batch.UpdateHistory(encoded)
	batch.AppendExchangeRecords(
		models.ExchangeRecord{
			Direction:          models.DirectionInbound,
			ParticipantAddress: t.msg.FromAddress,
			Content:            t.msg.TextBody,
		},
		models.ExchangeRecord{
			Direction:          models.DirectionOutbound,
			ParticipantAddress: t.msg.FromAddress,
			Content:            t.outcome.Text,
		},
	)
	if err := o.store.Commit(ctx, batch); err != nil {
		return fmt.Errorf("failed to commit thread: %w", err)
	}
	return nil
}

// FormatUserTurn tags the inbound subject and body so the model can tell
// message boundaries apart.
func FormatUserTurn(subject, body string) string {
	return "<subject>" + subject + "</subject>\n<body>" + body + "</body>"
}
