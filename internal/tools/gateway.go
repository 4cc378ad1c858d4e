package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Metric queries evaluated against the metrics backend.
const (
	QueryCPUUsage       = `100 - (avg(irate(node_cpu_seconds_total{mode="idle"}[5m])) * 100)`
	QueryMemoryUsage    = `(1 - (node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)) * 100`
	QueryDiskUsage      = `100 - ((node_filesystem_avail_bytes{fstype=~"ext4|xfs"} * 100) / node_filesystem_size_bytes{fstype=~"ext4|xfs"})`
	QueryFileSystemSize = `node_filesystem_size_bytes{fstype=~"ext4|xfs"}`
	QueryFileSystemFree = `node_filesystem_free_bytes{fstype=~"ext4|xfs"}`
)

const (
	plotWindow = time.Hour
	plotStep   = time.Minute
)

// Recorder observes tool invocations.
type Recorder interface {
	ToolInvoked(name string, success bool, duration time.Duration)
}

// Config configures a Gateway.
type Config struct {
	Engine  ContainerEngine
	Metrics MetricsBackend

	// AuthorizedSenders is the allow-list for privileged actions.
	AuthorizedSenders []string

	// ScratchDir receives rendered plots.
	ScratchDir string

	// Timeout bounds each invocation. Zero means 30s.
	Timeout time.Duration

	Recorder Recorder
	Logger   *slog.Logger
}

// Call is one model-requested invocation.
type Call struct {
	Name string
	Args json.RawMessage
}

// Gateway executes actions on behalf of the completion round.
type Gateway struct {
	engine     ContainerEngine
	metrics    MetricsBackend
	authorizer *Authorizer
	validator  *validator
	scratchDir string
	timeout    time.Duration
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewGateway validates cfg and builds a Gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defs, err := Definitions()
	if err != nil {
		return nil, err
	}
	v, err := newValidator(defs)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		engine:     cfg.Engine,
		metrics:    cfg.Metrics,
		authorizer: NewAuthorizer(cfg.AuthorizedSenders),
		validator:  v,
		scratchDir: cfg.ScratchDir,
		timeout:    cfg.Timeout,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger.With("component", "tools"),
		now:        time.Now,
	}, nil
}

// ScratchDir returns the directory plots are written to.
func (g *Gateway) ScratchDir() string {
	return g.scratchDir
}

// Invoke runs one call for caller. It never returns an error; failures
// are reported in the result.
func (g *Gateway) Invoke(ctx context.Context, caller CallerContext, call Call) Result {
	start := time.Now()
	def, known := Lookup(call.Name)
	result := g.invoke(ctx, caller, def, known, call)
	if g.recorder != nil {
		g.recorder.ToolInvoked(call.Name, result.Succeeded(), time.Since(start))
	}
	if !result.Succeeded() {
		g.logger.Warn("tool call failed",
			"tool", call.Name,
			"origin", caller.OriginAddress,
			"error", result.Message(),
		)
	} else {
		g.logger.Debug("tool call succeeded", "tool", call.Name, "duration", time.Since(start))
	}
	return result
}

func (g *Gateway) invoke(ctx context.Context, caller CallerContext, def Definition, known bool, call Call) (result Result) {
	if !known {
		return FailureResult{Status: failed("unknown tool: " + call.Name)}
	}
	if def.RequiresAuth && !g.authorizer.Authorized(caller) {
		return FailureResult{Status: failed(UnauthorizedMessage)}
	}
	args, err := g.validator.validate(def.Name, call.Args)
	if err != nil {
		return FailureResult{Status: failed(err.Error())}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = FailureResult{Status: failed(fmt.Sprintf("tool %s panicked: %v", def.Name, r))}
		}
	}()

	switch def.Kind {
	case KindListContainers:
		var in ListContainersInput
		if err := decodeArgs(args, &in); err != nil {
			return FailureResult{Status: failed(err.Error())}
		}
		return g.listContainers(ctx, in)
	case KindRestartContainer:
		var in ContainerInput
		if err := decodeArgs(args, &in); err != nil {
			return FailureResult{Status: failed(err.Error())}
		}
		return g.containerAction(ctx, in, g.requireEngine().Restart)
	case KindStopContainer:
		var in ContainerInput
		if err := decodeArgs(args, &in); err != nil {
			return FailureResult{Status: failed(err.Error())}
		}
		return g.containerAction(ctx, in, g.requireEngine().Stop)
	case KindGetContainerStatus:
		var in ContainerInput
		if err := decodeArgs(args, &in); err != nil {
			return FailureResult{Status: failed(err.Error())}
		}
		return g.containerStatus(ctx, in)
	case KindGetSystemStatus:
		return g.systemStatus(ctx)
	case KindGetFileSystemStatus:
		return g.fileSystemStatus(ctx)
	case KindGetCPUUsagePlot:
		return g.usagePlot(ctx, "cpu_usage", "CPU usage (last hour)", QueryCPUUsage)
	case KindGetMemoryUsagePlot:
		return g.usagePlot(ctx, "memory_usage", "Memory usage (last hour)", QueryMemoryUsage)
	default:
		return FailureResult{Status: failed("unknown tool: " + call.Name)}
	}
}

var errNoEngine = errors.New("container engine is not configured")
var errNoMetrics = errors.New("metrics backend is not configured")

// requireEngine returns the engine or a stand-in that fails every call.
func (g *Gateway) requireEngine() ContainerEngine {
	if g.engine == nil {
		return unavailableEngine{}
	}
	return g.engine
}

func (g *Gateway) requireMetrics() MetricsBackend {
	if g.metrics == nil {
		return unavailableMetrics{}
	}
	return g.metrics
}

func (g *Gateway) listContainers(ctx context.Context, in ListContainersInput) Result {
	containers, err := g.requireEngine().List(ctx, in.IncludeStopped)
	if err != nil {
		return ContainerListResult{Status: failed(err.Error())}
	}
	return ContainerListResult{Status: ok(), Containers: containers}
}

func (g *Gateway) containerAction(ctx context.Context, in ContainerInput, action func(context.Context, string) error) Result {
	if err := action(ctx, in.ContainerID); err != nil {
		return ContainerActionResult{Status: failed(err.Error())}
	}
	return ContainerActionResult{Status: ok()}
}

func (g *Gateway) containerStatus(ctx context.Context, in ContainerInput) Result {
	sample, err := g.requireEngine().Sample(ctx, in.ContainerID)
	if err != nil {
		return ContainerStatusResult{Status: failed(err.Error())}
	}
	return ContainerStatusResult{
		Status:             ok(),
		UsedMemoryBytes:    sample.MemoryUsage,
		CPUUsagePercentage: sample.CPUPercent(),
	}
}

func (g *Gateway) systemStatus(ctx context.Context) Result {
	metrics := g.requireMetrics()
	var cpu, mem, disk []Sample

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		cpu, err = metrics.Instant(egCtx, QueryCPUUsage)
		return err
	})
	eg.Go(func() (err error) {
		mem, err = metrics.Instant(egCtx, QueryMemoryUsage)
		return err
	})
	eg.Go(func() (err error) {
		disk, err = metrics.Instant(egCtx, QueryDiskUsage)
		return err
	})
	if err := eg.Wait(); err != nil {
		return SystemStatusResult{Status: failed(err.Error())}
	}

	if len(cpu) == 0 {
		return SystemStatusResult{Status: failed("cpu usage query returned no samples")}
	}
	if len(mem) == 0 {
		return SystemStatusResult{Status: failed("memory usage query returned no samples")}
	}
	if len(disk) == 0 {
		return SystemStatusResult{Status: failed("disk usage query returned no samples")}
	}

	worst := math.Inf(-1)
	for _, s := range disk {
		worst = math.Max(worst, s.Value)
	}
	return SystemStatusResult{
		Status:                ok(),
		CPUUsagePercentage:    cpu[0].Value,
		MemoryUsagePercentage: mem[0].Value,
		DiskUsagePercentage:   worst,
	}
}

func (g *Gateway) fileSystemStatus(ctx context.Context) Result {
	metrics := g.requireMetrics()
	sizes, err := metrics.Instant(ctx, QueryFileSystemSize)
	if err != nil {
		return FileSystemStatusResult{Status: failed(err.Error())}
	}
	frees, err := metrics.Instant(ctx, QueryFileSystemFree)
	if err != nil {
		return FileSystemStatusResult{Status: failed(err.Error())}
	}

	freeByMount := make(map[string]float64, len(frees))
	for _, s := range frees {
		freeByMount[s.Labels["mountpoint"]] = s.Value
	}

	mounts := make([]MountPoint, 0, len(sizes))
	for _, s := range sizes {
		path := s.Labels["mountpoint"]
		free, found := freeByMount[path]
		if !found {
			return FileSystemStatusResult{Status: failed(fmt.Sprintf("free bytes missing for mount %q", path))}
		}
		used := 0.0
		if s.Value > 0 {
			used = (1 - free/s.Value) * 100
		}
		mounts = append(mounts, MountPoint{
			Device:         s.Labels["device"],
			FileSystem:     s.Labels["fstype"],
			Path:           path,
			FreeBytes:      free,
			TotalSizeBytes: s.Value,
			UsedPercentage: used,
		})
	}
	return FileSystemStatusResult{Status: ok(), MountPoints: mounts}
}

func (g *Gateway) usagePlot(ctx context.Context, prefix, title, query string) Result {
	end := g.now()
	points, err := g.requireMetrics().Range(ctx, query, end.Add(-plotWindow), end, plotStep)
	if err != nil {
		return PlotResult{Status: failed(err.Error())}
	}
	fileName := fmt.Sprintf("%s_%d.png", prefix, end.UnixNano())
	if err := renderUsagePlot(points, title, g.scratchDir, fileName); err != nil {
		return PlotResult{Status: failed(err.Error())}
	}
	return PlotResult{Status: ok(), FileName: fileName}
}

func decodeArgs(args json.RawMessage, dst any) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

type unavailableEngine struct{}

func (unavailableEngine) List(context.Context, bool) ([]Container, error) { return nil, errNoEngine }
func (unavailableEngine) Restart(context.Context, string) error             { return errNoEngine }
func (unavailableEngine) Stop(context.Context, string) error                { return errNoEngine }
func (unavailableEngine) Sample(context.Context, string) (StatsSample, error) {
	return StatsSample{}, errNoEngine
}

type unavailableMetrics struct{}

func (unavailableMetrics) Instant(context.Context, string) ([]Sample, error) { return nil, errNoMetrics }
func (unavailableMetrics) Range(context.Context, string, time.Time, time.Time, time.Duration) ([]Point, error) {
	return nil, errNoMetrics
}
