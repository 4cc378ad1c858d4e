package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerEngine is the subset of the container runtime the gateway uses.
type ContainerEngine interface {
	List(ctx context.Context, includeStopped bool) ([]Container, error)
	Restart(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	// Sample returns one resource usage reading for a container.
	Sample(ctx context.Context, containerID string) (StatsSample, error)
}

// StatsSample holds the counters needed to derive point-in-time usage.
type StatsSample struct {
	CPUTotal    uint64
	PreCPUTotal uint64
	System      uint64
	PreSystem   uint64
	OnlineCPUs  uint32
	MemoryUsage uint64
}

// CPUPercent derives CPU usage from the counter deltas, scaled by the
// online CPU count and by 100. It returns 0 when the system counter did
// not advance.
func (s StatsSample) CPUPercent() float64 {
	if s.CPUTotal < s.PreCPUTotal || s.System <= s.PreSystem {
		return 0
	}
	cpuDelta := float64(s.CPUTotal - s.PreCPUTotal)
	systemDelta := float64(s.System - s.PreSystem)
	return cpuDelta / systemDelta * float64(s.OnlineCPUs) * 100
}

// DockerEngine adapts the Docker Engine API client.
type DockerEngine struct {
	client *client.Client
}

// NewDockerEngine connects to host, or to the environment's DOCKER_HOST when host is empty.
func NewDockerEngine(host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if strings.TrimSpace(host) != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{client: cli}, nil
}

// Close releases the client's transport.
func (d *DockerEngine) Close() error {
	return d.client.Close()
}

// List returns running containers, or all containers when includeStopped is set.
func (d *DockerEngine) List(ctx context.Context, includeStopped bool) ([]Container, error) {
	summaries, err := d.client.ContainerList(ctx, container.ListOptions{All: includeStopped})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	out := make([]Container, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, Container{
			ID:        s.ID,
			Name:      displayName(s.Names),
			Image:     s.Image,
			CreatedAt: time.Unix(s.Created, 0).UTC(),
			State:     s.State,
		})
	}
	return out, nil
}

// Restart restarts a container with the engine's default timeout.
func (d *DockerEngine) Restart(ctx context.Context, containerID string) error {
	if err := d.client.ContainerRestart(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", containerID, err)
	}
	return nil
}

// Stop stops a container with the engine's default timeout.
func (d *DockerEngine) Stop(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// statsFrame mirrors the fields of a Docker stats frame that we read.
type statsFrame struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

// Sample requests a single stats frame. Without streaming the daemon primes
// the previous counters first, so the frame carries two consecutive
// readings and CPUPercent reflects recent usage rather than the lifetime
// average.
func (d *DockerEngine) Sample(ctx context.Context, containerID string) (StatsSample, error) {
	statsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stats, err := d.client.ContainerStats(statsCtx, containerID, false)
	if err != nil {
		return StatsSample{}, fmt.Errorf("failed to read stats for %s: %w", containerID, err)
	}
	defer stats.Body.Close()

	var frame statsFrame
	if err := json.NewDecoder(stats.Body).Decode(&frame); err != nil {
		return StatsSample{}, fmt.Errorf("failed to decode stats for %s: %w", containerID, err)
	}
	return frame.sample(), nil
}

func (f statsFrame) sample() StatsSample {
	online := f.CPUStats.OnlineCPUs
	if online == 0 {
		online = uint32(len(f.CPUStats.CPUUsage.PercpuUsage))
	}
	return StatsSample{
		CPUTotal:    f.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal: f.PreCPUStats.CPUUsage.TotalUsage,
		System:      f.CPUStats.SystemUsage,
		PreSystem:   f.PreCPUStats.SystemUsage,
		OnlineCPUs:  online,
		MemoryUsage: f.MemoryStats.Usage,
	}
}

// displayName picks the last name and strips the leading slash Docker adds.
func displayName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[len(names)-1], "/")
}
