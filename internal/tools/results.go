package tools

import (
	"encoding/json"
	"time"
)

// Result is the outcome of any tool invocation.
type Result interface {
	Succeeded() bool
	Message() string
}

// Status is embedded in every result.
type Status struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Succeeded reports whether the action completed.
func (s Status) Succeeded() bool { return s.Success }

// Message returns the failure message, if any.
func (s Status) Message() string { return s.ErrorMessage }

func ok() Status { return Status{Success: true} }

func failed(msg string) Status { return Status{ErrorMessage: msg} }

// FailureResult carries only a status.
type FailureResult struct {
	Status
}

// Container describes one container known to the engine.
type Container struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
	State     string    `json:"state"`
}

// ContainerListResult is returned by list_containers.
type ContainerListResult struct {
	Status
	Containers []Container `json:"containers,omitempty"`
}

// ContainerActionResult is returned by restart_container and stop_container.
type ContainerActionResult struct {
	Status
}

// ContainerStatusResult is returned by get_container_status.
type ContainerStatusResult struct {
	Status
	UsedMemoryBytes    uint64  `json:"used_memory_bytes"`
	CPUUsagePercentage float64 `json:"cpu_usage_percentage"`
}

// SystemStatusResult is returned by get_system_status.
type SystemStatusResult struct {
	Status
	CPUUsagePercentage    float64 `json:"cpu_usage_percentage"`
	MemoryUsagePercentage float64 `json:"memory_usage_percentage"`
	DiskUsagePercentage   float64 `json:"disk_usage_percentage"`
}

// MountPoint describes a filesystem mount.
type MountPoint struct {
	Device         string  `json:"device"`
	FileSystem     string  `json:"file_system"`
	Path           string  `json:"path"`
	FreeBytes      float64 `json:"free_bytes"`
	TotalSizeBytes float64 `json:"total_size_bytes"`
	UsedPercentage float64 `json:"used_percentage"`
}

// FileSystemStatusResult is returned by get_file_system_status.
type FileSystemStatusResult struct {
	Status
	MountPoints []MountPoint `json:"mount_points,omitempty"`
}

// PlotResult is returned by the usage plot actions. FileName is relative
// to the scratch directory.
type PlotResult struct {
	Status
	FileName string `json:"file_name,omitempty"`
}

// Encode renders a result as the JSON handed back to the model.
func Encode(r Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(FailureResult{Status: failed("failed to encode tool result: " + err.Error())})
		return string(fallback)
	}
	return string(data)
}
