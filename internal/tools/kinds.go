package tools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

// Kind enumerates the closed set of actions.
type Kind int

const (
	KindUnknown Kind = iota
	KindListContainers
	KindRestartContainer
	KindStopContainer
	KindGetContainerStatus
	KindGetSystemStatus
	KindGetFileSystemStatus
	KindGetCPUUsagePlot
	KindGetMemoryUsagePlot
)

// ListContainersInput is the input of list_containers.
type ListContainersInput struct {
	IncludeStopped bool `json:"include_stopped,omitempty" jsonschema:"description=Include stopped containers in the listing"`
}

// ContainerInput identifies a single container.
type ContainerInput struct {
	ContainerID string `json:"container_id" jsonschema:"required,minLength=1,description=Container id or name"`
}

// EmptyInput is used by actions that take no arguments.
type EmptyInput struct{}

// Definition describes one action as data.
type Definition struct {
	Kind         Kind
	Name         string
	Description  string
	RequiresAuth bool

	// Schema is the JSON schema of the action's input object.
	Schema json.RawMessage

	input any
}

var catalog = []Definition{
	{
		Kind:        KindListContainers,
		Name:        "list_containers",
		Description: "Lists Docker containers on the host with id, name, image, creation time and state.",
		input:       ListContainersInput{},
	},
	{
		Kind:         KindRestartContainer,
		Name:         "restart_container",
		Description:  "Restarts a Docker container. Only authorized senders may use this.",
		RequiresAuth: true,
		input:        ContainerInput{},
	},
	{
		Kind:         KindStopContainer,
		Name:         "stop_container",
		Description:  "Stops a running Docker container. Only authorized senders may use this.",
		RequiresAuth: true,
		input:        ContainerInput{},
	},
	{
		Kind:        KindGetContainerStatus,
		Name:        "get_container_status",
		Description: "Returns the current memory usage in bytes and CPU usage percentage of a container.",
		input:       ContainerInput{},
	},
	{
		Kind:        KindGetSystemStatus,
		Name:        "get_system_status",
		Description: "Returns host CPU, memory and worst-case disk usage percentages.",
		input:       EmptyInput{},
	},
	{
		Kind:        KindGetFileSystemStatus,
		Name:        "get_file_system_status",
		Description: "Returns size, free space and usage of every mounted filesystem.",
		input:       EmptyInput{},
	},
	{
		Kind:        KindGetCPUUsagePlot,
		Name:        "get_cpu_usage_plot",
		Description: "Renders host CPU usage over the last hour as a PNG and returns its file name. Embed it in the reply as a markdown image.",
		input:       EmptyInput{},
	},
	{
		Kind:        KindGetMemoryUsagePlot,
		Name:        "get_memory_usage_plot",
		Description: "Renders host memory usage over the last hour as a PNG and returns its file name. Embed it in the reply as a markdown image.",
		input:       EmptyInput{},
	},
}

var (
	catalogOnce sync.Once
	catalogErr  error
	byName      map[string]int
)

func buildCatalog() {
	byName = make(map[string]int, len(catalog))
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	for i := range catalog {
		schema, err := reflectSchema(r, catalog[i].input)
		if err != nil {
			catalogErr = fmt.Errorf("failed to build schema for %s: %w", catalog[i].Name, err)
			return
		}
		catalog[i].Schema = schema
		byName[catalog[i].Name] = i
	}
}

func reflectSchema(r *jsonschema.Reflector, input any) (json.RawMessage, error) {
	raw, err := json.Marshal(r.ReflectFromType(reflect.TypeOf(input)))
	if err != nil {
		return nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	schema["type"] = "object"
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return json.Marshal(schema)
}

// Definitions returns every action in catalog order.
func Definitions() ([]Definition, error) {
	catalogOnce.Do(buildCatalog)
	if catalogErr != nil {
		return nil, catalogErr
	}
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out, nil
}

// Lookup returns the definition for a wire name.
func Lookup(name string) (Definition, bool) {
	catalogOnce.Do(buildCatalog)
	if catalogErr != nil {
		return Definition{}, false
	}
	idx, ok := byName[name]
	if !ok {
		return Definition{}, false
	}
	return catalog[idx], true
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	for _, def := range catalog {
		if def.Kind == k {
			return def.Name
		}
	}
	return "unknown"
}
