package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the top-level directive that pulls other files in
// beneath the current one. Later files override earlier ones key by key.
const includeKey = "$include"

// LoadRaw reads the file at path and every file it includes, and returns
// the layered result as a generic map. ${VAR} references are expanded per
// file before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &layerLoader{active: map[string]bool{}}
	return l.load(path)
}

// layerLoader tracks the include chain so cycles are reported instead of
// recursing forever. A file may still be included twice from siblings.
type layerLoader struct {
	active map[string]bool
}

func (l *layerLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if l.active[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	l.active[abs] = true
	defer delete(l.active, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument([]byte(os.ExpandEnv(string(data))), abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	paths, err := includePaths(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	base := map[string]any{}
	for _, inc := range paths {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		layer, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		base = overlay(base, layer)
	}
	return overlay(base, doc), nil
}

// decodeDocument parses one file. JSON and JSON5 are chosen by extension;
// anything else is read as a single YAML document.
func decodeDocument(data []byte, name string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// includePaths removes the include directive from doc and returns its
// non-blank entries.
func includePaths(doc map[string]any) ([]string, error) {
	value, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var entries []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		entries = []any{v}
	case []any:
		entries = v
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		p, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be strings", includeKey)
		}
		if strings.TrimSpace(p) != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// overlay copies src onto dst, descending into nested maps so a layer can
// override a single field of a section.
func overlay(dst, src map[string]any) map[string]any {
	for key, value := range src {
		nested, isMap := value.(map[string]any)
		existing, hasMap := dst[key].(map[string]any)
		if isMap && hasMap {
			dst[key] = overlay(existing, nested)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig round-trips the layered map through YAML so unknown keys
// are rejected by the typed decoder.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
