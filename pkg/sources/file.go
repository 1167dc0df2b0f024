// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package sources loads the result-source definitions the federator queries from a
// YAML file, and keeps the federator in step with the file while it changes.
package sources

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/sqgate/pkg/federation"
)

// Source types.
const (
	TypeMemory = "memory"
	TypeSQL    = "sql"
)

// File is the parsed sources document.
type File struct {
	Sources []Definition `yaml:"sources"`
}

// Definition describes one result source.
type Definition struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	// SQL sources
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`

	// DSNSecret names a keyring entry holding the DSN when DSN is empty.
	DSNSecret string `yaml:"dsn_secret,omitempty"`
	Table     string `yaml:"table,omitempty"`

	// Memory sources
	Records []RecordFixture `yaml:"records,omitempty"`
}

// RecordFixture seeds a memory source.
type RecordFixture struct {
	ID         string         `yaml:"id"`
	Title      string         `yaml:"title"`
	Modified   time.Time      `yaml:"modified"`
	Deleted    bool           `yaml:"deleted,omitempty"`
	Versioned  bool           `yaml:"versioned,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// Result converts the fixture to a federation result.
func (r RecordFixture) Result() federation.Result {
	return federation.Result{
		ID:         r.ID,
		Title:      r.Title,
		Modified:   r.Modified,
		Deleted:    r.Deleted,
		Versioned:  r.Versioned,
		Attributes: r.Attributes,
	}
}

// fingerprint is the hash-comparable identity of a definition.
func (d Definition) fingerprint() string {
	out, _ := yaml.Marshal(d)
	return fmt.Sprintf("%x", sha256.Sum256(out))
}

// schema is the JSON Schema every sources document must satisfy.
var schema = map[string]any{
	"type":     "object",
	"required": []any{"sources"},
	"properties": map[string]any{
		"sources": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "type"},
				"properties": map[string]any{
					"id":         map[string]any{"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9_.-]+$"},
					"type":       map[string]any{"enum": []any{TypeMemory, TypeSQL}},
					"driver":     map[string]any{"enum": []any{"sqlite3", "postgres", "mysql"}},
					"dsn":        map[string]any{"type": "string"},
					"dsn_secret": map[string]any{"type": "string"},
					"table":      map[string]any{"type": "string", "pattern": "^[A-Za-z0-9_]+$"},
					"records":    map[string]any{"type": "array"},
				},
			},
		},
	},
}

// Parse validates data against the sources schema and decodes it.
func Parse(data []byte) (*File, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sources YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(jsonCompatible(raw)))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			problems[i] = e.String()
		}
		return nil, fmt.Errorf("invalid sources document: %s", strings.Join(problems, "; "))
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	for _, def := range file.Sources {
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate source id %q", def.ID)
		}
		seen[def.ID] = true
		if def.Type == TypeSQL && def.Driver == "" {
			return nil, fmt.Errorf("sql source %q requires a driver", def.ID)
		}
	}
	return &file, nil
}

// Load reads and parses the file at path and returns it with the SHA-256 of its contents.
func Load(path string) (*File, string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sources file: %w", err)
	}
	file, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return file, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// jsonCompatible rewrites YAML-decoded values (time.Time, map[any]any) into the shapes
// the JSON schema validator understands.
func jsonCompatible(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonCompatible(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonCompatible(item)
		}
		return out
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
