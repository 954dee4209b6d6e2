// Package tools holds the pluggable tool registry and the dispatcher that
// executes model-requested tool calls against it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/verify"
	"github.com/xeipuuv/gojsonschema"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler executes a tool call. Failures are returned as errors; the
// dispatcher converts them into failure results, never into aborted runs.
type Handler func(ctx context.Context, args agent.Value, tctx *Context) (agent.Value, error)

// Definition is a registered tool: its schema, its classification for
// verification, and its handler.
type Definition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []Parameter       `json:"parameters"`
	ReadOnly    bool              `json:"read_only"`
	Kind        verify.ActionKind `json:"kind,omitempty"`
	Handler     Handler           `json:"-"`
}

// Context carries per-dispatch runtime information into tool handlers and
// the dispatcher. It replaces process-wide "current model"/"verbose" flags
// with explicit fields; the verification fields are the run's options, so
// one gate can serve runs with different verification settings.
type Context struct {
	Messages  []agent.Message
	Model     string
	Settings  agent.Settings
	SessionID string
	Turn      int
	Verbose   bool

	// Verify enables the verification gate for this run's mutating calls.
	Verify bool
	// MaxVerifyTries overrides the gate's retry bound when positive.
	MaxVerifyTries int
}

// Registry holds registered tools. Parameter schemas are compiled at
// registration so dispatch-time validation is cheap.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool. Registering a duplicate name or a definition without
// a handler is an error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}

	schemaDoc := parameterSchema(def.Parameters)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaDoc))
	if err != nil {
		return fmt.Errorf("tool %q has invalid parameter schema: %w", def.Name, err)
	}

	r.defs[def.Name] = &def
	r.schemas[def.Name] = schema
	r.logger.Debug().Str("tool", def.Name).Bool("read_only", def.ReadOnly).Msg("Tool registered")
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas renders every tool as a provider-facing schema, sorted by name so
// requests are deterministic.
func (r *Registry) Schemas() []agent.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]agent.ToolSchema, 0, len(names))
	for _, name := range names {
		def := r.defs[name]
		raw, err := json.Marshal(parameterSchema(def.Parameters))
		if err != nil {
			continue
		}
		schemas = append(schemas, agent.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  raw,
		})
	}
	return schemas
}

// Validate checks arguments against the tool's compiled schema.
func (r *Registry) Validate(name string, args agent.Value) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args.ToAny()))
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("invalid arguments for %q: %v", name, messages)
	}
	return nil
}

// parameterSchema builds the JSON schema object for a parameter list.
func parameterSchema(params []Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}
