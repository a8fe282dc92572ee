// Package tools implements the Tool Registry (SPEC_FULL.md §4.4): a mapping
// from tool name to a descriptor and an execute entry point, with JSON Schema
// parameter validation.
//
// Grounded on
// _examples/goadesign-goa-ai/runtime/agent/tools/tools.go's ToolSpec/ID
// concepts, simplified to a hand-populated (non-codegen) registry, and on
// santhosh-tekuri/jsonschema/v6 for schema validation — a teacher dependency
// previously exercised only by Goa-generated payload validation.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Result is the outcome of a tool execution. It is a sum type: exactly the
// populated fields are meaningful. Error is a non-fatal observation unless
// the tool is declared Special (SPEC_FULL.md §4.4).
type Result struct {
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	System      string `json:"system,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`

	// OutputFiles lists paths the tool produced, used by the ReAct agent's
	// image-routing heuristic (SPEC_FULL.md §4.5) and by summarization
	// eligibility (§4.9).
	OutputFiles []string `json:"output_files,omitempty"`
	// CSVFilename is set by data-source-style tools; summarization treats
	// it as a "real result" marker (§4.9).
	CSVFilename string `json:"csv_filename,omitempty"`
}

// String renders the result the way the agent formats a tool observation:
// the Error text when it is set, otherwise the JSON encoding of the whole
// Result (falling back to Output if encoding fails).
func (r Result) String() string {
	if r.Error != "" {
		return r.Error
	}
	b, err := json.Marshal(r)
	if err != nil {
		return r.Output
	}
	return string(b)
}

// Descriptor describes a registered tool.
type Descriptor struct {
	Name            string
	Description     string
	ParameterSchema map[string]any
	// Special marks a tool whose successful execution causes the owning
	// agent to finish the step (SPEC_FULL.md §4.4).
	Special bool
	// PreserveOnSummarize marks a tool whose results must survive
	// conversation summarization, generalizing the python_execute/
	// datasource special-casing (SPEC_FULL.md §9 Open Question 3).
	PreserveOnSummarize bool
}

// Executor performs a tool's work given its parsed argument object.
type Executor func(ctx context.Context, args map[string]any) (Result, error)

type registered struct {
	Descriptor
	exec   Executor
	schema *jsonschema.Schema
}

// Registry is the uniform invocation surface for every tool available to an
// agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds a tool, compiling its parameter schema up front so
// malformed schemas fail at startup rather than at first invocation.
func (r *Registry) Register(d Descriptor, exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var compiled *jsonschema.Schema
	if d.ParameterSchema != nil {
		raw, err := json.Marshal(d.ParameterSchema)
		if err != nil {
			return fmt.Errorf("tools: marshal schema for %q: %w", d.Name, err)
		}
		schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("tools: unmarshal schema for %q: %w", d.Name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(d.Name, schemaDoc); err != nil {
			return fmt.Errorf("tools: add schema resource for %q: %w", d.Name, err)
		}
		compiled, err = c.Compile(d.Name)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", d.Name, err)
		}
	}

	r.tools[d.Name] = &registered{Descriptor: d, exec: exec, schema: compiled}
	return nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// IsSpecial reports whether name is a registered special tool.
func (r *Registry) IsSpecial(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return ok && t.Special
}

// PreservesOnSummarize reports whether name's results must survive
// summarization.
func (r *Registry) PreservesOnSummarize(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return ok && t.PreserveOnSummarize
}

// Definitions returns every registered descriptor, sorted by name for
// deterministic prompt construction.
func (r *Registry) Definitions() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates arguments against the tool's schema (when present) and
// dispatches to its Executor. Unknown tool names and schema violations are
// returned as errors; callers (the ReAct agent) convert these into
// observation strings per SPEC_FULL.md §4.4/§4.5.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown tool %q", name)
	}
	if t.schema != nil {
		if err := t.schema.Validate(args); err != nil {
			return Result{}, fmt.Errorf("invalid arguments for %q: %w", name, err)
		}
	}
	return t.exec(ctx, args)
}
