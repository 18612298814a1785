package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one registered capability. Terminal tools end the loop; their Run
// is never invoked.
type Tool struct {
	Def      ToolDef
	Terminal bool
	Run      func(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry is the fixed, named set of capabilities exposed to the loop.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Def.Name]; !exists {
		r.order = append(r.order, t.Def.Name)
	}
	r.tools[t.Def.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns tool definitions in registration order for the model prompt.
func (r *Registry) Defs() []ToolDef {
	defs := make([]ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Def)
	}
	return defs
}

// Execute runs a non-terminal tool and returns its string result.
func (r *Registry) Execute(ctx context.Context, call ToolCall) (string, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	if t.Terminal {
		return "", fmt.Errorf("terminal tool %q cannot be executed", call.Name)
	}
	return t.Run(ctx, call.Arguments)
}

func schema(s string) json.RawMessage { return json.RawMessage(s) }
