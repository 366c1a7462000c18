package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"parley/pkg/api"
)

// Registry acts as a central inventory for all tools available to the agent.
// Implements api.ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]api.Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]api.Tool),
	}
}

// Register adds a tool to the registry. Names are matched case-insensitively.
func (r *Registry) Register(tool api.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(tool.Name())] = tool
}

// Unregister removes a tool from the registry
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, strings.ToLower(name))
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (api.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[strings.ToLower(name)]
	return tool, ok
}

// GetAll returns all registered tools sorted by name.
func (r *Registry) GetAll() []api.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]api.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Describe renders the registered tools as prompt text so the model knows
// which names and parameters the [tool:...] tag accepts.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, tool := range r.GetAll() {
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), tool.Description())
		for _, p := range tool.Parameters() {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return sb.String()
}

// ValidateParams checks an argument bag against a tool's parameter specs:
// required parameters must be present, and values must be coercible to the
// declared type. Inline tag parameters always arrive as strings, so numeric
// and boolean strings are accepted and converted in place.
func ValidateParams(specs []api.ParamSpec, params map[string]any) error {
	for _, spec := range specs {
		v, ok := params[spec.Name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", spec.Name)
			}
			continue
		}

		switch spec.Type {
		case "number":
			switch val := v.(type) {
			case float64, int:
				// already numeric
			case string:
				f, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return fmt.Errorf("parameter %q: expected number, got %q", spec.Name, val)
				}
				params[spec.Name] = f
			default:
				return fmt.Errorf("parameter %q: expected number, got %T", spec.Name, v)
			}
		case "bool":
			switch val := v.(type) {
			case bool:
			case string:
				b, err := strconv.ParseBool(val)
				if err != nil {
					return fmt.Errorf("parameter %q: expected bool, got %q", spec.Name, val)
				}
				params[spec.Name] = b
			default:
				return fmt.Errorf("parameter %q: expected bool, got %T", spec.Name, v)
			}
		default: // "string" and anything unspecified
			if _, ok := v.(string); !ok {
				params[spec.Name] = fmt.Sprintf("%v", v)
			}
		}
	}
	return nil
}
