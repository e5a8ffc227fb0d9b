// Package tool provides the registry of externally-defined tools a realtime
// session can offer to the model, together with the dispatcher that
// validates and executes tool calls.
//
// Tools are declared with a name, a description, and a flat parameter schema
// (name → type/description/required). Validation happens once, at the
// registry boundary: handlers receive argument payloads that are known to be
// well-formed JSON with all required fields present and correctly typed.
//
// Dispatch failures are data, not crashes: an unknown tool, a malformed
// payload or a handler error is reported back to the model as an error
// result and never tears down the session.
//
// All exported types are safe for concurrent use.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownTool is returned by [Registry.Dispatch] when no tool with the
// requested name is registered. No handler is invoked in that case.
var ErrUnknownTool = errors.New("tool: unknown tool")

// InvalidArgumentsError reports a tool-call payload that failed schema
// validation. Fields lists the offending parameters.
type InvalidArgumentsError struct {
	Tool   string
	Fields []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("tool: invalid arguments for %q: %s", e.Tool, strings.Join(e.Fields, ", "))
}

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	// Type is a JSON Schema primitive type: "string", "number", "integer",
	// "boolean", "object" or "array".
	Type string

	// Description explains the parameter to the model.
	Description string

	// Required marks the parameter as mandatory.
	Required bool
}

// Definition is the model-facing declaration of a tool. Tool names are
// unique within a [Registry]; re-registration overwrites.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
}

// Schema renders the definition's parameters in JSON Schema object form, the
// shape realtime channels declare tools in.
func (d Definition) Schema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	var required []string
	for name, p := range d.Parameters {
		properties[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Handler executes a tool with a validated JSON argument payload and returns
// a JSON-encoded result string, or an error to be reported to the model.
// Handlers may perform network I/O; the session runs them on their own
// goroutine so a slow handler never stalls audio forwarding. Implementations
// must be safe for concurrent use and must respect context cancellation.
type Handler func(ctx context.Context, args string) (string, error)

// Tool pairs a definition with its handler, ready for registration.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Call is one tool invocation request. CallID correlates the result with the
// request upstream; a retried call from upstream arrives with a new id and
// is treated as a new call.
type Call struct {
	Name      string
	Arguments string
	CallID    string
}

// Registry maps tool names to their definitions and handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = t
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch looks up the tool named by call, validates the argument payload
// against its schema and invokes the handler.
//
// Returns [ErrUnknownTool] if the name is unregistered (no handler runs), an
// [*InvalidArgumentsError] naming the missing or mistyped fields, or the
// handler's own result or error.
func (r *Registry) Dispatch(ctx context.Context, call Call) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	if err := validate(t.Definition, call.Arguments); err != nil {
		return "", err
	}
	return t.Handler(ctx, call.Arguments)
}

// validate checks args against the definition's parameter schema.
func validate(def Definition, args string) error {
	payload := map[string]any{}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &payload); err != nil {
			return &InvalidArgumentsError{Tool: def.Name, Fields: []string{"(payload is not a JSON object)"}}
		}
	}

	var bad []string
	for name, spec := range def.Parameters {
		v, present := payload[name]
		if !present {
			if spec.Required {
				bad = append(bad, name+" (missing)")
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			bad = append(bad, fmt.Sprintf("%s (expected %s)", name, spec.Type))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &InvalidArgumentsError{Tool: def.Name, Fields: bad}
	}
	return nil
}

// typeMatches reports whether v conforms to the JSON Schema primitive type t.
func typeMatches(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		// Unknown declared types are not enforced.
		return true
	}
}
