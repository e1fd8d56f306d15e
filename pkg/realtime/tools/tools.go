// Package tools registers caller-side tools and executes the agent's tool
// calls against them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vango-go/vai-realtime/pkg/core"
)

// Failure reasons reported back to the agent. Handler error text is never
// forwarded.
const (
	ReasonUnknownTool      = "unknown tool"
	ReasonExecutionFailed  = "tool execution failed"
	ReasonTimedOut         = "tool execution timed out"
	ReasonInvalidArguments = "invalid tool arguments"
)

// ErrInvalidArguments is returned by handlers that cannot decode their input.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Handler executes one tool call.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes a tool to the agent.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Call is a tool invocation requested by the agent.
type Call struct {
	CallID     string
	Name       string
	Arguments  json.RawMessage
	ResponseID string
}

// Result is the outcome of one call. Exactly one of Payload or Failure is
// meaningful.
type Result struct {
	CallID  string
	Name    string
	Payload any
	Failure string
}

func (r Result) Failed() bool { return r.Failure != "" }

// Output renders the result as the JSON document sent back to the agent.
func (r Result) Output() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(map[string]string{"error": r.Failure})
	}
	if raw, ok := r.Payload.(json.RawMessage); ok && json.Valid(raw) {
		return raw, nil
	}
	if r.Payload == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(r.Payload)
}

type entry struct {
	def     Definition
	handler Handler
}

// Registry maps tool names to handlers. Registration order is kept.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. A duplicate name fails with a tool conflict error and
// the first registration stays active.
func (r *Registry) Register(def Definition, h Handler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return core.NewInvalidRequestError("tool name must not be empty")
	}
	if h == nil {
		return core.NewInvalidRequestError(fmt.Sprintf("tool %q has no handler", name))
	}
	if len(def.Parameters) > 0 && !json.Valid(def.Parameters) {
		return core.NewInvalidRequestError(fmt.Sprintf("tool %q parameters are not valid JSON", name))
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return core.NewToolConflictError(name)
	}
	r.entries[name] = entry{def: def, handler: h}
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.TrimSpace(name)]
	return e.handler, ok
}

// Definitions returns tool descriptors in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Func builds a Definition and a Handler from a typed function. The parameter
// schema is derived from T.
//
// Example:
//
//	def, h := tools.Func("search_products", "Search the catalog",
//	    func(ctx context.Context, in struct {
//	        Query    string `json:"query" desc:"What the user is looking for"`
//	        Category string `json:"category,omitempty"`
//	    }) (any, error) {
//	        return catalog.Search(in.Query, in.Category), nil
//	    })
//	err := registry.Register(def, h)
func Func[T any](name, description string, fn func(ctx context.Context, in T) (any, error)) (Definition, Handler) {
	params, _ := json.Marshal(SchemaFor[T]())
	def := Definition{Name: name, Description: description, Parameters: params}
	h := func(ctx context.Context, args json.RawMessage) (any, error) {
		var in T
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return fn(ctx, in)
	}
	return def, h
}
