package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when a name has no catalog entry.
var ErrUnknownAction = errors.New("unknown action")

// Invocation carries everything a handler needs to execute one action.
type Invocation struct {
	UserID     string
	ActionName string
	DecisionID string
	Params     map[string]any
}

// Result is what a handler reports back after executing.
type Result struct {
	Summary string
	TaskID  string // set when the action created or touched an observable task
}

// Handler executes one action type.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// Registry maps action names to definitions and handlers. Dispatch is by
// typed lookup; Validate at startup guarantees every definition has exactly
// one handler, so a missing handler is a boot failure, not a runtime one.
type Registry struct {
	defs     map[string]Definition
	handlers map[string]Handler
}

// NewRegistry creates a registry pre-loaded with the given definitions.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:     make(map[string]Definition, len(defs)),
		handlers: make(map[string]Handler),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("definition with empty name")
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate action definition %q", d.Name)
		}
		if d.MinTier < 1 || d.MinTier > 5 {
			return nil, fmt.Errorf("action %q: min tier %d out of range 1-5", d.Name, d.MinTier)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// Register binds a handler to an action name. The name must exist in the
// catalog and must not already have a handler.
func (r *Registry) Register(name string, h Handler) error {
	if _, ok := r.defs[name]; !ok {
		return fmt.Errorf("register %q: %w", name, ErrUnknownAction)
	}
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("register %q: handler already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Definition returns the catalog entry for a name.
func (r *Registry) Definition(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Handler returns the handler for a name.
func (r *Registry) Handler(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Definitions returns all catalog entries.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Validate checks catalog integrity: every definition has a handler, and
// every compensation reference resolves to another catalog entry.
func (r *Registry) Validate() error {
	for name, d := range r.defs {
		if _, ok := r.handlers[name]; !ok {
			return fmt.Errorf("action %q has no registered handler", name)
		}
		if d.Compensation != "" {
			if _, ok := r.defs[d.Compensation]; !ok {
				return fmt.Errorf("action %q: compensation %q not in catalog", name, d.Compensation)
			}
		}
	}
	return nil
}
