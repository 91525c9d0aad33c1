// Package tools resolves model tool calls against local state and sends the
// results back to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Result is what a tool invocation reports back to the model.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Undo restores the state a tool invocation changed.
type Undo func()

func noUndo() {}

// Handler is the interface for all tools
type Handler interface {
	Name() string
	Description() string
	// Run executes the tool. A non-nil error means the arguments could not
	// be used; a Result with Success false means the tool ran and failed.
	Run(ctx context.Context, args json.RawMessage) (Result, Undo, error)
}

// Registry holds all registered handlers
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler to the registry
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Get returns a handler by name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---- Helper Functions ----

// ParseBoolArg decodes a boolean argument that may arrive as a JSON bool or
// as one of the strings true/false/on/off.
func ParseBoolArg(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("expected boolean, got %s", string(raw))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on":
		return true, nil
	case "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected boolean, got %q", s)
}

// ParseNumberArg decodes a numeric argument that may arrive as a JSON
// number or a numeric string.
func ParseNumberArg(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected number, got %s", string(raw))
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", s)
	}
	return f, nil
}

// decodeArgs splits a JSON object into its raw fields and checks that every
// required field is present.
func decodeArgs(args json.RawMessage, required ...string) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(args))) > 0 {
		if err := json.Unmarshal(args, &fields); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return nil, fmt.Errorf("missing %q", key)
		}
	}
	return fields, nil
}
