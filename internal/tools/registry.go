// Package tools holds the worker's tool registry and the built-in tools.
// A tool is a named handler that receives the decoded args of a tool:run
// and returns a JSON-encodable payload.
package tools

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Permission gates a class of side effects.
type Permission string

const (
	PermNone    Permission = ""
	PermShell   Permission = "shell"
	PermFS      Permission = "fs"
	PermNetwork Permission = "network"
	PermProcess Permission = "process"
	PermGit     Permission = "git"
)

// Call is one invocation of a tool.
type Call struct {
	RequestID      string
	ConversationID string
	Args           map[string]any
}

// Handler executes a tool. A returned error becomes an ok:false result.
type Handler func(ctx context.Context, call Call) (any, error)

// Tool is a registered tool.
type Tool struct {
	Name        string
	Description string
	Permission  Permission
	Handler     Handler
}

// Descriptor is the public description of a tool.
type Descriptor struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Permission  Permission `json:"permission,omitempty"`
}

// Registry maps tool names to tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("register tool: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: handler is required", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("register tool %s: already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers every tool and panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List describes every registered tool, sorted by name.
func (r *Registry) List() []Descriptor {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, Permission: t.Permission})
	}
	return out
}

// Permissions records which permission classes are enabled. A permission
// missing from the map is denied; PermNone is always allowed.
type Permissions map[Permission]bool

// AllPermissions enables every permission class.
func AllPermissions() Permissions {
	return Permissions{
		PermShell:   true,
		PermFS:      true,
		PermNetwork: true,
		PermProcess: true,
		PermGit:     true,
	}
}

// Allows reports whether p is enabled.
func (p Permissions) Allows(perm Permission) bool {
	if perm == PermNone {
		return true
	}
	return p[perm]
}

// DeniedError is returned for a tool whose permission is disabled.
type DeniedError struct {
	Permission Permission
}

func (e *DeniedError) Error() string {
	return "permission denied: " + string(e.Permission)
}
