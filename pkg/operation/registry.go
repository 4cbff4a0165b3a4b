package operation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/droverhq/drover/pkg/browser"
	"github.com/droverhq/drover/pkg/types"
)

// Target is what an operation acts on: the container definition plus,
// when a matcher pass has bound it, the live instance
type Target struct {
	Definition *types.ContainerDefinition
	Instance   *types.ContainerInstance
}

// Selector returns the CSS selector to address the target: the
// selector that won the match when an instance exists, the first
// declared selector otherwise
func (t Target) Selector() string {
	if t.Instance != nil && t.Instance.Selector != "" {
		return t.Instance.Selector
	}
	if t.Definition != nil && len(t.Definition.Selectors) > 0 {
		return t.Definition.Selectors[0].CSS
	}
	return ""
}

// NodeRef returns the bound DOM path, or "" when unbound
func (t Target) NodeRef() string {
	if t.Instance != nil {
		return t.Instance.NodeRef
	}
	return ""
}

// RunFunc executes an operation against a browser context. Effects
// must be scoped to the supplied context.
type RunFunc func(ctx context.Context, octx *browser.Context, target Target, config map[string]any) (any, error)

// Definition is a named operation with its capability requirements
type Definition struct {
	ID                   string
	RequiredCapabilities []string
	Run                  RunFunc
}

// Registry holds operation definitions keyed by id
type Registry struct {
	mu      sync.RWMutex
	ops     map[string]*Definition
	builtin bool
}

// NewRegistry creates an isolated registry (tests construct their own;
// production code usually uses Default)
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Definition)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry with builtins installed
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.EnsureBuiltin()
	})
	return defaultRegistry
}

// Register installs a definition. Ids are unique; re-registering an
// existing id is a programmer error.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("operation definition requires an id")
	}
	if def.Run == nil {
		return fmt.Errorf("operation %q has no run function", def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[def.ID]; exists {
		return fmt.Errorf("operation %q already registered", def.ID)
	}
	r.ops[def.ID] = def
	return nil
}

// Get returns a definition by id, or nil
func (r *Registry) Get(id string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops[id]
}

// List returns the registered operation ids, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for id := range r.ops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// EnsureBuiltin installs the built-in operation set. Idempotent.
func (r *Registry) EnsureBuiltin() {
	r.mu.Lock()
	if r.builtin {
		r.mu.Unlock()
		return
	}
	r.builtin = true
	r.mu.Unlock()

	for _, def := range builtinDefinitions() {
		// Ids are namespaced by this package; a collision here means
		// EnsureBuiltin raced a manual Register of a builtin id.
		_ = r.Register(def)
	}
}
