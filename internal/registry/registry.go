// Package registry maps step names from the pipeline definition to their
// implementations.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrStepNotFound is returned by Get for names with no registered step.
var ErrStepNotFound = eris.New("registry: step not found")

// Step is one executable pipeline unit. Execute returns a JSON-serializable
// result map; a returned error marks the step failed without aborting the
// surrounding run.
type Step interface {
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// StepFunc adapts a plain function to the Step interface.
type StepFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Execute implements Step.
func (f StepFunc) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f(ctx, args)
}

// Registry holds the named steps available to the executor. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

// Register binds name to step. Re-registering a name replaces the previous
// binding.
func (r *Registry) Register(name string, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[name]; exists {
		zap.L().Warn("registry: replacing registered step", zap.String("step", name))
	}
	r.steps[name] = step
}

// Get returns the step registered under name.
func (r *Registry) Get(name string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	step, ok := r.steps[name]
	if !ok {
		return nil, eris.Wrapf(ErrStepNotFound, "registry: %q", name)
	}
	return step, nil
}

// ListSteps returns the registered step names, sorted.
func (r *Registry) ListSteps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
