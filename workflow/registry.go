package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/graph-engine/types"
)

// Operation transforms the state of a run at one node. It must only touch
// the state it is given and return the state the run continues with.
type Operation[S types.State] func(ctx context.Context, state S) (S, error)

// Registry maps operation names to operations. Registering a name twice
// replaces the earlier operation.
type Registry[S types.State] struct {
	ops map[string]Operation[S]
	mu  sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry[S types.State]() *Registry[S] {
	return &Registry[S]{ops: make(map[string]Operation[S])}
}

// Register stores op under name.
func (r *Registry[S]) Register(name string, op Operation[S]) error {
	if name == "" || op == nil {
		return errors.New("name and operation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
	return nil
}

// Resolve returns the operation registered under name.
func (r *Registry[S]) Resolve(name string) (Operation[S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, name)
	}
	return op, nil
}

// Names returns the registered operation names in sorted order.
func (r *Registry[S]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
