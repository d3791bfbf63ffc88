package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/graph-engine/types"
)

// MemoryStorage is an in-memory GraphStore and RunStore.
// Values are deep-copied on the way in and out.
type MemoryStorage[S types.State] struct {
	base
	graphs map[string]types.GraphDefinition
	runs   map[string]types.Run[S]
	mu     sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage[S types.State](opts ...Option) *MemoryStorage[S] {
	return &MemoryStorage[S]{
		base:   newBase(opts),
		graphs: make(map[string]types.GraphDefinition),
		runs:   make(map[string]types.Run[S]),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[string]T, id string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%s", errNotFound, id)
		}
		return clone(item), nil
	})
}

// SaveGraph saves a graph to memory.
func (s *MemoryStorage[S]) SaveGraph(ctx context.Context, g types.GraphDefinition) error {
	return s.SaveGraphs(ctx, []types.GraphDefinition{g})
}

// SaveGraphs saves multiple graphs in a single lock.
func (s *MemoryStorage[S]) SaveGraphs(ctx context.Context, gs []types.GraphDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, g := range gs {
			s.graphs[g.ID] = clone(g)
		}
		return nil
	})
}

// GetGraph retrieves a graph from memory.
func (s *MemoryStorage[S]) GetGraph(ctx context.Context, id string) (types.GraphDefinition, error) {
	return getItem(ctx, &s.mu, s.graphs, id, ErrGraphNotFound)
}

// CreateRun creates and stores a run for a known graph.
func (s *MemoryStorage[S]) CreateRun(ctx context.Context, graphID string, initial S) (types.Run[S], error) {
	return withContext(ctx, func() (types.Run[S], error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		g, ok := s.graphs[graphID]
		if !ok {
			return types.Run[S]{}, fmt.Errorf("%w: id=%s", ErrGraphNotFound, graphID)
		}

		id, err := s.nextRunID()
		if err != nil {
			return types.Run[S]{}, err
		}

		run := newRun(id, g, clone(initial), s.Now())
		s.runs[id] = clone(run)
		return run, nil
	})
}

// UpdateRun replaces a stored run.
func (s *MemoryStorage[S]) UpdateRun(ctx context.Context, run types.Run[S]) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runs[run.RunID] = clone(run)
		return nil
	})
}

// GetRun retrieves a run from memory.
func (s *MemoryStorage[S]) GetRun(ctx context.Context, runID string) (types.Run[S], error) {
	return getItem(ctx, &s.mu, s.runs, runID, ErrRunNotFound)
}
