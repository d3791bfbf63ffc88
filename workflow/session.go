package workflow

import (
	"context"
	"sync"

	"github.com/songzhibin97/graph-engine/types"
)

// Resumable is a state whose iteration counter can be seeded, so that a
// sequence of runs can continue counting where the previous one stopped.
type Resumable[S any] interface {
	types.State
	WithIteration(n int) S
}

// Session submits successive runs of one graph and carries the iteration
// counter from each finished run into the next submission. It is the
// long-lived counterpart of a connection; Runs stay independent records.
type Session[S Resumable[S]] struct {
	engine  *Engine[S]
	graphID string

	mu        sync.Mutex
	iteration int
	runIDs    []string
}

// NewSession starts an empty session against graphID.
func NewSession[S Resumable[S]](engine *Engine[S], graphID string) *Session[S] {
	return &Session[S]{engine: engine, graphID: graphID}
}

// Submit runs the graph with state, overriding its iteration counter with
// the session's. On error the session counter is left unchanged.
func (s *Session[S]) Submit(ctx context.Context, state S) (types.Run[S], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.engine.StartRun(ctx, s.graphID, state.WithIteration(s.iteration))
	if err != nil {
		return run, err
	}
	s.iteration = run.State.Iteration()
	s.runIDs = append(s.runIDs, run.RunID)
	return run, nil
}

// GraphID returns the graph this session runs.
func (s *Session[S]) GraphID() string {
	return s.graphID
}

// Iteration returns the counter the next submission starts from.
func (s *Session[S]) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// RunIDs returns the ids of the runs submitted so far, oldest first.
func (s *Session[S]) RunIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.runIDs...)
}
