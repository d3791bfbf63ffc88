package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/songzhibin97/graph-engine/events"
	"github.com/songzhibin97/graph-engine/rules"
	"github.com/songzhibin97/graph-engine/storage"
	"github.com/songzhibin97/graph-engine/types"
)

// Standard error definitions
var (
	ErrOperationNotFound = fmt.Errorf("operation %w", types.ErrNotFound)
	ErrNodeNotFound      = fmt.Errorf("%w: node not found", types.ErrInvalidGraph)
)

// DefaultMaxIterations bounds the state iteration counter of a run.
const DefaultMaxIterations = 20

// Engine executes graphs against a single canonical state type S.
type Engine[S types.State] struct {
	graphs        storage.GraphStore
	runs          storage.RunStore[S]
	registry      *Registry[S]
	evaluator     rules.Evaluator
	eventBus      *events.EventBus
	ownsBus       bool
	logger        *slog.Logger
	maxIterations int
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	evaluator     rules.Evaluator
	eventBus      *events.EventBus
	logger        *slog.Logger
	maxIterations int
}

// WithMaxIterations sets the iteration guard. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithEvaluator replaces the branch comparison evaluator.
func WithEvaluator(evaluator rules.Evaluator) Option {
	return func(o *options) {
		if evaluator != nil {
			o.evaluator = evaluator
		}
	}
}

// WithEventBus shares an existing bus; the engine will not stop it.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *options) {
		o.eventBus = bus
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewEngine wires an engine to its stores and operation registry.
func NewEngine[S types.State](graphs storage.GraphStore, runs storage.RunStore[S], registry *Registry[S], opts ...Option) (*Engine[S], error) {
	if graphs == nil || runs == nil {
		return nil, errors.New("graph store and run store are required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if err := types.CheckCopyable[S](); err != nil {
		return nil, err
	}

	o := options{
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.evaluator == nil {
		o.evaluator = rules.NewExprEvaluator()
	}

	e := &Engine[S]{
		graphs:        graphs,
		runs:          runs,
		registry:      registry,
		evaluator:     o.evaluator,
		eventBus:      o.eventBus,
		logger:        o.logger,
		maxIterations: o.maxIterations,
	}
	if e.eventBus == nil {
		e.eventBus = events.NewEventBus(events.WithLogger(o.logger))
		e.ownsBus = true
	}
	return e, nil
}

// MaxIterations returns the configured iteration guard.
func (e *Engine[S]) MaxIterations() int {
	return e.maxIterations
}

// Registry returns the engine's operation registry.
func (e *Engine[S]) Registry() *Registry[S] {
	return e.registry
}

// SubscribeEvent subscribes an event handler to a specific event type.
func (e *Engine[S]) SubscribeEvent(eventType string, handler events.EventHandler) {
	e.eventBus.Subscribe(eventType, handler)
}

// CreateGraph validates and stores a graph, replacing any graph with the same id.
func (e *Engine[S]) CreateGraph(ctx context.Context, g types.GraphDefinition) error {
	g = NormalizeGraph(g)
	if err := ValidateGraph(g); err != nil {
		return err
	}
	if err := e.graphs.SaveGraph(ctx, g); err != nil {
		return fmt.Errorf("failed to save graph %s: %w", g.ID, err)
	}
	e.logger.Info("graph saved", "graph_id", g.ID, "nodes", len(g.Nodes))
	return nil
}

// CreateGraphs validates every graph before saving any of them. Stores that
// implement storage.GraphBatchStore save the whole set in one call.
func (e *Engine[S]) CreateGraphs(ctx context.Context, gs []types.GraphDefinition) error {
	normalized := make([]types.GraphDefinition, 0, len(gs))
	for _, g := range gs {
		g = NormalizeGraph(g)
		if err := ValidateGraph(g); err != nil {
			return fmt.Errorf("graph %q: %w", g.ID, err)
		}
		normalized = append(normalized, g)
	}

	if batch, ok := e.graphs.(storage.GraphBatchStore); ok {
		if err := batch.SaveGraphs(ctx, normalized); err != nil {
			return fmt.Errorf("failed to save graphs: %w", err)
		}
	} else {
		for _, g := range normalized {
			if err := e.graphs.SaveGraph(ctx, g); err != nil {
				return fmt.Errorf("failed to save graph %s: %w", g.ID, err)
			}
		}
	}
	for _, g := range normalized {
		e.logger.Info("graph saved", "graph_id", g.ID, "nodes", len(g.Nodes))
	}
	return nil
}

// GetGraph retrieves a graph by id.
func (e *Engine[S]) GetGraph(ctx context.Context, graphID string) (types.GraphDefinition, error) {
	return e.graphs.GetGraph(ctx, graphID)
}

// GetRun retrieves a run by id.
func (e *Engine[S]) GetRun(ctx context.Context, runID string) (types.Run[S], error) {
	return e.runs.GetRun(ctx, runID)
}

// StartRun traverses graphID from its start node with the given state.
//
// The loop stops when a node has no successor, or before executing a node
// once the state's iteration counter reaches the guard. Both are successful
// terminations with Finished set. Any error aborts the traversal without
// persisting it; the partial run is returned alongside the error.
func (e *Engine[S]) StartRun(ctx context.Context, graphID string, initial S) (types.Run[S], error) {
	select {
	case <-ctx.Done():
		return types.Run[S]{}, ctx.Err()
	default:
	}

	graph, err := e.graphs.GetGraph(ctx, graphID)
	if err != nil {
		return types.Run[S]{}, err
	}

	run, err := e.runs.CreateRun(ctx, graphID, initial)
	if err != nil {
		return types.Run[S]{}, err
	}

	logger := e.logger.With("run_id", run.RunID, "graph_id", graphID)
	logger.Debug("run started", "start_node", run.CurrentNode)
	e.publishEvent(ctx, events.Event{Type: events.RunStarted, RunID: run.RunID, GraphID: graphID, Node: run.CurrentNode})

	if err := e.traverse(ctx, graph, &run, logger); err != nil {
		logger.Error("run failed", "node", run.CurrentNode, "error", err)
		e.publishFinal(ctx, events.Event{
			Type:    events.RunFailed,
			RunID:   run.RunID,
			GraphID: graphID,
			Node:    run.CurrentNode,
			Data:    map[string]interface{}{"error": err.Error()},
		})
		return run, err
	}

	run.UpdatedAt = e.runs.Now().UnixMilli()
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}

	logger.Info("run finished",
		"finished", run.Finished,
		"current_node", run.CurrentNode,
		"steps", len(run.Log),
		"iteration", run.State.Iteration(),
	)
	e.publishFinal(ctx, events.Event{
		Type:    events.RunFinished,
		RunID:   run.RunID,
		GraphID: graphID,
		Node:    run.CurrentNode,
		Data: map[string]interface{}{
			"steps":      len(run.Log),
			"guard_trip": run.CurrentNode != "",
			"iteration":  run.State.Iteration(),
		},
	})
	return run, nil
}

// traverse is the execution loop. graph is the definition captured when the
// run started; later overwrites in the store do not affect it.
func (e *Engine[S]) traverse(ctx context.Context, graph types.GraphDefinition, run *types.Run[S], logger *slog.Logger) error {
	for run.CurrentNode != "" && !run.Finished {
		if run.State.Iteration() >= e.maxIterations {
			logger.Warn("iteration guard reached", "node", run.CurrentNode, "max_iterations", e.maxIterations)
			run.Finished = true
			break
		}

		node, ok := graph.Nodes[run.CurrentNode]
		if !ok {
			return fmt.Errorf("%w: %q in graph %s", ErrNodeNotFound, run.CurrentNode, graph.ID)
		}

		op, err := e.registry.Resolve(node.Operation)
		if err != nil {
			return err
		}

		started := time.Now()
		state, err := op(ctx, run.State)
		if err != nil {
			return fmt.Errorf("operation %s at node %s: %w", node.Operation, node.Name, err)
		}
		run.State = state

		run.Log = append(run.Log, types.LogEntry[S]{
			Node:          node.Name,
			Timestamp:     e.timestamp(run.Log),
			StateSnapshot: snapshot(run.State),
		})

		next, err := decideNext(e.evaluator, node, run.State)
		if err != nil {
			return err
		}

		logger.Debug("node executed", "node", node.Name, "next", next, "iteration", run.State.Iteration())
		e.publishEvent(ctx, events.Event{
			Type:    events.NodeExecuted,
			RunID:   run.RunID,
			GraphID: graph.ID,
			Node:    node.Name,
			Data:    map[string]interface{}{"duration": time.Since(started), "next": next},
		})

		run.CurrentNode = next
		if next == "" {
			run.Finished = true
		}
	}
	return nil
}

// timestamp reads the store clock, never going back past the previous entry.
func (e *Engine[S]) timestamp(log []types.LogEntry[S]) time.Time {
	now := e.runs.Now()
	if n := len(log); n > 0 && now.Before(log[n-1].Timestamp) {
		return log[n-1].Timestamp
	}
	return now
}

// snapshot deep-copies a state so later mutation cannot reach the log.
func snapshot[S types.State](state S) S {
	return types.DeepCopy(state)
}

// publishEvent queues an event; nobody listening is not an error.
func (e *Engine[S]) publishEvent(ctx context.Context, event events.Event) {
	err := e.eventBus.Publish(ctx, event)
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Warn("event dropped", "type", event.Type, "run_id", event.RunID, "error", err)
	}
}

// publishFinal delivers a terminal run event before StartRun returns, so a
// Stop right after the run cannot discard it.
func (e *Engine[S]) publishFinal(ctx context.Context, event events.Event) {
	for _, err := range e.eventBus.PublishSync(ctx, event) {
		if errors.Is(err, events.ErrNoHandler) {
			continue
		}
		e.logger.Warn("event handler failed", "type", event.Type, "run_id", event.RunID, "error", err)
	}
}

// Stop stops the engine's event bus if the engine created it.
func (e *Engine[S]) Stop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if e.ownsBus {
			e.eventBus.Stop()
		}
		return nil
	}
}
