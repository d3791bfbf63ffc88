package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/graph-engine/types"
)

// Errors
var (
	ErrGraphNotFound = fmt.Errorf("graph %w", types.ErrNotFound)
	ErrRunNotFound   = fmt.Errorf("run %w", types.ErrNotFound)
)

// GraphStore persists graph definitions keyed by id.
type GraphStore interface {
	// SaveGraph upserts a graph definition under its id.
	SaveGraph(ctx context.Context, g types.GraphDefinition) error

	// GetGraph retrieves a graph by id.
	GetGraph(ctx context.Context, id string) (types.GraphDefinition, error)
}

// GraphBatchStore is a GraphStore that can save many graphs in one round trip.
type GraphBatchStore interface {
	GraphStore
	SaveGraphs(ctx context.Context, gs []types.GraphDefinition) error
}

// RunStore persists runs keyed by run id.
type RunStore[S types.State] interface {
	// CreateRun allocates a run positioned on the graph's start node.
	CreateRun(ctx context.Context, graphID string, initial S) (types.Run[S], error)

	// UpdateRun replaces the stored run.
	UpdateRun(ctx context.Context, run types.Run[S]) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, runID string) (types.Run[S], error)

	// Now is the clock used for log timestamps.
	Now() time.Time
}

// Option configures the shared parts of a store.
type Option func(*base)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithGenerator sets the run id generator.
func WithGenerator(gen generator.Generator) Option {
	return func(b *base) {
		if gen != nil {
			b.ids = gen
		}
	}
}

// base holds the id source and clock shared by every store.
type base struct {
	ids generator.Generator
	now func() time.Time
}

func newBase(opts []Option) base {
	b := base{now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	if b.ids == nil {
		b.ids = generator.NewSnowflake(time.Now().Add(-time.Second), 1)
	}
	return b
}

// Now returns the store's clock reading.
func (b *base) Now() time.Time {
	return b.now()
}

func (b *base) nextRunID() (string, error) {
	id, err := b.ids.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return strconv.FormatUint(id, 10), nil
}

func newRun[S types.State](id string, g types.GraphDefinition, initial S, now time.Time) types.Run[S] {
	return types.Run[S]{
		RunID:       id,
		GraphID:     g.ID,
		CurrentNode: g.StartNode,
		State:       initial,
		Log:         []types.LogEntry[S]{},
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}
}

// clone returns a deep copy so stored values never alias caller values.
func clone[T any](v T) T {
	return types.DeepCopy(v)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
