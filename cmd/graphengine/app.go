package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/graph-engine/config"
	"github.com/songzhibin97/graph-engine/metrics"
	"github.com/songzhibin97/graph-engine/review"
	"github.com/songzhibin97/graph-engine/storage"
	"github.com/songzhibin97/graph-engine/workflow"
)

// idEpoch is the snowflake start time for run ids.
var idEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// reviewStore is a store for the review state.
type reviewStore interface {
	storage.GraphStore
	storage.RunStore[review.State]
}

// app is the wired service.
type app struct {
	engine   *workflow.Engine[review.State]
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []func() error
}

func newStore(cfg *config.Config, logger *slog.Logger) (reviewStore, func() error, error) {
	gen := generator.NewSnowflake(idEpoch, cfg.Engine.MachineID)

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		r := cfg.Storage.Redis
		store, err := storage.NewRedisStorage[review.State](storage.RedisOptions{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			PoolSize:     r.PoolSize,
			MinIdleConns: r.MinIdleConns,
			IdleTimeout:  r.IdleTimeout,
			KeyPrefix:    r.KeyPrefix,
		}, storage.WithGenerator(gen))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis storage", "addr", r.Addr, "db", r.DB)
		return store, store.Close, nil
	default:
		logger.Info("using memory storage")
		return storage.NewMemoryStorage[review.State](storage.WithGenerator(gen)), func() error { return nil }, nil
	}
}

// newApp builds the engine from cfg and loads the default graph plus every
// graph file named in cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{closers: []func() error{closeStore}}

	reg := workflow.NewRegistry[review.State]()
	if err := review.Register(reg); err != nil {
		a.close()
		return nil, err
	}

	engine, err := workflow.NewEngine[review.State](store, store, reg,
		workflow.WithMaxIterations(cfg.Engine.MaxIterations),
		workflow.WithLogger(logger),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	a.closers = append([]func() error{func() error { return engine.Stop(context.Background()) }}, a.closers...)

	graphs, err := config.LoadGraphs(cfg.Graphs)
	if err != nil {
		a.close()
		return nil, err
	}
	graphs = append(graphs, review.DefaultGraph())
	if err := engine.CreateGraphs(ctx, graphs); err != nil {
		a.close()
		return nil, fmt.Errorf("load graphs: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.InitMetrics(a.registry)
	a.metrics.Subscribe(engine)
	return a, nil
}

func (a *app) close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
