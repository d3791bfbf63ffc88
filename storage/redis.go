package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/graph-engine/types"
)

const (
	graphPrefix = "graph:"
	runPrefix   = "run:"
)

// RedisStorage is a Redis-backed GraphStore and RunStore.
// Each graph and run is one JSON value; a run carries its full log.
type RedisStorage[S types.State] struct {
	base
	client    *redis.Client
	keyPrefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	// KeyPrefix is prepended to every key, e.g. "graphengine:".
	KeyPrefix string
}

// NewRedisStorage connects to Redis and pings it before returning.
func NewRedisStorage[S types.State](opts RedisOptions, storeOpts ...Option) (*RedisStorage[S], error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient[S](client, opts.KeyPrefix, storeOpts...), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient[S types.State](client *redis.Client, keyPrefix string, opts ...Option) *RedisStorage[S] {
	return &RedisStorage[S]{
		base:      newBase(opts),
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStorage[S]) key(prefix, id string) string {
	return s.keyPrefix + prefix + id
}

// saveToRedis saves a value to Redis under the given key.
func (s *RedisStorage[S]) saveToRedis(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// getFromRedis retrieves and unmarshals a value from Redis.
func getFromRedis[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// SaveGraph saves a graph to Redis.
func (s *RedisStorage[S]) SaveGraph(ctx context.Context, g types.GraphDefinition) error {
	return s.saveToRedis(ctx, s.key(graphPrefix, g.ID), g)
}

// SaveGraphs saves multiple graphs to Redis using pipelining.
func (s *RedisStorage[S]) SaveGraphs(ctx context.Context, gs []types.GraphDefinition) error {
	return withContextError(ctx, func() error {
		pipe := s.client.Pipeline()
		for _, g := range gs {
			data, err := json.Marshal(g)
			if err != nil {
				return fmt.Errorf("failed to marshal graph %s: %w", g.ID, err)
			}
			pipe.Set(ctx, s.key(graphPrefix, g.ID), data, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for graphs: %w", err)
		}
		return nil
	})
}

// GetGraph retrieves a graph from Redis.
func (s *RedisStorage[S]) GetGraph(ctx context.Context, id string) (types.GraphDefinition, error) {
	return getFromRedis[types.GraphDefinition](ctx, s.client, s.key(graphPrefix, id), ErrGraphNotFound)
}

// CreateRun creates a run for an existing graph.
// SETNX keeps a colliding id from overwriting another run.
func (s *RedisStorage[S]) CreateRun(ctx context.Context, graphID string, initial S) (types.Run[S], error) {
	g, err := s.GetGraph(ctx, graphID)
	if err != nil {
		return types.Run[S]{}, err
	}

	id, err := s.nextRunID()
	if err != nil {
		return types.Run[S]{}, err
	}

	run := newRun(id, g, initial, s.Now())
	data, err := json.Marshal(run)
	if err != nil {
		return types.Run[S]{}, fmt.Errorf("failed to marshal run %s: %w", id, err)
	}

	key := s.key(runPrefix, id)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return types.Run[S]{}, fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	if !ok {
		return types.Run[S]{}, fmt.Errorf("run id %s already exists", id)
	}
	return run, nil
}

// UpdateRun replaces a run in Redis.
func (s *RedisStorage[S]) UpdateRun(ctx context.Context, run types.Run[S]) error {
	return s.saveToRedis(ctx, s.key(runPrefix, run.RunID), run)
}

// GetRun retrieves a run from Redis.
func (s *RedisStorage[S]) GetRun(ctx context.Context, runID string) (types.Run[S], error) {
	return getFromRedis[types.Run[S]](ctx, s.client, s.key(runPrefix, runID), ErrRunNotFound)
}

// Close closes the Redis client connection.
func (s *RedisStorage[S]) Close() error {
	return s.client.Close()
}
