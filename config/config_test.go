package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Engine.MaxIterations)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "graphengine:", cfg.Storage.Redis.KeyPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
version: 1
server:
  addr: ":9090"
engine:
  max_iterations: 5
storage:
  backend: redis
  redis:
    addr: "redis:6379"
    db: 2
    idle_timeout: 30s
log:
  level: debug
  format: json
graphs:
  - graphs/review.yaml
  - /abs/other.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, 30*time.Second, cfg.Storage.Redis.IdleTimeout)
	assert.Equal(t, 10, cfg.Storage.Redis.PoolSize)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{filepath.Join(dir, "graphs/review.yaml"), "/abs/other.yaml"}, cfg.Graphs)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GRAPHENGINE_ADDR", ":7000")
	t.Setenv("GRAPHENGINE_REDIS_ADDR", "cache:6379")
	t.Setenv("GRAPHENGINE_MAX_ITERATIONS", "3")
	t.Setenv("GRAPHENGINE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 3, cfg.Engine.MaxIterations)
	assert.Equal(t, "warn", cfg.Log.Level)

	t.Setenv("GRAPHENGINE_MAX_ITERATIONS", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "v2.yaml", "version: 2\n"))
	assert.ErrorContains(t, err, "unsupported config version")

	_, err = Load(writeFile(t, dir, "backend.yaml", "version: 1\nstorage:\n  backend: etcd\n"))
	assert.ErrorContains(t, err, "unknown storage backend")

	_, err = Load(writeFile(t, dir, "neg.yaml", "version: 1\nengine:\n  max_iterations: -1\n"))
	assert.ErrorContains(t, err, "max_iterations")

	_, err = Load(writeFile(t, dir, "broken.yaml", "version: [\n"))
	assert.Error(t, err)
}

func TestLoadGraphs(t *testing.T) {
	dir := t.TempDir()
	review := writeFile(t, dir, "review.yaml", `
id: review
start_node: extract
nodes:
  extract:
    name: extract
    operation: extract_functions
    next_node: score
  score:
    name: score
    operation: suggest_improvements
    condition_field: quality_score
    condition_op: ">="
    condition_value: 0.8
    next_on_failure: extract
`)
	jsonGraph := writeFile(t, dir, "single.json", `{"id": "single", "start_node": "a", "nodes": {"a": {"name": "a", "operation": "op"}}}`)

	graphs, err := LoadGraphs([]string{review, jsonGraph})
	require.NoError(t, err)
	require.Len(t, graphs, 2)

	g := graphs[0]
	assert.Equal(t, "review", g.ID)
	assert.Equal(t, "extract", g.StartNode)
	score := g.Nodes["score"]
	require.NotNil(t, score.ConditionValue)
	assert.Equal(t, 0.8, *score.ConditionValue)
	assert.Equal(t, "extract", score.NextOnFailure)
	assert.Equal(t, "", score.NextOnSuccess)

	assert.Equal(t, "single", graphs[1].ID)

	_, err = LoadGraphs([]string{filepath.Join(dir, "nope.yaml")})
	assert.Error(t, err)
}
