package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/songzhibin97/graph-engine/types"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the service configuration file.
type Config struct {
	Version int `yaml:"version"`
	Server  struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Engine struct {
		MaxIterations int    `yaml:"max_iterations"`
		MachineID     uint16 `yaml:"machine_id"`
	} `yaml:"engine"`
	Storage struct {
		Backend string      `yaml:"backend"`
		Redis   RedisConfig `yaml:"redis"`
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	// Graphs lists YAML graph definition files loaded at startup.
	// Relative paths resolve against the config file's directory.
	Graphs []string `yaml:"graphs"`
}

// RedisConfig configures the Redis storage backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Engine.MaxIterations == 0 {
		c.Engine.MaxIterations = 20
	}
	if c.Engine.MachineID == 0 {
		c.Engine.MachineID = 1
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Redis.PoolSize == 0 {
		c.Storage.Redis.PoolSize = 10
	}
	if c.Storage.Redis.IdleTimeout == 0 {
		c.Storage.Redis.IdleTimeout = 5 * time.Minute
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "graphengine:"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Load reads path, applies defaults and environment overrides, and validates
// the result. An empty path yields Default with overrides applied.
func Load(path string) (*Config, error) {
	cfg := &Config{Version: 1}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		dir := filepath.Dir(path)
		for i, g := range cfg.Graphs {
			if !filepath.IsAbs(g) {
				cfg.Graphs[i] = filepath.Join(dir, g)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from GRAPHENGINE_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GRAPHENGINE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GRAPHENGINE_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("GRAPHENGINE_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("GRAPHENGINE_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("GRAPHENGINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GRAPHENGINE_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAPHENGINE_MAX_ITERATIONS: %w", err)
		}
		c.Engine.MaxIterations = n
	}
	return nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// LoadGraph reads one graph definition from a YAML (or JSON) file.
func LoadGraph(path string) (types.GraphDefinition, error) {
	var g types.GraphDefinition
	b, err := os.ReadFile(path)
	if err != nil {
		return g, err
	}
	if err := yaml.Unmarshal(b, &g); err != nil {
		return g, fmt.Errorf("parse graph %s: %w", path, err)
	}
	return g, nil
}

// LoadGraphs reads every file in paths.
func LoadGraphs(paths []string) ([]types.GraphDefinition, error) {
	graphs := make([]types.GraphDefinition, 0, len(paths))
	for _, p := range paths {
		g, err := LoadGraph(p)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}
