// Package config loads the demo CLI's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/internal/demo"
	"github.com/on-the-ground/oak/internal/model"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Demo    DemoConfig    `yaml:"demo"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type LogConfig struct {
	Level   log.LogLevel `yaml:"level"`
	Console bool         `yaml:"console"`
	// Dispatch writes every message and reducer output, like store.WithLog.
	Dispatch bool `yaml:"dispatch"`
}

type StoreConfig struct {
	BufferSize int `yaml:"buffer_size"`
	NumWorkers int `yaml:"num_workers"`
}

type DemoConfig struct {
	TodoURL string        `yaml:"todo_url"`
	PostURL string        `yaml:"post_url"`
	Timeout time.Duration `yaml:"timeout"`
	Delay   time.Duration `yaml:"delay"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	scope := model.NewScopeConfig(0, 0)
	return Config{
		Log: LogConfig{Level: log.LogInfo, Console: true},
		Store: StoreConfig{
			BufferSize: scope.BufferSize,
			NumWorkers: scope.NumWorkers,
		},
		Demo: DemoConfig{
			TodoURL: demo.DefaultTodoURL,
			PostURL: demo.DefaultPostURL,
			Timeout: demo.DefaultTimeout,
			Delay:   demo.DefaultDelay,
			Retries: 1,
		},
		Metrics: MetricsConfig{Namespace: "oak"},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var ErrInvalidConfig = fmt.Errorf("invalid config")

func (c Config) Validate() error {
	switch c.Log.Level {
	case log.LogDebug, log.LogInfo, log.LogWarn, log.LogError:
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Demo.Timeout < 0 || c.Demo.Delay < 0 || c.Demo.Backoff < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.Demo.Retries < 0 {
		return fmt.Errorf("%w: negative retries", ErrInvalidConfig)
	}
	return nil
}

// Scope returns the store sizing with defaults applied.
func (c Config) Scope() model.ScopeConfig {
	return model.NewScopeConfig(c.Store.BufferSize, c.Store.NumWorkers)
}
