package domain

import (
	"fmt"
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		Engine:      DefaultEngineConfig(),
		Storage:     DefaultStorageConfig(),
		HTTP:        DefaultHTTPConfig(),
		GRPC:        DefaultGRPCConfig(),
		Logging:     DefaultLoggingConfig(),
		Definitions: DefinitionsConfig{Dir: "./workflows"},
		Credentials: CredentialsConfig{EnvPrefix: "CONDUIT_CREDENTIAL_"},
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentRuns: 10,
		DefaultRetry: RetryPolicy{
			MaxAttempts:   3,
			InitialDelay:  time.Second,
			BackoffFactor: 2.0,
			MaxDelay:      30 * time.Second,
		},
		DefaultStrategy: StrategyStop,
		NodeTimeout:     5 * time.Minute,
		RunTimeout:      time.Hour,
		RetainRuns:      1000,
		EventBufferSize: 256,
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Type: StorageMemory,
		Path: "./data/runs",
	}
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Enabled:      true,
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Enabled: true,
		Address: ":9090",
	}
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

func (c *Config) WithEngineSettings(maxRuns int, nodeTimeout, runTimeout time.Duration) *Config {
	c.Engine.MaxConcurrentRuns = maxRuns
	c.Engine.NodeTimeout = nodeTimeout
	c.Engine.RunTimeout = runTimeout
	return c
}

func (c *Config) WithDefaultRetry(policy RetryPolicy) *Config {
	c.Engine.DefaultRetry = policy
	return c
}

func (c *Config) WithBadgerStorage(path string) *Config {
	c.Storage.Type = StorageBadger
	c.Storage.Path = path
	return c
}

func (c *Config) WithPostgresStorage(dsn string) *Config {
	c.Storage.Type = StoragePostgres
	c.Storage.DSN = dsn
	return c
}

func (c *Config) Validate() error {
	if c.Engine.MaxConcurrentRuns <= 0 {
		return NewConfigError("engine.max_concurrent_runs", ErrInvalidInput)
	}
	if err := c.Engine.DefaultRetry.Validate(); err != nil {
		return NewConfigError("engine.default_retry", err)
	}
	if c.Engine.DefaultStrategy != "" && !c.Engine.DefaultStrategy.Valid() {
		return NewConfigError("engine.default_strategy", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, c.Engine.DefaultStrategy))
	}
	if c.Engine.NodeTimeout < 0 {
		return NewConfigError("engine.node_timeout", ErrInvalidInput)
	}
	if c.Engine.RunTimeout < 0 {
		return NewConfigError("engine.run_timeout", ErrInvalidInput)
	}
	if c.Engine.RetainRuns < 0 {
		return NewConfigError("engine.retain_runs", ErrInvalidInput)
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageBadger:
		if c.Storage.Path == "" {
			return NewConfigError("storage.path", ErrInvalidInput)
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return NewConfigError("storage.dsn", ErrInvalidInput)
		}
	default:
		return NewConfigError("storage.type", fmt.Errorf("%w: unknown storage type %q", ErrInvalidInput, c.Storage.Type))
	}

	if c.HTTP.Enabled && c.HTTP.Address == "" {
		return NewConfigError("http.address", ErrInvalidInput)
	}
	if c.GRPC.Enabled && c.GRPC.Address == "" {
		return NewConfigError("grpc.address", ErrInvalidInput)
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return NewConfigError("logging.format", ErrInvalidInput)
	}

	return nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}
