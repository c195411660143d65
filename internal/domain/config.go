package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	Engine      EngineConfig      `json:"engine" yaml:"engine"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	GRPC        GRPCConfig        `json:"grpc" yaml:"grpc"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Definitions DefinitionsConfig `json:"definitions" yaml:"definitions"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

type EngineConfig struct {
	MaxConcurrentRuns int           `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	DefaultRetry      RetryPolicy   `json:"default_retry" yaml:"default_retry"`
	DefaultStrategy   ErrorStrategy `json:"default_strategy" yaml:"default_strategy"`
	NodeTimeout       time.Duration `json:"node_timeout" yaml:"node_timeout"`
	RunTimeout        time.Duration `json:"run_timeout" yaml:"run_timeout"`
	RetainRuns        int           `json:"retain_runs" yaml:"retain_runs"`
	EventBufferSize   int           `json:"event_buffer_size" yaml:"event_buffer_size"`
}

type StorageType string

const (
	StorageMemory   StorageType = "memory"
	StorageBadger   StorageType = "badger"
	StoragePostgres StorageType = "postgres"
)

type StorageConfig struct {
	Type StorageType `json:"type" yaml:"type"`
	Path string      `json:"path,omitempty" yaml:"path,omitempty"`
	DSN  string      `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type HTTPConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Address      string        `json:"address" yaml:"address"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

type GRPCConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	HCLog  bool   `json:"hclog" yaml:"hclog"`
}

type DefinitionsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type CredentialsConfig struct {
	EnvPrefix string `json:"env_prefix" yaml:"env_prefix"`
}
