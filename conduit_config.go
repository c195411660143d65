package conduit

import (
	"io"
	"log/slog"

	"github.com/eleven-am/conduit/internal/core"
	"github.com/eleven-am/conduit/internal/domain"
)

type Config = domain.Config

type EngineConfig = domain.EngineConfig

type StorageConfig = domain.StorageConfig

type StorageType = domain.StorageType

const (
	StorageMemory   = domain.StorageMemory
	StorageBadger   = domain.StorageBadger
	StoragePostgres = domain.StoragePostgres
)

type HTTPConfig = domain.HTTPConfig

type GRPCConfig = domain.GRPCConfig

type LoggingConfig = domain.LoggingConfig

type ConfigError = domain.ConfigError

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

func DefaultEngineConfig() EngineConfig {
	return domain.DefaultEngineConfig()
}

// LoadConfig reads a YAML config file over the defaults and applies
// CONDUIT_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	return core.LoadConfig(path)
}

func NewLogger(config LoggingConfig, w io.Writer) *slog.Logger {
	return core.NewLogger(config, w)
}
