package core

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eleven-am/conduit/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadConfig decodes the YAML file at path over DefaultConfig, applies
// CONDUIT_* environment overrides and validates the result. An empty path
// skips the file.
func LoadConfig(path string) (*domain.Config, error) {
	return loadConfig(path, os.LookupEnv)
}

func loadConfig(path string, lookup func(string) (string, bool)) (*domain.Config, error) {
	config := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(config, lookup); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *domain.Config, lookup func(string) (string, bool)) error {
	text := map[string]*string{
		"CONDUIT_HTTP_ADDRESS":    &config.HTTP.Address,
		"CONDUIT_GRPC_ADDRESS":    &config.GRPC.Address,
		"CONDUIT_STORAGE_PATH":    &config.Storage.Path,
		"CONDUIT_STORAGE_DSN":     &config.Storage.DSN,
		"CONDUIT_LOG_LEVEL":       &config.Logging.Level,
		"CONDUIT_LOG_FORMAT":      &config.Logging.Format,
		"CONDUIT_DEFINITIONS_DIR": &config.Definitions.Dir,
	}
	for key, target := range text {
		if v, ok := lookup(key); ok {
			*target = v
		}
	}

	if v, ok := lookup("CONDUIT_STORAGE_TYPE"); ok {
		config.Storage.Type = domain.StorageType(v)
	}

	if v, ok := lookup("CONDUIT_MAX_CONCURRENT_RUNS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.NewConfigError("CONDUIT_MAX_CONCURRENT_RUNS", err)
		}
		config.Engine.MaxConcurrentRuns = n
	}

	durations := map[string]*time.Duration{
		"CONDUIT_NODE_TIMEOUT": &config.Engine.NodeTimeout,
		"CONDUIT_RUN_TIMEOUT":  &config.Engine.RunTimeout,
	}
	for key, target := range durations {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return domain.NewConfigError(key, err)
			}
			*target = d
		}
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(config domain.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if config.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
