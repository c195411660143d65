// Package nodes holds the small utility nodes every conduit process ships
// with.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/eleven-am/conduit/internal/adapters/schema"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

const (
	LoggerType      = "Logger"
	PassthroughType = "Passthrough"
)

// Registrar is the slice of the node registry the built-ins need.
type Registrar interface {
	RegisterNode(typeName string, node ports.NodeContract, description string) error
}

func Register(registry Registrar) error {
	if err := registry.RegisterNode(LoggerType, Logger{}, "Logs its input through the run logger and echoes it"); err != nil {
		return err
	}
	return registry.RegisterNode(PassthroughType, Passthrough{}, "Returns its input merged with its config")
}

// Logger writes its input to the scope logger. Config: level
// (debug, info, warning, error; default info) and an optional message.
type Logger struct{}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func (Logger) ValidateInput(input map[string]interface{}, s ports.Schema) error {
	return schema.CheckInput(input, s)
}

func (Logger) Execute(ctx context.Context, input map[string]interface{}, config map[string]interface{}, scope ports.ExecutionScope) (map[string]interface{}, error) {
	levelName := "info"
	if raw, ok := config["level"].(string); ok && raw != "" {
		levelName = strings.ToLower(raw)
	}
	level, ok := logLevels[levelName]
	if !ok {
		return nil, &domain.NodeError{
			Kind:    domain.ErrorKindValidation,
			Message: fmt.Sprintf("unknown log level %q", levelName),
		}
	}

	message := "workflow log"
	if raw, ok := config["message"]; ok && raw != nil {
		message = fmt.Sprint(raw)
	} else if raw, ok := input["message"].(string); ok {
		message = raw
	}

	logger := slog.Default()
	if scope != nil {
		logger = scope.Logger()
	}
	logger.Log(ctx, level, message, "input", input)

	return input, nil
}

func (Logger) DeclaredSchema() ports.Schema { return ports.Schema{} }

func (Logger) DeclaredRetryPolicy() *domain.RetryPolicy { return nil }

// Passthrough returns its input with its config laid over it.
type Passthrough struct{}

func (Passthrough) ValidateInput(input map[string]interface{}, s ports.Schema) error {
	return schema.CheckInput(input, s)
}

func (Passthrough) Execute(_ context.Context, input map[string]interface{}, config map[string]interface{}, _ ports.ExecutionScope) (map[string]interface{}, error) {
	return domain.ShallowMerge(input, config), nil
}

func (Passthrough) DeclaredSchema() ports.Schema { return ports.Schema{} }

func (Passthrough) DeclaredRetryPolicy() *domain.RetryPolicy { return nil }

var (
	_ ports.NodeContract = Logger{}
	_ ports.NodeContract = Passthrough{}
)
