package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/ports"
)

const DefaultPrefix = "CONDUIT_CREDENTIAL_"

// EnvResolver reads credentials from <prefix><NAME>, or from the file named
// by <prefix><NAME>_FILE. Names are upper-cased and every character that is
// not a letter or digit becomes an underscore.
type EnvResolver struct {
	prefix   string
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
	logger   *slog.Logger
}

func NewEnvResolver(prefix string, logger *slog.Logger) *EnvResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EnvResolver{
		prefix:   prefix,
		lookup:   os.LookupEnv,
		readFile: os.ReadFile,
		logger:   logger.With("component", "credentials"),
	}
}

// WithLookup replaces the environment lookup, mainly for tests.
func (r *EnvResolver) WithLookup(lookup func(string) (string, bool)) *EnvResolver {
	r.lookup = lookup
	return r
}

func (r *EnvResolver) Get(_ context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", domain.NewValidationError("credential name is required")
	}

	key := r.prefix + envName(name)
	if value, ok := r.lookup(key); ok {
		return value, nil
	}

	path, ok := r.lookup(key + "_FILE")
	if !ok || path == "" {
		r.logger.Debug("credential not found", "credential", name, "env", key)
		return "", domain.NewNotFoundError("credential", name)
	}

	data, err := r.readFile(path)
	if err != nil {
		return "", fmt.Errorf("read credential %s from %s: %w", name, path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func envName(name string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

var _ ports.CredentialResolver = (*EnvResolver)(nil)
