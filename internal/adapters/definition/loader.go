package definition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks a format from the file extension, sniffing the content
// when the extension is unknown.
func FormatFor(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses a definition document. Structural problems are reported as
// *domain.DefinitionError.
func Decode(data []byte, format Format) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.DefinitionError{Problems: []string{"document is empty"}}
	}

	var doc Document
	switch format {
	case FormatJSON:
		if err := xjson.Unmarshal(data, &doc); err != nil {
			return nil, &domain.DefinitionError{Problems: []string{fmt.Sprintf("invalid JSON: %v", err)}}
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &domain.DefinitionError{Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported definition format %q", domain.ErrInvalidConfig, format)
	}

	if len(doc.Nodes) == 0 {
		return nil, &domain.DefinitionError{Workflow: doc.WorkflowName(), Problems: []string{"document declares no nodes"}}
	}
	return &doc, nil
}

func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition %s: %w", path, err)
	}

	doc, err := Decode(data, FormatFor(path, data))
	if err != nil {
		if defErr, ok := err.(*domain.DefinitionError); ok && defErr.Workflow == "" {
			defErr.Workflow = baseName(path)
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	doc.Source = path
	return doc, nil
}

// LoadDir reads every .yaml, .yml and .json file directly inside dir, in
// lexical order.
func LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	docs := make([]*Document, 0, len(paths))
	for _, path := range paths {
		doc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
