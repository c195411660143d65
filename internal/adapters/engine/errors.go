package engine

import (
	"errors"

	"github.com/eleven-am/conduit/internal/domain"
)

func errorLogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	attrs := []any{"error", err.Error()}

	var nodeErr *domain.NodeError
	if errors.As(err, &nodeErr) {
		attrs = append(attrs,
			"error_kind", string(nodeErr.Kind),
			"error_retryable", nodeErr.Retryable,
		)
	}

	var templateErr *domain.TemplateResolutionError
	if errors.As(err, &templateErr) {
		attrs = append(attrs, "template_reason", string(templateErr.Reason), "template_expression", templateErr.Expression)
	}

	var transformErr *domain.TransformError
	if errors.As(err, &transformErr) {
		attrs = append(attrs, "transform_directive", transformErr.Directive)
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		attrs = append(attrs, "validation_problems", validationErr.Problems)
	}

	return attrs
}
