package template

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type part struct {
	text string
	src  string
	expr expr
}

// Template is a parsed configuration string. A string that is exactly one
// {{ expression }} resolves to the typed value of the expression; anything
// else is interpolated into a string.
type Template struct {
	raw   string
	parts []part
}

func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	rest := raw

	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			if rest != "" {
				t.parts = append(t.parts, part{text: rest})
			}
			return t, nil
		}

		if start > 0 {
			t.parts = append(t.parts, part{text: rest[:start]})
		}

		end := strings.Index(rest[start:], closeDelim)
		if end < 0 {
			return nil, &domain.TemplateResolutionError{
				Reason:     domain.TemplateSyntax,
				Expression: raw,
				Detail:     "unclosed " + openDelim,
			}
		}

		src := strings.TrimSpace(rest[start+len(openDelim) : start+end])
		if src == "" {
			return nil, &domain.TemplateResolutionError{
				Reason:     domain.TemplateSyntax,
				Expression: raw,
				Detail:     "empty expression",
			}
		}

		e, err := parseExpression(src)
		if err != nil {
			return nil, &domain.TemplateResolutionError{
				Reason:     domain.TemplateSyntax,
				Expression: src,
				Detail:     err.Error(),
			}
		}

		t.parts = append(t.parts, part{src: src, expr: e})
		rest = rest[start+end+len(closeDelim):]
	}
}

func (t *Template) IsLiteral() bool {
	for _, p := range t.parts {
		if p.expr != nil {
			return false
		}
	}
	return true
}

func (t *Template) single() bool {
	return len(t.parts) == 1 && t.parts[0].expr != nil
}

func (t *Template) Execute(src Source) (interface{}, error) {
	if t.IsLiteral() {
		return t.raw, nil
	}

	if t.single() {
		return t.eval(t.parts[0], src)
	}

	var sb strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			sb.WriteString(p.text)
			continue
		}
		v, err := t.eval(p, src)
		if err != nil {
			return nil, err
		}
		sb.WriteString(Stringify(v))
	}
	return sb.String(), nil
}

func (t *Template) eval(p part, src Source) (interface{}, error) {
	v, err := evaluate(p.expr, src)
	if err == nil {
		return v, nil
	}

	var missing *missingError
	if errors.As(err, &missing) {
		return nil, domain.NewMissingReferenceError(p.src, missing.detail)
	}

	var templateErr *domain.TemplateResolutionError
	if errors.As(err, &templateErr) {
		out := *templateErr
		out.Expression = p.src
		return nil, &out
	}
	return nil, &domain.TemplateResolutionError{Reason: domain.TemplateType, Expression: p.src, Detail: err.Error()}
}

// NodeReferences lists the node ids the template reads from.
func (t *Template) NodeReferences() []string {
	seen := make(map[string]bool)
	for _, p := range t.parts {
		if p.expr != nil {
			collectNodeRefs(p.expr, seen)
		}
	}

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs
}

func collectNodeRefs(e expr, seen map[string]bool) {
	switch n := e.(type) {
	case pathExpr:
		if n.segments[0].name == RootNodes {
			seen[n.segments[1].name] = true
		}
	case concatExpr:
		for _, p := range n.parts {
			collectNodeRefs(p, seen)
		}
	case compareExpr:
		collectNodeRefs(n.left, seen)
		collectNodeRefs(n.right, seen)
	case logicalExpr:
		collectNodeRefs(n.left, seen)
		collectNodeRefs(n.right, seen)
	case notExpr:
		collectNodeRefs(n.operand, seen)
	case callExpr:
		for _, a := range n.args {
			collectNodeRefs(a, seen)
		}
	}
}

// Resolver resolves template strings nested anywhere inside configuration
// values. Parsed templates are cached by source text.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*Template
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*Template)}
}

func (r *Resolver) parse(raw string) (*Template, error) {
	r.mu.RLock()
	t, ok := r.cache[raw]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[raw] = t
	r.mu.Unlock()
	return t, nil
}

// Resolve walks maps and slices and replaces every templated string.
// Values that contain no template pass through unchanged.
func (r *Resolver) Resolve(value interface{}, src Source) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, openDelim) {
			return v, nil
		}
		t, err := r.parse(v)
		if err != nil {
			return nil, err
		}
		return t.Execute(src)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := r.Resolve(item, src)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := r.Resolve(item, src)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return value, nil
}

func (r *Resolver) ResolveConfig(config map[string]interface{}, src Source) (map[string]interface{}, error) {
	if config == nil {
		return map[string]interface{}{}, nil
	}
	resolved, err := r.Resolve(config, src)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]interface{}), nil
}

// NodeReferences lists every node id referenced by templates inside value.
func (r *Resolver) NodeReferences(value interface{}) ([]string, error) {
	seen := make(map[string]bool)
	if err := r.collect(value, seen); err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs, nil
}

func (r *Resolver) collect(value interface{}, seen map[string]bool) error {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, openDelim) {
			return nil
		}
		t, err := r.parse(v)
		if err != nil {
			return err
		}
		for _, id := range t.NodeReferences() {
			seen[id] = true
		}
	case map[string]interface{}:
		for _, item := range v {
			if err := r.collect(item, seen); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range v {
			if err := r.collect(item, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
