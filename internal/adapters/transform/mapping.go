package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eleven-am/conduit/internal/adapters/template"
	"github.com/ohler55/ojg/jp"
)

// fieldExpr is one compiled field of a mapping directive. The forms are a
// path, a literal, terms joined with + (string concatenation) and any of
// those followed by "? predicate(@, ...)".
type fieldExpr struct {
	raw       string
	terms     []term
	predicate *predicate
}

type term struct {
	path    jp.Expr
	literal interface{}
}

type predicate struct {
	name string
	args []interface{}
}

var predicateArity = map[string]int{
	"contains":   1,
	"exists":     0,
	"eq":         1,
	"startsWith": 1,
	"empty":      0,
}

func compileFieldExpr(raw string, paths *pathCache) (*fieldExpr, error) {
	fe := &fieldExpr{raw: raw}

	body := raw
	if parts := splitTopLevel(raw, '?'); len(parts) > 1 {
		if len(parts) > 2 {
			return nil, fmt.Errorf("expression %q has more than one predicate", raw)
		}
		p, err := parsePredicate(parts[1])
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", raw, err)
		}
		fe.predicate = p
		body = parts[0]
	}

	for _, part := range splitTopLevel(body, '+') {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("expression %q has an empty operand", raw)
		}
		if lit, ok := parseLiteral(part); ok {
			fe.terms = append(fe.terms, term{literal: lit})
			continue
		}
		x, err := paths.compile(part)
		if err != nil {
			return nil, err
		}
		fe.terms = append(fe.terms, term{path: x})
	}
	return fe, nil
}

func (fe *fieldExpr) eval(element interface{}) interface{} {
	var value interface{}
	if len(fe.terms) == 1 {
		value = fe.terms[0].value(element)
	} else {
		var b strings.Builder
		for _, t := range fe.terms {
			if v := t.value(element); v != nil {
				b.WriteString(template.Stringify(v))
			}
		}
		value = b.String()
	}

	if fe.predicate == nil {
		return value
	}
	return fe.predicate.test(value)
}

func (t term) value(element interface{}) interface{} {
	if t.path == nil {
		return t.literal
	}
	return single(t.path.Get(element))
}

func (p *predicate) test(value interface{}) bool {
	switch p.name {
	case "exists":
		if list, ok := value.([]interface{}); ok {
			return len(list) > 0
		}
		return value != nil
	case "empty":
		switch v := value.(type) {
		case nil:
			return true
		case string:
			return v == ""
		case []interface{}:
			return len(v) == 0
		case map[string]interface{}:
			return len(v) == 0
		}
		return false
	case "contains":
		return containsValue(value, p.args[0])
	case "eq":
		return looseEqual(value, p.args[0])
	case "startsWith":
		s, ok := value.(string)
		return ok && strings.HasPrefix(s, template.Stringify(p.args[0]))
	}
	return false
}

func parsePredicate(src string) (*predicate, error) {
	src = strings.TrimSpace(src)
	open := strings.IndexByte(src, '(')
	if open <= 0 || !strings.HasSuffix(src, ")") {
		return nil, fmt.Errorf("malformed predicate %q", src)
	}

	name := strings.TrimSpace(src[:open])
	arity, ok := predicateArity[name]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", name)
	}

	args := splitTopLevel(src[open+1:len(src)-1], ',')
	if strings.TrimSpace(args[0]) != "@" {
		return nil, fmt.Errorf("predicate %s must take @ as its first argument", name)
	}
	if len(args)-1 != arity {
		return nil, fmt.Errorf("predicate %s takes %d argument(s) after @", name, arity)
	}

	p := &predicate{name: name}
	for _, a := range args[1:] {
		lit, ok := parseLiteral(strings.TrimSpace(a))
		if !ok {
			return nil, fmt.Errorf("predicate %s argument %q must be a literal", name, strings.TrimSpace(a))
		}
		p.args = append(p.args, lit)
	}
	return p, nil
}

func parseLiteral(src string) (interface{}, bool) {
	if len(src) >= 2 {
		quote := src[0]
		if (quote == '\'' || quote == '"') && src[len(src)-1] == quote {
			return src[1 : len(src)-1], true
		}
	}
	switch src {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null":
		return nil, true
	}
	if n, err := strconv.ParseFloat(src, 64); err == nil {
		return n, true
	}
	return nil, false
}

// splitTopLevel splits on sep outside quotes, brackets and parentheses.
func splitTopLevel(src string, sep byte) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, src[start:i])
			start = i + 1
		}
	}
	return append(parts, src[start:])
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
	case string:
		return strings.Contains(h, template.Stringify(needle))
	case map[string]interface{}:
		_, ok := h[template.Stringify(needle)]
		return ok
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if an, ok := a.(float64); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return template.Stringify(a) == template.Stringify(b)
}
