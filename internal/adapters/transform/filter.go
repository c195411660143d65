package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eleven-am/conduit/internal/adapters/template"
	"github.com/eleven-am/conduit/internal/domain"
)

type condition struct {
	field    string
	operator string
	value    interface{}
	pattern  *regexp.Regexp
}

var comparisonOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"contains": true, "startsWith": true, "endsWith": true, "matches": true,
	"in": true, "exists": true,
}

func compileCondition(raw interface{}) (condition, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return condition{}, fmt.Errorf("condition must be an object, got %T", raw)
	}

	field, err := stringField(m, "field")
	if err != nil {
		return condition{}, err
	}
	if field == "" {
		return condition{}, fmt.Errorf("condition field is required")
	}

	operator, err := stringField(m, "operator")
	if err != nil {
		return condition{}, err
	}
	if operator == "" {
		operator = "eq"
	}
	if !comparisonOperators[operator] {
		return condition{}, fmt.Errorf("unknown operator %q", operator)
	}

	c := condition{field: field, operator: operator, value: m["value"]}

	switch operator {
	case "matches":
		pattern, ok := c.value.(string)
		if !ok {
			return condition{}, fmt.Errorf("matches needs a string pattern")
		}
		if c.pattern, err = regexp.Compile("(?i)" + pattern); err != nil {
			return condition{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	case "in":
		if _, ok := c.value.([]interface{}); !ok {
			return condition{}, fmt.Errorf("in needs a list value")
		}
	}
	return c, nil
}

// matches reports whether item satisfies the condition. Scalars are
// compared as {"value": item}.
func (c condition) matches(item interface{}) bool {
	obj, ok := item.(map[string]interface{})
	if !ok {
		obj = map[string]interface{}{"value": item}
	}

	actual, found := domain.LookupPath(obj, c.field)
	if c.operator == "exists" {
		want := true
		if b, ok := c.value.(bool); ok {
			want = b
		}
		return (found && actual != nil) == want
	}

	if actual == nil {
		switch c.operator {
		case "eq":
			return c.value == nil
		case "ne":
			return c.value != nil
		}
		return false
	}

	switch c.operator {
	case "eq":
		return looseEqual(actual, c.value)
	case "ne":
		return !looseEqual(actual, c.value)
	case "gt", "lt", "gte", "lte":
		cmp, ok := compare(actual, c.value)
		if !ok {
			return false
		}
		switch c.operator {
		case "gt":
			return cmp > 0
		case "lt":
			return cmp < 0
		case "gte":
			return cmp >= 0
		}
		return cmp <= 0
	case "contains":
		if list, ok := actual.([]interface{}); ok {
			return containsValue(list, c.value)
		}
		return strings.Contains(lower(actual), lower(c.value))
	case "startsWith":
		return strings.HasPrefix(lower(actual), lower(c.value))
	case "endsWith":
		return strings.HasSuffix(lower(actual), lower(c.value))
	case "matches":
		return c.pattern.MatchString(template.Stringify(actual))
	case "in":
		return containsValue(c.value, actual)
	}
	return false
}

func compare(a, b interface{}) (int, bool) {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(strings.ToLower(as), strings.ToLower(bs)), true
	}
	return 0, false
}

func lower(v interface{}) string {
	return strings.ToLower(template.Stringify(v))
}
