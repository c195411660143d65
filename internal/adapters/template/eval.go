package template

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

const (
	RootInitialInput = "initialInput"
	RootNodes        = "nodes"
)

// Source supplies the values template paths are resolved against.
type Source interface {
	InitialInput() map[string]interface{}
	NodeOutput(nodeID string) (map[string]interface{}, bool)
}

type missingError struct {
	detail string
}

func (e *missingError) Error() string {
	return e.detail
}

func evaluate(e expr, src Source) (interface{}, error) {
	switch n := e.(type) {
	case literalExpr:
		return n.value, nil
	case pathExpr:
		return resolvePath(n, src)
	case concatExpr:
		return evalConcat(n, src)
	case compareExpr:
		left, err := evaluate(n.left, src)
		if err != nil {
			return nil, err
		}
		right, err := evaluate(n.right, src)
		if err != nil {
			return nil, err
		}
		return looseEqual(left, right) != n.negate, nil
	case logicalExpr:
		left, err := evaluate(n.left, src)
		if err != nil {
			return nil, err
		}
		if n.and && !truthy(left) {
			return false, nil
		}
		if !n.and && truthy(left) {
			return true, nil
		}
		right, err := evaluate(n.right, src)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case notExpr:
		v, err := evaluate(n.operand, src)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case callExpr:
		return evalCall(n, src)
	}
	return nil, fmt.Errorf("unsupported expression %T", e)
}

func resolvePath(p pathExpr, src Source) (interface{}, error) {
	var (
		current interface{}
		rest    []segment
	)

	switch p.segments[0].name {
	case RootInitialInput:
		current = src.InitialInput()
		rest = p.segments[1:]
	case RootNodes:
		nodeID := p.segments[1].name
		output, ok := src.NodeOutput(nodeID)
		if !ok {
			return nil, &missingError{detail: fmt.Sprintf("node %q has not completed", nodeID)}
		}
		current = output
		rest = p.segments[3:]
	}

	walked := p.segments[0].name
	for _, seg := range rest {
		next, ok := step(current, seg)
		if !ok {
			return nil, &missingError{detail: fmt.Sprintf("path %q not found (resolved up to %q)", p.raw, walked)}
		}
		current = next
		walked += "." + seg.name
	}
	return current, nil
}

func step(current interface{}, seg segment) (interface{}, bool) {
	switch v := current.(type) {
	case map[string]interface{}:
		next, ok := v[seg.name]
		return next, ok
	case []interface{}:
		idx := seg.index
		if !seg.isIndex {
			parsed, err := strconv.Atoi(seg.name)
			if err != nil {
				return nil, false
			}
			idx = parsed
		}
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case map[string]string:
		next, ok := v[seg.name]
		return next, ok
	}
	return nil, false
}

// evalConcat joins the rendered operands. Numbers are not added.
func evalConcat(n concatExpr, src Source) (interface{}, error) {
	var sb strings.Builder
	for _, part := range n.parts {
		v, err := evaluate(part, src)
		if err != nil {
			return nil, err
		}
		sb.WriteString(Stringify(v))
	}
	return sb.String(), nil
}

func evalCall(n callExpr, src Source) (interface{}, error) {
	switch n.name {
	case "exists":
		v, err := evaluate(n.args[0], src)
		var missing *missingError
		if errors.As(err, &missing) {
			return false, nil
		}
		if err != nil {
			return nil, err
		}
		return v != nil, nil
	case "default":
		v, err := evaluate(n.args[0], src)
		var missing *missingError
		if errors.As(err, &missing) || (err == nil && v == nil) {
			return evaluate(n.args[1], src)
		}
		return v, err
	}

	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := evaluate(a, src)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.name {
	case "contains":
		return contains(args[0], args[1]), nil
	case "len":
		switch v := args[0].(type) {
		case string:
			return float64(len([]rune(v))), nil
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		case nil:
			return float64(0), nil
		}
		return nil, &domain.TemplateResolutionError{Reason: domain.TemplateType, Detail: fmt.Sprintf("len of %T", args[0])}
	case "upper":
		return strings.ToUpper(Stringify(args[0])), nil
	case "lower":
		return strings.ToLower(Stringify(args[0])), nil
	}
	return nil, fmt.Errorf("unknown function %q", n.name)
}

func contains(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, Stringify(needle))
	case []interface{}:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range h {
			if item == Stringify(needle) {
				return true
			}
		}
	case map[string]interface{}:
		_, ok := h[Stringify(needle)]
		return ok
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Stringify renders a resolved value for interpolation into text.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]interface{}, []interface{}:
		data, err := xjson.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
	if f, ok := toFloat(v); ok {
		return Stringify(f)
	}
	return fmt.Sprint(v)
}
