package transform

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/eleven-am/conduit/internal/adapters/template"
)

type operation func(value interface{}, params map[string]interface{}) (interface{}, error)

var operations = map[string]operation{
	"toString":   opToString,
	"toNumber":   opToNumber,
	"toBoolean":  opToBoolean,
	"toDate":     opToDate,
	"concat":     opConcat,
	"slice":      opSlice,
	"split":      opSplit,
	"join":       opJoin,
	"replace":    opReplace,
	"add":        arithmetic(func(a, b float64) (float64, error) { return a + b, nil }, 0),
	"subtract":   arithmetic(func(a, b float64) (float64, error) { return a - b, nil }, 0),
	"multiply":   arithmetic(func(a, b float64) (float64, error) { return a * b, nil }, 1),
	"divide":     arithmetic(divide, 1),
	"round":      opRound,
	"format":     opFormat,
	"length":     opLength,
	"lowercase":  stringOp(strings.ToLower),
	"uppercase":  stringOp(strings.ToUpper),
	"capitalize": stringOp(capitalize),
	"trim":       stringOp(strings.TrimSpace),
}

// ApplyOperation runs a named value operation. Unknown names and type
// mismatches are errors.
func ApplyOperation(name string, value interface{}, params map[string]interface{}) (interface{}, error) {
	op, ok := operations[name]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return op(value, params)
}

func knownOperation(name string) bool {
	_, ok := operations[name]
	return ok
}

func opToString(value interface{}, _ map[string]interface{}) (interface{}, error) {
	if value == nil {
		return "", nil
	}
	return template.Stringify(value), nil
}

func opToNumber(value interface{}, _ map[string]interface{}) (interface{}, error) {
	if b, ok := value.(bool); ok {
		if b {
			return float64(1), nil
		}
		return float64(0), nil
	}
	n, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T %v to a number", value, value)
	}
	return n, nil
}

func opToBoolean(value interface{}, _ map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, nil
		}
		return false, nil
	case []interface{}:
		return len(v) > 0, nil
	case map[string]interface{}:
		return len(v) > 0, nil
	}
	if n, ok := toNumber(value); ok {
		return n != 0, nil
	}
	return false, nil
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// opToDate parses with params.layout (a Go reference layout) or a set of
// ISO-8601 layouts and renders RFC 3339 in UTC.
func opToDate(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("toDate expects a string, got %T", value)
	}

	layouts := dateLayouts
	if layout := stringParam(params, "layout", ""); layout != "" {
		layouts = []string{layout}
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a date", s)
}

func opConcat(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, _ := opToString(value, nil)
	return stringParam(params, "prefix", "") + s.(string) + stringParam(params, "suffix", ""), nil
}

func sliceBounds(length int, params map[string]interface{}) (int, int, error) {
	start, err := intParam(params, "start", 0)
	if err != nil {
		return 0, 0, err
	}
	end, err := intParam(params, "end", length)
	if err != nil {
		return 0, 0, err
	}

	clamp := func(i int) int {
		if i < 0 {
			i += length
		}
		if i < 0 {
			return 0
		}
		if i > length {
			return length
		}
		return i
	}

	start, end = clamp(start), clamp(end)
	if start > end {
		start = end
	}
	return start, end, nil
}

func opSlice(value interface{}, params map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		runes := []rune(v)
		start, end, err := sliceBounds(len(runes), params)
		if err != nil {
			return nil, err
		}
		return string(runes[start:end]), nil
	case []interface{}:
		start, end, err := sliceBounds(len(v), params)
		if err != nil {
			return nil, err
		}
		return append([]interface{}(nil), v[start:end]...), nil
	}
	return nil, fmt.Errorf("slice expects a string or list, got %T", value)
}

func opSplit(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return []interface{}{value}, nil
	}
	parts := strings.Split(s, stringParam(params, "delimiter", ","))
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func opJoin(value interface{}, params map[string]interface{}) (interface{}, error) {
	list, ok := value.([]interface{})
	if !ok {
		return opToString(value, nil)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = template.Stringify(item)
	}
	return strings.Join(parts, stringParam(params, "delimiter", ",")), nil
}

func opReplace(value interface{}, params map[string]interface{}) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("replace expects a string, got %T", value)
	}
	pattern := stringParam(params, "pattern", "")
	if pattern == "" {
		return s, nil
	}
	return strings.ReplaceAll(s, pattern, stringParam(params, "replacement", "")), nil
}

func arithmetic(fn func(a, b float64) (float64, error), identity float64) operation {
	return func(value interface{}, params map[string]interface{}) (interface{}, error) {
		a, ok := toNumber(value)
		if !ok {
			return nil, fmt.Errorf("arithmetic on non-numeric value %v", value)
		}

		b := identity
		if raw, present := params["value"]; present {
			if b, ok = toNumber(raw); !ok {
				return nil, fmt.Errorf("arithmetic operand %v is not numeric", raw)
			}
		}
		return fn(a, b)
	}
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	return a / b, nil
}

func opRound(value interface{}, params map[string]interface{}) (interface{}, error) {
	n, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("round expects a number, got %T", value)
	}
	precision, err := intParam(params, "precision", 0)
	if err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(precision))
	return math.Round(n*scale) / scale, nil
}

// opFormat renders numbers with a printf verb, e.g. {"format": "%.2f"}.
func opFormat(value interface{}, params map[string]interface{}) (interface{}, error) {
	format := stringParam(params, "format", "%v")
	if n, ok := value.(float64); ok {
		if n == math.Trunc(n) && strings.ContainsAny(format, "dxXob") {
			return fmt.Sprintf(format, int64(n)), nil
		}
		return fmt.Sprintf(format, n), nil
	}
	return fmt.Sprintf(format, value), nil
}

func opLength(value interface{}, _ map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), nil
	case []interface{}:
		return float64(len(v)), nil
	case map[string]interface{}:
		return float64(len(v)), nil
	}
	return float64(0), nil
}

func stringOp(fn func(string) string) operation {
	return func(value interface{}, _ map[string]interface{}) (interface{}, error) {
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		return fn(s), nil
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
