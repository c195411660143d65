package transform

import (
	"context"
	"fmt"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/ohler55/ojg/jp"
)

// state is what directives read and write while a program runs.
type state struct {
	source  interface{}
	input   map[string]interface{}
	results map[string]interface{}
}

// document is the source merged with the results produced so far. A
// non-object source never sees earlier results.
func (s *state) document() interface{} {
	src, ok := s.source.(map[string]interface{})
	if !ok {
		return s.source
	}
	if len(s.results) == 0 {
		return src
	}
	return domain.ShallowMerge(src, s.results)
}

type directive interface {
	kind() string
	apply(ctx context.Context, st *state) error
}

// pathDirective copies the values a JSONPath selects into result_key.
type pathDirective struct {
	path      jp.Expr
	resultKey string
	flatten   bool
	unique    bool
	operation string
	params    map[string]interface{}
}

func (d *pathDirective) kind() string { return "path" }

func (d *pathDirective) apply(_ context.Context, st *state) error {
	matches := d.path.Get(st.document())
	if d.flatten {
		matches = flatten(matches)
	}
	if d.unique {
		matches = unique(matches)
	}

	if d.flatten || d.unique {
		if d.operation != "" {
			for i, m := range matches {
				v, err := ApplyOperation(d.operation, m, d.params)
				if err != nil {
					return err
				}
				matches[i] = v
			}
		}
		st.results[d.resultKey] = matches
		return nil
	}

	value := single(matches)
	if d.operation != "" && value != nil {
		v, err := ApplyOperation(d.operation, value, d.params)
		if err != nil {
			return err
		}
		value = v
	}
	st.results[d.resultKey] = value
	return nil
}

type fieldSpec struct {
	expr      *fieldExpr
	operation string
	params    map[string]interface{}
	fallback  interface{}
}

func (f fieldSpec) eval(element interface{}) (interface{}, error) {
	value := f.expr.eval(element)
	if value == nil {
		return f.fallback, nil
	}
	if f.operation == "" {
		return value, nil
	}
	return ApplyOperation(f.operation, value, f.params)
}

// mappingDirective builds a new object per selected element.
type mappingDirective struct {
	source    jp.Expr
	resultKey string
	flatten   bool
	fields    map[string]fieldSpec
	order     []string
}

func (d *mappingDirective) kind() string { return "mapping" }

func (d *mappingDirective) apply(_ context.Context, st *state) error {
	doc := st.document()

	elements := []interface{}{doc}
	one := true
	if d.source != nil {
		matches := d.source.Get(doc)
		switch {
		case d.flatten:
			elements, one = flatten(matches), false
		case selectsMany(d.source):
			elements, one = matches, false
		case len(matches) == 0:
			elements, one = nil, false
		default:
			if list, ok := matches[0].([]interface{}); ok {
				elements, one = list, false
			} else {
				elements = matches[:1]
			}
		}
	}

	mapped := make([]interface{}, 0, len(elements))
	for _, el := range elements {
		obj := make(map[string]interface{}, len(d.fields))
		for _, name := range d.order {
			v, err := d.fields[name].eval(el)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			obj[name] = v
		}
		mapped = append(mapped, obj)
	}

	if !one {
		if d.resultKey == "" {
			return fmt.Errorf("result_key is required when the mapping selects a list")
		}
		st.results[d.resultKey] = mapped
		return nil
	}

	if d.resultKey == "" {
		for k, v := range mapped[0].(map[string]interface{}) {
			st.results[k] = v
		}
		return nil
	}
	st.results[d.resultKey] = mapped[0]
	return nil
}

// filterDirective keeps the selected items that satisfy every condition.
type filterDirective struct {
	source     jp.Expr
	resultKey  string
	conditions []condition
}

func (d *filterDirective) kind() string { return "filter" }

func (d *filterDirective) apply(_ context.Context, st *state) error {
	matches := d.source.Get(st.document())

	items := matches
	if !selectsMany(d.source) {
		items = nil
		if len(matches) > 0 {
			list, ok := matches[0].([]interface{})
			if !ok {
				return fmt.Errorf("filter source must select a list, got %T", matches[0])
			}
			items = list
		}
	}

	kept := make([]interface{}, 0, len(items))
	for _, item := range items {
		ok := true
		for _, c := range d.conditions {
			if !c.matches(item) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, item)
		}
	}
	st.results[d.resultKey] = kept
	return nil
}

type combineSource struct {
	key    string
	prefix string
}

// combineDirective merges several objects into one. Later sources win;
// deep merges nested objects instead of replacing them.
type combineDirective struct {
	sources   []combineSource
	deep      bool
	resultKey string
}

func (d *combineDirective) kind() string { return "combine" }

func (d *combineDirective) apply(_ context.Context, st *state) error {
	doc, _ := st.document().(map[string]interface{})
	combined := make(map[string]interface{})

	for _, src := range d.sources {
		raw, ok := domain.LookupPath(doc, src.key)
		if !ok {
			raw, ok = domain.LookupPath(st.input, src.key)
		}
		if !ok || raw == nil {
			continue
		}

		obj, isObject := raw.(map[string]interface{})
		if !isObject {
			return fmt.Errorf("combine source %s is %T, not an object", src.key, raw)
		}

		if src.prefix != "" {
			prefixed := make(map[string]interface{}, len(obj))
			for k, v := range obj {
				prefixed[src.prefix+k] = v
			}
			obj = prefixed
		}

		if !d.deep {
			combined = domain.ShallowMerge(combined, obj)
			continue
		}
		if err := domain.DeepMerge(combined, obj); err != nil {
			return err
		}
	}

	if d.resultKey == "" {
		for k, v := range combined {
			st.results[k] = v
		}
		return nil
	}
	st.results[d.resultKey] = combined
	return nil
}

type scriptEntry struct {
	key  string
	expr string
}

// scriptDirective evaluates CEL expressions in order. An entry without a key
// must produce an object, which is merged into the results.
type scriptDirective struct {
	engine  *scriptEngine
	entries []scriptEntry
}

func (d *scriptDirective) kind() string { return "script" }

func (d *scriptDirective) apply(ctx context.Context, st *state) error {
	for _, entry := range d.entries {
		prg, err := d.engine.compile(entry.expr)
		if err != nil {
			return err
		}

		doc, _ := st.document().(map[string]interface{})
		if doc == nil {
			doc = map[string]interface{}{}
		}

		value, err := d.engine.eval(ctx, prg, map[string]interface{}{
			"input":  doc,
			"result": domain.CloneMap(st.results),
			"data":   st.source,
		})
		if err != nil {
			return fmt.Errorf("script %q: %w", entry.expr, err)
		}

		if entry.key != "" {
			st.results[entry.key] = value
			continue
		}

		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("script %q must produce an object when no key is given", entry.expr)
		}
		for k, v := range obj {
			st.results[k] = v
		}
	}
	return nil
}
