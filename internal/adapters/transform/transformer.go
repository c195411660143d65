package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

const defaultInputKey = "data"

// Transformer compiles transformation configs into programs. It is safe for
// concurrent use and caches compiled paths, scripts and programs.
type Transformer struct {
	paths   *pathCache
	scripts *scriptEngine

	mu       sync.RWMutex
	programs map[string]*Program
}

func NewTransformer() (*Transformer, error) {
	scripts, err := newScriptEngine()
	if err != nil {
		return nil, err
	}
	return &Transformer{
		paths:    newPathCache(),
		scripts:  scripts,
		programs: make(map[string]*Program),
	}, nil
}

// Program is a compiled, reusable list of directives.
type Program struct {
	inputKey  string
	outputKey string
	steps     []directive
}

// Compile turns a node config into a Program. Config problems are reported
// as *domain.TransformError naming the offending directive.
func (t *Transformer) Compile(config map[string]interface{}) (*Program, error) {
	cacheKey, err := xjson.Marshal(config)
	if err == nil {
		t.mu.RLock()
		prog, ok := t.programs[string(cacheKey)]
		t.mu.RUnlock()
		if ok {
			return prog, nil
		}
	}

	prog, err := t.compile(config)
	if err != nil {
		return nil, err
	}

	if cacheKey != nil {
		t.mu.Lock()
		t.programs[string(cacheKey)] = prog
		t.mu.Unlock()
	}
	return prog, nil
}

func (t *Transformer) compile(config map[string]interface{}) (*Program, error) {
	prog := &Program{inputKey: defaultInputKey}

	configErr := func(err error) error {
		return &domain.TransformError{Directive: -1, Op: "config", Err: err}
	}

	inputKey, err := stringField(config, "input_key")
	if err != nil {
		return nil, configErr(err)
	}
	if inputKey != "" {
		prog.inputKey = inputKey
	}
	if prog.outputKey, err = stringField(config, "output_key"); err != nil {
		return nil, configErr(err)
	}

	raw, err := listField(config, "transformations")
	if err != nil {
		return nil, configErr(err)
	}
	raw = append(raw, shorthandDirectives(config)...)

	for i, entry := range raw {
		step, err := t.compileDirective(entry)
		if err != nil {
			return nil, &domain.TransformError{Directive: i, Err: err}
		}
		prog.steps = append(prog.steps, step)
	}
	return prog, nil
}

// shorthandDirectives accepts the top-level mappings, filter, combine and
// script keys as extra directives, applied after transformations.
func shorthandDirectives(config map[string]interface{}) []interface{} {
	var out []interface{}
	if m, ok := config["mappings"].(map[string]interface{}); ok {
		for _, key := range sortedKeys(m) {
			out = append(out, map[string]interface{}{"source_path": m[key], "result_key": key})
		}
	}
	for _, key := range []string{"filter", "combine", "script"} {
		if v, ok := config[key]; ok && v != nil {
			out = append(out, map[string]interface{}{key: v})
		}
	}
	return out
}

func (t *Transformer) compileDirective(entry interface{}) (directive, error) {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("directive must be an object, got %T", entry)
	}

	switch {
	case m["script"] != nil:
		return t.compileScript(m["script"])
	case m["combine"] != nil:
		return t.compileCombine(m)
	case m["filter"] != nil:
		return t.compileFilter(m)
	case m["mapping"] != nil:
		return t.compileMapping(m)
	case m["source_path"] != nil:
		return t.compilePath(m)
	}
	return nil, fmt.Errorf("directive has none of source_path, mapping, filter, combine or script")
}

func (t *Transformer) compilePath(m map[string]interface{}) (directive, error) {
	d := &pathDirective{}

	source, err := stringField(m, "source_path")
	if err != nil {
		return nil, err
	}
	if d.path, err = t.paths.compile(source); err != nil {
		return nil, err
	}
	if d.resultKey, err = stringField(m, "result_key"); err != nil {
		return nil, err
	}
	if d.resultKey == "" {
		return nil, fmt.Errorf("result_key is required")
	}
	if d.flatten, err = boolField(m, "flatten_array"); err != nil {
		return nil, err
	}
	if d.unique, err = boolField(m, "unique_values"); err != nil {
		return nil, err
	}
	if d.operation, d.params, err = operationFields(m); err != nil {
		return nil, err
	}
	return d, nil
}

func operationFields(m map[string]interface{}) (string, map[string]interface{}, error) {
	name, err := stringField(m, "operation")
	if err != nil || name == "" {
		return "", nil, err
	}
	if !knownOperation(name) {
		return "", nil, fmt.Errorf("unknown operation %q", name)
	}

	params, err := mapField(m, "params")
	if err != nil {
		return "", nil, err
	}
	if params == nil {
		if params, err = mapField(m, "args"); err != nil {
			return "", nil, err
		}
	}
	return name, params, nil
}

func (t *Transformer) compileMapping(m map[string]interface{}) (directive, error) {
	d := &mappingDirective{fields: make(map[string]fieldSpec)}

	source, err := stringField(m, "source_path")
	if err != nil {
		return nil, err
	}
	if source != "" {
		if d.source, err = t.paths.compile(source); err != nil {
			return nil, err
		}
	}
	if d.resultKey, err = stringField(m, "result_key"); err != nil {
		return nil, err
	}
	if d.flatten, err = boolField(m, "flatten_array"); err != nil {
		return nil, err
	}

	fields, err := mapField(m, "mapping")
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(fields) {
		spec, err := t.compileField(fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		d.fields[name] = spec
		d.order = append(d.order, name)
	}
	return d, nil
}

func (t *Transformer) compileField(raw interface{}) (fieldSpec, error) {
	switch v := raw.(type) {
	case string:
		expr, err := compileFieldExpr(v, t.paths)
		return fieldSpec{expr: expr}, err
	case map[string]interface{}:
		path, err := stringField(v, "path")
		if err != nil {
			return fieldSpec{}, err
		}
		if path == "" {
			return fieldSpec{}, fmt.Errorf("path is required")
		}
		expr, err := compileFieldExpr(path, t.paths)
		if err != nil {
			return fieldSpec{}, err
		}
		op, params, err := operationFields(v)
		if err != nil {
			return fieldSpec{}, err
		}
		return fieldSpec{expr: expr, operation: op, params: params, fallback: v["default"]}, nil
	}
	return fieldSpec{}, fmt.Errorf("must be an expression string or an object, got %T", raw)
}

func (t *Transformer) compileFilter(m map[string]interface{}) (directive, error) {
	spec, err := mapField(m, "filter")
	if err != nil {
		return nil, err
	}

	d := &filterDirective{}
	source, err := stringField(spec, "source_path")
	if err != nil {
		return nil, err
	}
	if source == "" {
		return nil, fmt.Errorf("filter source_path is required")
	}
	if d.source, err = t.paths.compile(source); err != nil {
		return nil, err
	}
	if d.resultKey, err = stringField(spec, "result_key"); err != nil {
		return nil, err
	}
	if d.resultKey == "" {
		d.resultKey = "filtered"
	}

	conditions, err := listField(spec, "conditions")
	if err != nil {
		return nil, err
	}
	for i, raw := range conditions {
		c, err := compileCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		d.conditions = append(d.conditions, c)
	}
	return d, nil
}

func (t *Transformer) compileCombine(m map[string]interface{}) (directive, error) {
	spec, err := mapField(m, "combine")
	if err != nil {
		return nil, err
	}

	d := &combineDirective{}
	if d.deep, err = boolField(spec, "deep"); err != nil {
		return nil, err
	}
	if d.resultKey, err = stringField(spec, "result_key"); err != nil {
		return nil, err
	}

	sources, err := listField(spec, "sources")
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("combine needs at least one source")
	}
	for i, raw := range sources {
		var src combineSource
		switch v := raw.(type) {
		case string:
			src.key = v
		case map[string]interface{}:
			if src.key, err = stringField(v, "key"); err != nil {
				return nil, err
			}
			if src.prefix, err = stringField(v, "prefix"); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("combine source %d must be a key or an object", i)
		}
		if src.key == "" {
			return nil, fmt.Errorf("combine source %d has no key", i)
		}
		d.sources = append(d.sources, src)
	}
	return d, nil
}

func (t *Transformer) compileScript(raw interface{}) (directive, error) {
	d := &scriptDirective{engine: t.scripts}

	switch v := raw.(type) {
	case string:
		d.entries = []scriptEntry{{expr: v}}
	case map[string]interface{}:
		for _, key := range sortedKeys(v) {
			expr, ok := v[key].(string)
			if !ok {
				return nil, fmt.Errorf("script %s must be a string", key)
			}
			d.entries = append(d.entries, scriptEntry{key: key, expr: expr})
		}
	case []interface{}:
		for i, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok || len(entry) != 1 {
				return nil, fmt.Errorf("script entry %d must be a single {key: expression} object", i)
			}
			for key, value := range entry {
				expr, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("script %s must be a string", key)
				}
				d.entries = append(d.entries, scriptEntry{key: key, expr: expr})
			}
		}
	default:
		return nil, fmt.Errorf("script must be a string, an object or a list, got %T", raw)
	}

	for _, entry := range d.entries {
		if _, err := t.scripts.compile(entry.expr); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Run applies the program to a node input. The source document is
// input[input_key] when present and the whole input otherwise.
func (p *Program) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	source, ok := input[p.inputKey]
	if !ok {
		source = input
	}

	st := &state{source: source, input: input, results: make(map[string]interface{})}
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step.apply(ctx, st); err != nil {
			return nil, &domain.TransformError{Directive: i, Op: step.kind(), Err: err}
		}
	}

	results := st.results
	if len(p.steps) == 0 {
		if obj, ok := source.(map[string]interface{}); ok {
			results = domain.CloneMap(obj)
		} else {
			results = map[string]interface{}{"result": domain.CloneValue(source)}
		}
	}

	if p.outputKey != "" {
		return map[string]interface{}{p.outputKey: results}, nil
	}
	return results, nil
}
