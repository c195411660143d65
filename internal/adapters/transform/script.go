package transform

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"google.golang.org/protobuf/types/known/structpb"
)

const scriptCostLimit = 100_000

var structValueType = reflect.TypeOf(&structpb.Value{})

// scriptEngine compiles sandboxed CEL expressions. Scripts see three
// variables: input (the working document), result (results so far) and data
// (the untouched source document). Only the CEL standard library, the string,
// math, list and encoder extensions and a few helpers are available.
type scriptEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newScriptEngine() (*scriptEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("result", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("data", cel.DynType),
		ext.Strings(),
		ext.Math(),
		ext.Lists(),
		ext.Encoders(),
		scriptHelpers(),
	)
	if err != nil {
		return nil, fmt.Errorf("create script environment: %w", err)
	}
	return &scriptEngine{env: env, programs: make(map[string]cel.Program)}, nil
}

func (s *scriptEngine) compile(expr string) (cel.Program, error) {
	s.mu.RLock()
	prg, ok := s.programs[expr]
	s.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := s.env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile script %q: %w", expr, iss.Err())
	}

	prg, err := s.env.Program(ast,
		cel.CostLimit(scriptCostLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("build script %q: %w", expr, err)
	}

	s.mu.Lock()
	s.programs[expr] = prg
	s.mu.Unlock()
	return prg, nil
}

func (s *scriptEngine) eval(ctx context.Context, prg cel.Program, vars map[string]interface{}) (interface{}, error) {
	val, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return nil, err
	}
	return nativeValue(val)
}

// nativeValue converts a CEL result into plain JSON-compatible Go data.
func nativeValue(val ref.Val) (interface{}, error) {
	native, err := val.ConvertToNative(structValueType)
	if err != nil {
		return nil, fmt.Errorf("script result of type %s is not JSON-compatible: %w", val.Type().TypeName(), err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}

func scriptHelpers() cel.EnvOption {
	return cel.Lib(helperLib{})
}

type helperLib struct{}

func (helperLib) LibraryName() string { return "conduit.transform.helpers" }

func (helperLib) ProgramOptions() []cel.ProgramOption { return nil }

func (helperLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("now",
			cel.Overload("now", []*cel.Type{}, cel.TimestampType,
				cel.FunctionBinding(func(...ref.Val) ref.Val {
					return types.Timestamp{Time: time.Now().UTC()}
				}))),
		cel.Function("formatDate",
			cel.Overload("formatDate_timestamp_string", []*cel.Type{cel.TimestampType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(ts, layout ref.Val) ref.Val {
					t, ok := ts.(types.Timestamp)
					if !ok {
						return types.MaybeNoSuchOverloadErr(ts)
					}
					return types.String(t.Time.Format(string(layout.(types.String))))
				})),
			cel.Overload("formatDate_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.StringType,
				cel.BinaryBinding(func(raw, layout ref.Val) ref.Val {
					t, err := time.Parse(time.RFC3339Nano, string(raw.(types.String)))
					if err != nil {
						return types.NewErr("formatDate: %v", err)
					}
					return types.String(t.Format(string(layout.(types.String))))
				}))),
		cel.Function("regexMatch",
			cel.Overload("regexMatch_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(s, pattern ref.Val) ref.Val {
					re, err := regexp.Compile(string(pattern.(types.String)))
					if err != nil {
						return types.NewErr("regexMatch: %v", err)
					}
					return types.Bool(re.MatchString(string(s.(types.String))))
				}))),
		cel.Function("regexReplace",
			cel.Overload("regexReplace_string_string_string", []*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					re, err := regexp.Compile(string(args[1].(types.String)))
					if err != nil {
						return types.NewErr("regexReplace: %v", err)
					}
					return types.String(re.ReplaceAllString(string(args[0].(types.String)), string(args[2].(types.String))))
				}))),
	}
}
