package ir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

// DefaultScriptTimeout bounds one annotation script.
const DefaultScriptTimeout = 5 * time.Second

// defaultMaxSteps bounds the Starlark computation of one script.
const defaultMaxSteps = 10_000_000

// Script is one Starlark annotation script. It must define
//
//	def annotate(ir):
//	    return {...}
//
// where ir exposes namespace, version and resources as struct attributes.
type Script struct {
	Name     string
	Filename string
	Source   []byte
}

// ScriptRunner executes annotation scripts in a sandbox: no load(), no
// filesystem, print() goes to the reporter.
type ScriptRunner struct {
	Timeout  time.Duration
	MaxSteps uint64
}

// Annotate runs s against view and returns the dict annotate() produced.
func (r *ScriptRunner) Annotate(ctx context.Context, s Script, view map[string]any, reporter engine.Reporter) (map[string]any, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	maxSteps := r.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}

	thread := &starlark.Thread{
		Name: "wpk:" + s.Name,
		Print: func(_ *starlark.Thread, msg string) {
			reporter.Debug("Script printed.", map[string]any{"script": s.Name, "message": msg})
		},
	}
	thread.SetMaxExecutionSteps(maxSteps)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() { thread.Cancel(runCtx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{"struct": starlark.NewBuiltin("struct", starlarkstruct.Make)}
	globals, err := starlark.ExecFile(thread, s.Filename, s.Source, predeclared)
	if err != nil {
		return nil, scriptError(runCtx, s, err)
	}

	fn, ok := globals["annotate"].(starlark.Callable)
	if !ok {
		return nil, engine.NewValidationError(fmt.Sprintf("script %s does not define annotate(ir)", s.Name), nil)
	}

	arg, err := toStarlarkValue(view)
	if err != nil {
		return nil, engine.NewUnexpectedError("failed to expose IR to script "+s.Name, err)
	}
	result, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, scriptError(runCtx, s, err)
	}

	dict, ok := result.(*starlark.Dict)
	if !ok {
		return nil, engine.NewValidationError(
			fmt.Sprintf("script %s: annotate must return a dict, got %s", s.Name, result.Type()), nil)
	}
	out, err := fromStarlarkValue(dict)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("script %s: %v", s.Name, err), err)
	}
	return out.(map[string]any), nil
}

func scriptError(ctx context.Context, s Script, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.NewValidationError(fmt.Sprintf("script %s was cancelled: %v", s.Name, ctxErr), err)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return engine.NewValidationError(fmt.Sprintf("script %s failed: %s", s.Name, evalErr.Backtrace()), err)
	}
	return engine.NewValidationError(fmt.Sprintf("script %s failed: %v", s.Name, err), err)
}

// toStarlarkValue converts a Go value to a Starlark value. Maps become structs
// so scripts can use attribute access.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case []map[string]any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		fields := make(starlark.StringDict, len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = converted
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s is too large", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromSequence(val)
	case starlark.Tuple:
		return fromSequence(val)
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		names := val.AttrNames()
		sort.Strings(names)
		dict := make(map[string]any, len(names))
		for _, name := range names {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromSequence(seq starlark.Indexable) ([]any, error) {
	list := make([]any, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
