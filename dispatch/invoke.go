// File: dispatch/invoke.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/lguibr/rpcactor/rpcerr"
)

// invoke calls e with JSON-like arguments. Missing trailing arguments become
// zero values; surplus arguments are rejected. Panics and returned errors
// surface as classified errors without stack traces.
func invoke(ctx context.Context, e *Entry, args []any) (result any, err error) {
	ft := e.fn.Type()
	offset := 0
	in := make([]reflect.Value, 0, ft.NumIn()+len(args))
	if e.takesContext {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}

	declared := ft.NumIn() - offset
	fixed := declared
	if ft.IsVariadic() {
		fixed--
	}
	if !ft.IsVariadic() && len(args) > declared {
		return nil, rpcerr.ArgumentParsef("%s takes %d argument(s), got %d", e.Path, declared, len(args))
	}

	for i := 0; i < fixed; i++ {
		var arg any
		if i < len(args) {
			arg = args[i]
		}
		v, err := convertArg(arg, ft.In(offset+i))
		if err != nil {
			return nil, rpcerr.ArgumentParsef("%s argument %d: %v", e.Path, i, err)
		}
		in = append(in, v)
	}
	if ft.IsVariadic() {
		elem := ft.In(ft.NumIn() - 1).Elem()
		for i := fixed; i < len(args); i++ {
			v, err := convertArg(args[i], elem)
			if err != nil {
				return nil, rpcerr.ArgumentParsef("%s argument %d: %v", e.Path, i, err)
			}
			in = append(in, v)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = rpcerr.HandlerFailure(fmt.Errorf("panic: %v", r))
		}
	}()
	return collectResults(ft, e.fn.Call(in))
}

// collectResults folds return values: a trailing error becomes the error,
// one remaining value is returned as is, several are returned as a slice.
func collectResults(ft reflect.Type, out []reflect.Value) (any, error) {
	values := make([]any, 0, len(out))
	for i, o := range out {
		if i == len(out)-1 && ft.Out(i) == errorType {
			if !o.IsNil() {
				return nil, rpcerr.From(o.Interface().(error))
			}
			continue
		}
		values = append(values, o.Interface())
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

// convertArg turns a decoded JSON value into a value of type t.
func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	av := reflect.ValueOf(arg)
	if av.Type().AssignableTo(t) {
		return av, nil
	}

	if t.Kind() == reflect.String {
		switch a := arg.(type) {
		case float64:
			return reflect.ValueOf(strconv.FormatFloat(a, 'f', -1, 64)).Convert(t), nil
		case bool:
			return reflect.ValueOf(strconv.FormatBool(a)).Convert(t), nil
		}
	}

	raw, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s", raw, t)
	}
	return ptr.Elem(), nil
}

// bindParams turns envelope params into positional arguments for e.
//
// An array is positional. An object is passed whole when e takes exactly one
// struct or map argument; otherwise its values are spread in the order given
// by ParamNamer, or in key order as written. Any other JSON value is a single
// argument.
func bindParams(e *Entry, params json.RawMessage) ([]any, error) {
	raw := bytes.TrimSpace(params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var args []any
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rpcerr.ArgumentParsef("params: %v", err)
		}
		return args, nil

	case '{':
		if e.Arity == 1 && acceptsObject(e.paramType(0)) {
			var obj any
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, rpcerr.ArgumentParsef("params: %v", err)
			}
			return []any{obj}, nil
		}
		if len(e.paramNames) > 0 {
			var obj map[string]any
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, rpcerr.ArgumentParsef("params: %v", err)
			}
			args := make([]any, len(e.paramNames))
			for i, name := range e.paramNames {
				args[i] = obj[name]
			}
			return args, nil
		}
		return orderedValues(raw)

	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, rpcerr.ArgumentParsef("params: %v", err)
		}
		return []any{v}, nil
	}
}

func acceptsObject(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Interface:
		return true
	default:
		return false
	}
}

// orderedValues returns the values of a JSON object in key order as written.
func orderedValues(raw []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, rpcerr.ArgumentParsef("params: %v", err)
	}
	var values []any
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, rpcerr.ArgumentParsef("params: %v", err)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, rpcerr.ArgumentParsef("params: %v", err)
		}
		values = append(values, v)
	}
	return values, nil
}
