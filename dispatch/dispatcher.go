// File: dispatch/dispatcher.go
package dispatch

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lguibr/rpcactor/expr"
	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

type transportKey struct{}

// WithTransport tags ctx with the name of the transport serving the call.
func WithTransport(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, transportKey{}, name)
}

// TransportFrom returns the transport name stored by WithTransport.
func TransportFrom(ctx context.Context) string {
	if name, ok := ctx.Value(transportKey{}).(string); ok && name != "" {
		return name
	}
	return "local"
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithScope reports dispatch metrics under scope.
func WithScope(scope tally.Scope) Option {
	return func(d *Dispatcher) {
		if scope != nil {
			d.scope = scope.SubScope("dispatch")
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher resolves paths and chains against one call table. Every
// transport funnels into the same Dispatcher, so visibility and error
// classification are identical across them.
type Dispatcher struct {
	table  *CallTable
	scope  tally.Scope
	logger *zap.Logger
}

// NewDispatcher returns a Dispatcher over table.
func NewDispatcher(table *CallTable, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:  table,
		scope:  tally.NoopScope,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Table returns the call table the dispatcher resolves against.
func (d *Dispatcher) Table() *CallTable { return d.table }

// Call resolves path ("name" or "ns.method") and invokes it with args.
func (d *Dispatcher) Call(ctx context.Context, path string, args []any) (any, error) {
	return d.observe(ctx, path, func() (any, error) {
		e, err := d.table.Lookup(path)
		if err != nil {
			return nil, err
		}
		return invoke(ctx, e, args)
	})
}

// CallNamed resolves path and binds envelope-style params before invoking.
func (d *Dispatcher) CallNamed(ctx context.Context, path string, params json.RawMessage) (any, error) {
	return d.observe(ctx, path, func() (any, error) {
		e, err := d.table.Lookup(path)
		if err != nil {
			return nil, err
		}
		args, err := bindParams(e, params)
		if err != nil {
			return nil, err
		}
		return invoke(ctx, e, args)
	})
}

// Eval replays a parsed chain. The first operation resolves through the
// call table; each later operation is a property lookup or method call on
// the value produced by the previous one.
func (d *Dispatcher) Eval(ctx context.Context, ops []expr.Operation) (any, error) {
	label := chainLabel(ops)
	return d.observe(ctx, label, func() (any, error) {
		if len(ops) == 0 {
			return nil, rpcerr.InvalidExpressionf("empty expression")
		}
		first := ops[0]
		if strings.HasPrefix(first.Name, "_") {
			return nil, rpcerr.NotFound(first.Name)
		}
		e, ok := d.table.Entry(first.Name)
		if !ok {
			return nil, rpcerr.NotFound(first.Name)
		}

		var (
			cur  any
			err  error
			rest = ops[1:]
			path = first.Name
		)
		switch e.Kind {
		case KindMethod:
			if !first.IsCall {
				return nil, rpcerr.InvalidExpressionf("%s is a method and must be called", path)
			}
			if cur, err = invoke(ctx, e, first.Args); err != nil {
				return nil, err
			}
		case KindNamespace:
			if first.IsCall {
				return nil, rpcerr.InvalidExpressionf("%s is a namespace and cannot be called", path)
			}
			if len(rest) == 0 {
				return nil, rpcerr.InvalidExpressionf("%s is a namespace, not a value", path)
			}
			op := rest[0]
			path += "." + op.Name
			m, ok := e.Member(op.Name)
			if !ok || strings.HasPrefix(op.Name, "_") {
				return nil, rpcerr.NotFound(path)
			}
			if !op.IsCall {
				return nil, rpcerr.InvalidExpressionf("%s is a method and must be called", path)
			}
			if cur, err = invoke(ctx, m, op.Args); err != nil {
				return nil, err
			}
			rest = rest[1:]
		}

		for _, op := range rest {
			path += "." + op.Name
			if cur, err = step(ctx, cur, op, path); err != nil {
				return nil, err
			}
		}
		return cur, nil
	})
}

// step applies one operation to a value produced earlier in a chain.
func step(ctx context.Context, cur any, op expr.Operation, path string) (any, error) {
	if op.Name == "" || strings.HasPrefix(op.Name, "_") {
		return nil, rpcerr.NotFound(path)
	}
	v := reflect.ValueOf(cur)
	if !v.IsValid() {
		return nil, rpcerr.NotFound(path)
	}

	if op.IsCall {
		fn, ok := methodByRPCName(v, op.Name)
		if !ok {
			member, found := memberValue(v, op.Name)
			if found && member.Kind() == reflect.Interface {
				member = member.Elem()
			}
			if !found || member.Kind() != reflect.Func || member.IsNil() {
				return nil, rpcerr.NotFound(path)
			}
			fn = member
		}
		return invoke(ctx, newMethodEntry(op.Name, path, fn, nil), op.Args)
	}

	member, ok := memberValue(v, op.Name)
	if !ok {
		if _, isMethod := methodByRPCName(v, op.Name); isMethod {
			return nil, rpcerr.InvalidExpressionf("%s is a method and must be called", path)
		}
		return nil, rpcerr.NotFound(path)
	}
	return member.Interface(), nil
}

// methodByRPCName finds an exported method whose wire name is name. Pointer
// receiver methods are reachable on non-pointer values through a copy.
func methodByRPCName(v reflect.Value, name string) (reflect.Value, bool) {
	candidates := []reflect.Value{v}
	if v.Kind() != reflect.Ptr && v.Kind() != reflect.Interface {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		candidates = append(candidates, p)
	}
	for _, c := range candidates {
		t := c.Type()
		for i := 0; i < t.NumMethod(); i++ {
			if RPCName(t.Method(i).Name) == name {
				return c.Method(i), true
			}
		}
	}
	return reflect.Value{}, false
}

// memberValue looks up name on a struct (rpc tag, json tag, or wire name of
// the Go field) or on a string-keyed map.
func memberValue(v reflect.Value, name string) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if fieldMatches(f, name) {
				return v.Field(i), true
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if mv.IsValid() {
			return mv, true
		}
	}
	return reflect.Value{}, false
}

func fieldMatches(f reflect.StructField, name string) bool {
	if tag := f.Tag.Get("rpc"); tag != "" {
		return tag != "-" && tag == name
	}
	if tag := f.Tag.Get("json"); tag != "" {
		jsonName := strings.Split(tag, ",")[0]
		if jsonName == "-" {
			return false
		}
		if jsonName != "" {
			return jsonName == name
		}
	}
	return RPCName(f.Name) == name || f.Name == name
}

func chainLabel(ops []expr.Operation) string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	return strings.Join(names, ".")
}

func (d *Dispatcher) observe(ctx context.Context, path string, fn func() (any, error)) (any, error) {
	transport := TransportFrom(ctx)
	scope := d.scope.Tagged(map[string]string{"transport": transport})
	scope.Counter("calls").Inc(1)
	start := time.Now()

	result, err := fn()

	scope.Timer("latency").Record(time.Since(start))
	if err != nil {
		rerr := rpcerr.From(err)
		scope.Tagged(map[string]string{"code": strconv.Itoa(rerr.Code())}).Counter("errors").Inc(1)
		d.logger.Debug("dispatch failed",
			zap.String("path", path),
			zap.String("transport", transport),
			zap.Stringer("kind", rerr.Kind),
			zap.String("message", rerr.Message))
		return nil, rerr
	}
	return result, nil
}
