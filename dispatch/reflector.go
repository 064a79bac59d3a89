// File: dispatch/reflector.go
package dispatch

import (
	"context"
	"errors"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"unicode"
)

// SystemReserved lists lifecycle and host accessor names that are never
// exposed, whatever the actor declares.
var SystemReserved = []string{
	"fetch",
	"alarm",
	"webSocketMessage",
	"webSocketClose",
	"webSocketError",
	"receive",
	"constructor",
	"schema",
	"broadcast",
	"connectionCount",
	"storage",
	"ctx",
	"env",
	"emitter",
	// Visibility markers below.
	"rpcMethods",
	"hiddenMethods",
	"rpcParams",
}

// Exposer restricts the exposed top-level names to an explicit allow-list.
type Exposer interface {
	RPCMethods() []string
}

// Hider removes names that would otherwise be exposed.
type Hider interface {
	HiddenMethods() []string
}

// ParamNamer declares parameter names per method path so that envelope
// params given as an object can be spread positionally.
type ParamNamer interface {
	RPCParams() map[string][]string
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ReflectOption configures BuildCallTable.
type ReflectOption func(*reflectConfig)

type reflectConfig struct {
	excluded map[string]struct{}
	base     reflect.Type
}

// WithReserved adds names to the reserved set.
func WithReserved(names ...string) ReflectOption {
	return func(c *reflectConfig) {
		for _, n := range names {
			c.excluded[n] = struct{}{}
		}
	}
}

// WithBase excludes the methods an actor inherits from embedding base's
// type. It plays the role of the host base class at the root of the actor's
// embedding chain; a method the actor declares itself under the same name
// stays visible.
func WithBase(base any) ReflectOption {
	return func(c *reflectConfig) {
		t := reflect.TypeOf(base)
		if t == nil {
			return
		}
		if t.Kind() != reflect.Ptr {
			t = reflect.PointerTo(t)
		}
		c.base = t
	}
}

// BuildCallTable reflects over instance and produces its call table.
//
// Exported methods (including methods promoted from embedded structs) become
// Method entries bound to instance. Exported, non-embedded fields become
// Method entries when they hold a func, or Namespace entries when they hold a
// struct, pointer, interface or map exposing at least one callable. Reserved
// names, names starting with '_' and names filtered by Exposer/Hider are
// skipped.
func BuildCallTable(instance any, opts ...ReflectOption) (*CallTable, error) {
	v := reflect.ValueOf(instance)
	if !v.IsValid() {
		return nil, errors.New("dispatch: nil instance")
	}
	if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return nil, errors.New("dispatch: nil instance")
	}

	cfg := &reflectConfig{excluded: make(map[string]struct{})}
	for _, n := range SystemReserved {
		cfg.excluded[n] = struct{}{}
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var allowed map[string]struct{}
	if exp, ok := instance.(Exposer); ok {
		allowed = make(map[string]struct{})
		for _, n := range exp.RPCMethods() {
			allowed[n] = struct{}{}
		}
	}
	if hider, ok := instance.(Hider); ok {
		for _, n := range hider.HiddenMethods() {
			cfg.excluded[n] = struct{}{}
		}
	}
	var params map[string][]string
	if namer, ok := instance.(ParamNamer); ok {
		params = namer.RPCParams()
	}

	unreserved := func(name string) bool {
		if name == "" || strings.HasPrefix(name, "_") {
			return false
		}
		_, reserved := cfg.excluded[name]
		return !reserved
	}
	visible := func(name string) bool {
		if !unreserved(name) {
			return false
		}
		if allowed != nil {
			_, ok := allowed[name]
			return ok
		}
		return true
	}

	table := newCallTable()

	t := v.Type()
	var methods []*Entry
	for i := 0; i < t.NumMethod(); i++ {
		goName := t.Method(i).Name
		name := RPCName(goName)
		if !visible(name) || inherited(cfg.base, t, goName) {
			continue
		}
		methods = append(methods, newMethodEntry(name, name, v.Method(i), params[name]))
	}
	for _, m := range methods {
		table.add(m)
	}

	sv := reflect.Indirect(v)
	if sv.Kind() != reflect.Struct {
		return table, nil
	}
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name, skip := fieldRPCName(f)
		if skip || !visible(name) {
			continue
		}
		if _, seen := table.index[name]; seen {
			continue
		}

		fv := sv.Field(i)
		if fv.Kind() == reflect.Func {
			if !fv.IsNil() {
				table.add(newMethodEntry(name, name, fv, params[name]))
			}
			continue
		}
		if ns := buildNamespace(name, fv, params, unreserved); ns != nil {
			table.add(ns)
		}
	}
	sortEntries(table.methods)
	sortEntries(table.namespaces)
	return table, nil
}

// buildNamespace returns a Namespace entry when v holds at least one
// callable member, nil otherwise. A struct-valued field is bound through its
// address, so pointer methods apply and state accumulates in the field.
// Member names go through the same reserved-name filter as top-level names.
func buildNamespace(name string, v reflect.Value, params map[string][]string, unreserved func(string) bool) *Entry {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct && v.CanAddr() {
		v = v.Addr()
	}

	var members []*Entry
	addMember := func(member string, fn reflect.Value) {
		path := name + "." + member
		if !unreserved(member) || !unreserved(path) {
			return
		}
		members = append(members, newMethodEntry(member, path, fn, params[path]))
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Struct:
		if v.Kind() == reflect.Ptr && v.IsNil() {
			return nil
		}
		t := v.Type()
		for i := 0; i < t.NumMethod(); i++ {
			addMember(RPCName(t.Method(i).Name), v.Method(i))
		}
		if elem := reflect.Indirect(v); elem.Kind() == reflect.Struct {
			et := elem.Type()
			for i := 0; i < et.NumField(); i++ {
				f := et.Field(i)
				fv := elem.Field(i)
				if !f.IsExported() || f.Anonymous || fv.Kind() != reflect.Func || fv.IsNil() {
					continue
				}
				if member, skip := fieldRPCName(f); !skip {
					addMember(member, fv)
				}
			}
		}
	case reflect.Map:
		if v.IsNil() || v.Type().Key().Kind() != reflect.String {
			return nil
		}
		iter := v.MapRange()
		for iter.Next() {
			fn := iter.Value()
			if fn.Kind() == reflect.Interface {
				fn = fn.Elem()
			}
			if fn.Kind() == reflect.Func && !fn.IsNil() {
				addMember(iter.Key().String(), fn)
			}
		}
	default:
		return nil
	}

	if len(members) == 0 {
		return nil
	}
	sortEntries(members)
	ns := &Entry{
		Name:    name,
		Path:    name,
		Kind:    KindNamespace,
		members: make([]*Entry, 0, len(members)),
		byName:  make(map[string]*Entry, len(members)),
	}
	for _, m := range members {
		if _, dup := ns.byName[m.Name]; dup {
			continue
		}
		ns.byName[m.Name] = m
		ns.members = append(ns.members, m)
	}
	return ns
}

// inherited reports whether t's method goName is one of base's methods
// reached through embedding. A method t declares itself has a real source
// location; promoted methods are compiler-generated wrappers.
func inherited(base, t reflect.Type, goName string) bool {
	if base == nil {
		return false
	}
	if _, ok := base.MethodByName(goName); !ok {
		return false
	}
	if t.Kind() == reflect.Ptr {
		if m, ok := t.Elem().MethodByName(goName); ok {
			return isWrapper(m.Func)
		}
	}
	m, ok := t.MethodByName(goName)
	return ok && isWrapper(m.Func)
}

func isWrapper(fn reflect.Value) bool {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return false
	}
	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}

func newMethodEntry(name, path string, fn reflect.Value, paramNames []string) *Entry {
	ft := fn.Type()
	takesContext := ft.NumIn() > 0 && ft.In(0) == contextType
	arity := ft.NumIn()
	if takesContext {
		arity--
	}
	return &Entry{
		Name:         name,
		Path:         path,
		Arity:        arity,
		Kind:         KindMethod,
		fn:           fn,
		takesContext: takesContext,
		paramNames:   paramNames,
	}
}

func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}

// fieldRPCName resolves a struct field's RPC name from its `rpc` tag, falling
// back to RPCName of the Go name. A tag of "-" hides the field.
func fieldRPCName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("rpc")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		return tag, false
	}
	return RPCName(f.Name), false
}

// RPCName converts an exported Go identifier into its wire name by
// lower-casing the leading initialism: AddNumbers -> addNumbers,
// ID -> id, HTTPStatus -> httpStatus.
func RPCName(goName string) string {
	runes := []rune(goName)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return goName
	case n == 1 || n == len(runes):
		// single leading capital, or an all-caps name
	default:
		// keep the capital that starts the next word: HTTPStatus -> httpStatus
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
