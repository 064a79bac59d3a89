package dispatch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/lguibr/rpcactor/rpcerr"
)

// EntryKind tells a top-level method from a namespace.
type EntryKind int

const (
	KindMethod EntryKind = iota + 1
	KindNamespace
)

func (k EntryKind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindNamespace:
		return "namespace"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

func (k EntryKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EntryKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "method":
		*k = KindMethod
	case "namespace":
		*k = KindNamespace
	default:
		return fmt.Errorf("unknown entry kind %q", s)
	}
	return nil
}

// Entry is one row of the call table. A Method entry carries a bound
// callable; a Namespace entry carries its member methods, each bound to the
// namespace object rather than to the actor.
type Entry struct {
	Name  string
	Path  string
	Arity int
	Kind  EntryKind

	fn           reflect.Value
	takesContext bool
	paramNames   []string

	members []*Entry
	byName  map[string]*Entry
}

// Members returns the methods of a namespace entry.
func (e *Entry) Members() []*Entry { return e.members }

// Member returns the namespace method called name.
func (e *Entry) Member(name string) (*Entry, bool) {
	m, ok := e.byName[name]
	return m, ok
}

// paramType returns the type of the i-th RPC parameter (context excluded).
func (e *Entry) paramType(i int) reflect.Type {
	offset := 0
	if e.takesContext {
		offset = 1
	}
	return e.fn.Type().In(offset + i)
}

// CallTable is the flattened dispatch table of one actor instance. It is
// immutable once built.
type CallTable struct {
	methods    []*Entry
	namespaces []*Entry
	index      map[string]*Entry
}

func newCallTable() *CallTable {
	return &CallTable{index: make(map[string]*Entry)}
}

func (t *CallTable) add(e *Entry) bool {
	if _, exists := t.index[e.Name]; exists {
		return false
	}
	t.index[e.Name] = e
	if e.Kind == KindNamespace {
		t.namespaces = append(t.namespaces, e)
	} else {
		t.methods = append(t.methods, e)
	}
	return true
}

// Methods returns the top-level method entries, sorted by name.
func (t *CallTable) Methods() []*Entry { return t.methods }

// Namespaces returns the namespace entries, sorted by name.
func (t *CallTable) Namespaces() []*Entry { return t.namespaces }

// Entry returns the top-level entry called name.
func (t *CallTable) Entry(name string) (*Entry, bool) {
	e, ok := t.index[name]
	return e, ok
}

// Lookup resolves "name" or "namespace.name" to a callable entry.
func (t *CallTable) Lookup(path string) (*Entry, error) {
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if part == "" || strings.HasPrefix(part, "_") {
			return nil, rpcerr.NotFound(path)
		}
	}

	switch len(parts) {
	case 1:
		e, ok := t.index[parts[0]]
		if !ok || e.Kind != KindMethod {
			return nil, rpcerr.NotFound(path)
		}
		return e, nil
	case 2:
		ns, ok := t.index[parts[0]]
		if !ok || ns.Kind != KindNamespace {
			return nil, rpcerr.NotFound(path)
		}
		m, ok := ns.Member(parts[1])
		if !ok {
			return nil, rpcerr.NotFound(path)
		}
		return m, nil
	default:
		return nil, rpcerr.NotFound(path)
	}
}
