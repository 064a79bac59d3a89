package expr

import (
	"encoding/json"
	"strings"
)

// Node is a chaining-expression AST node.
type Node interface {
	node()
	String() string
}

// Identifier is a bare top-level name.
type Identifier struct {
	Name string
}

// MemberAccess looks up Name on the value produced by Object.
type MemberAccess struct {
	Object Node
	Name   string
}

// Call invokes the value produced by Callee. Callee is always an
// Identifier or a MemberAccess.
type Call struct {
	Callee Node
	Args   []any
}

func (*Identifier) node()   {}
func (*MemberAccess) node() {}
func (*Call) node()         {}

func (n *Identifier) String() string { return n.Name }

func (n *MemberAccess) String() string { return n.Object.String() + "." + n.Name }

func (n *Call) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		b, err := json.Marshal(a)
		if err != nil {
			parts[i] = "?"
			continue
		}
		parts[i] = string(b)
	}
	return n.Callee.String() + "(" + strings.Join(parts, ",") + ")"
}

// Operation is one step of a flattened chain. Non-call operations are
// property lookups; call operations invoke the current value.
type Operation struct {
	Name   string `json:"name"`
	IsCall bool   `json:"isCall"`
	Args   []any  `json:"args"`
}

// Operations flattens an AST into the left-to-right list of operations.
func Operations(n Node) []Operation {
	switch n := n.(type) {
	case *Identifier:
		return []Operation{{Name: n.Name}}
	case *MemberAccess:
		return append(Operations(n.Object), Operation{Name: n.Name})
	case *Call:
		ops := Operations(n.Callee)
		last := &ops[len(ops)-1]
		last.IsCall = true
		last.Args = n.Args
		return ops
	default:
		return nil
	}
}

// HasCallBeforeAccess reports whether a call is followed by further
// property or method access, the defining shape of a chained expression.
func HasCallBeforeAccess(ops []Operation) bool {
	for i, op := range ops {
		if op.IsCall && i < len(ops)-1 {
			return true
		}
	}
	return false
}
