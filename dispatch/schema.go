package dispatch

import "encoding/json"

// SchemaVersion is the version stamped on every schema document.
const SchemaVersion = 1

// SchemaMethod describes one callable entry.
type SchemaMethod struct {
	Name  string    `json:"name"`
	Path  string    `json:"path"`
	Arity int       `json:"arity"`
	Kind  EntryKind `json:"kind"`
}

// SchemaNamespace describes a namespace and its methods.
type SchemaNamespace struct {
	Name    string         `json:"name"`
	Methods []SchemaMethod `json:"methods"`
}

// Schema is the discovery document derived from a call table. It holds only
// plain values, so it survives any generic serialization round trip.
type Schema struct {
	Version    int               `json:"version"`
	Methods    []SchemaMethod    `json:"methods"`
	Namespaces []SchemaNamespace `json:"namespaces"`
}

// Schema derives the discovery document. The output depends only on the
// table, and the table is sorted at build time, so repeated calls marshal to
// identical bytes.
func (t *CallTable) Schema() Schema {
	s := Schema{
		Version:    SchemaVersion,
		Methods:    make([]SchemaMethod, 0, len(t.methods)),
		Namespaces: make([]SchemaNamespace, 0, len(t.namespaces)),
	}
	for _, m := range t.methods {
		s.Methods = append(s.Methods, schemaMethod(m))
	}
	for _, ns := range t.namespaces {
		sn := SchemaNamespace{Name: ns.Name, Methods: make([]SchemaMethod, 0, len(ns.members))}
		for _, m := range ns.members {
			sn.Methods = append(sn.Methods, schemaMethod(m))
		}
		s.Namespaces = append(s.Namespaces, sn)
	}
	return s
}

// MarshalSchema is a shortcut for json.Marshal(t.Schema()).
func (t *CallTable) MarshalSchema() ([]byte, error) {
	return json.Marshal(t.Schema())
}

func schemaMethod(e *Entry) SchemaMethod {
	return SchemaMethod{Name: e.Name, Path: e.Path, Arity: e.Arity, Kind: e.Kind}
}
