// Package model holds the core data types shared across stratum's
// components: stream configuration, schema, staging file state, artifact
// and manifest records, and cluster membership.
package model

import (
	"sort"

	"github.com/spaolacci/murmur3"
)

// LogicalType is one of the fixed lattice of field types a schema may contain.
type LogicalType string

const (
	TypeBoolean LogicalType = "Boolean"
	TypeInt64   LogicalType = "Int64"
	TypeFloat64 LogicalType = "Float64"
	TypeUtf8    LogicalType = "Utf8"
	TypeTimestamp LogicalType = "Timestamp" // microsecond, UTC
	TypeList    LogicalType = "List"
	TypeStruct  LogicalType = "Struct"
	TypeNull    LogicalType = "Null"
)

// Field is a single (name, type, nullable) tuple in a Schema.
type Field struct {
	Name     string      `json:"name"`
	Type     LogicalType `json:"type"`
	Nullable bool        `json:"nullable"`
	// Elem is the element type for List<T>; nil for non-list fields.
	Elem *Field `json:"elem,omitempty"`
	// Children holds the member fields for Struct<...>; nil otherwise.
	Children []Field `json:"children,omitempty"`
}

// Schema is an ordered set of fields with a canonical fingerprint.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Fingerprint computes a 64-bit murmur3 hash over the canonical,
// name-sorted field sequence, descending into list element and struct
// child fields. Two schemas fingerprint equal iff they are semantically
// equal.
func (s Schema) Fingerprint() uint64 {
	h := murmur3.New64()
	var write func(fields []Field)
	write = func(fields []Field) {
		sorted := make([]Field, len(fields))
		copy(sorted, fields)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

		for _, f := range sorted {
			h.Write([]byte(f.Name))
			h.Write([]byte{0})
			h.Write([]byte(f.Type))
			h.Write([]byte{0})
			if f.Nullable {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
			if f.Elem != nil {
				h.Write([]byte{'['})
				write([]Field{*f.Elem})
				h.Write([]byte{']'})
			}
			if len(f.Children) > 0 {
				h.Write([]byte{'{'})
				write(f.Children)
				h.Write([]byte{'}'})
			}
		}
	}
	write(s.Fields)
	return h.Sum64()
}

// FieldByName returns the field with the given name, if present.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsSubsetOf reports whether every field of s exists in other with a
// unifiable type. Used to enforce the static-schema invariant.
func (s Schema) IsSubsetOf(other Schema) bool {
	for _, f := range s.Fields {
		of, ok := other.FieldByName(f.Name)
		if !ok {
			return false
		}
		if !fieldsUnify(f, of) {
			return false
		}
	}
	return true
}

// fieldsUnify reports whether a and b can stand in for each other under the
// merge rule: identical scalar type, either side Null, a List whose Elem
// types unify, or a Struct whose Children are prefix-compatible (every
// child of a is present in b's Children under the same rule).
func fieldsUnify(a, b Field) bool {
	if a.Type == TypeNull || b.Type == TypeNull {
		return true
	}
	if a.Type != b.Type {
		return false
	}

	switch a.Type {
	case TypeList:
		if a.Elem == nil || b.Elem == nil {
			return a.Elem == nil && b.Elem == nil
		}
		return fieldsUnify(*a.Elem, *b.Elem)
	case TypeStruct:
		for _, ac := range a.Children {
			bc, ok := childByName(b.Children, ac.Name)
			if !ok || !fieldsUnify(ac, bc) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func childByName(children []Field, name string) (Field, bool) {
	for _, f := range children {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
