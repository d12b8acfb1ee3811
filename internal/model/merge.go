package model

import "github.com/stratumlake/stratum/internal/apperrors"

// Merge combines schema a and b per the merge rule: for every field shared
// by name the types must unify (identical scalar type, either side Null, or
// prefix-compatible List/Struct -- see unifyField); the result preserves a's
// field order and appends b-only fields in b's order. Returns an
// apperrors.Error with CodeSchemaIncompatible on failure.
func Merge(a, b Schema) (Schema, error) {
	fields, err := mergeFields(a.Fields, b.Fields)
	if err != nil {
		return Schema{}, err
	}
	return Schema{Fields: fields}, nil
}

// mergeFields merges two field lists by name, preserving a's order and
// appending b-only fields in b's order. Used both for top-level Schema
// merges and, recursively, for Struct Children.
func mergeFields(a, b []Field) ([]Field, error) {
	merged := make([]Field, 0, len(a)+len(b))
	merged = append(merged, a...)

	index := make(map[string]int, len(merged))
	for i, f := range merged {
		index[f.Name] = i
	}

	for _, bf := range b {
		if i, ok := index[bf.Name]; ok {
			af := merged[i]
			unified, err := unifyField(af, bf)
			if err != nil {
				return nil, err
			}
			merged[i] = unified
			continue
		}
		merged = append(merged, bf)
		index[bf.Name] = len(merged) - 1
	}

	return merged, nil
}

// unifyField merges two same-named fields per the merge rule. A Null field
// on either side defers entirely to the other. A List's Elem is unified
// recursively; a Struct's Children are merged recursively via mergeFields,
// so prefix-compatible nested schemas combine instead of one side's nested
// structure being silently discarded.
func unifyField(a, b Field) (Field, error) {
	if a.Type == TypeNull && b.Type != TypeNull {
		winner := b
		winner.Nullable = true
		return winner, nil
	}
	if b.Type == TypeNull && a.Type != TypeNull {
		winner := a
		winner.Nullable = true
		return winner, nil
	}
	if a.Type != b.Type {
		return Field{}, incompatibleErr(a, b)
	}

	merged := a
	merged.Nullable = a.Nullable || b.Nullable

	switch a.Type {
	case TypeList:
		if a.Elem == nil || b.Elem == nil {
			if a.Elem != nil || b.Elem != nil {
				return Field{}, incompatibleErr(a, b)
			}
			return merged, nil
		}
		elem, err := unifyField(*a.Elem, *b.Elem)
		if err != nil {
			return Field{}, incompatibleErr(a, b)
		}
		merged.Elem = &elem
	case TypeStruct:
		children, err := mergeFields(a.Children, b.Children)
		if err != nil {
			return Field{}, incompatibleErr(a, b)
		}
		merged.Children = children
	}

	return merged, nil
}

func incompatibleErr(a, b Field) error {
	return apperrors.NewSchemaError(
		apperrors.CodeSchemaIncompatible,
		"field "+a.Name+" has incompatible types "+string(a.Type)+" and "+string(b.Type),
	)
}

// AssertSubset enforces the static-schema invariant: incoming must be a
// subset of current, else SchemaIncompatible.
func AssertSubset(incoming, current Schema) error {
	if !incoming.IsSubsetOf(current) {
		return apperrors.NewSchemaError(
			apperrors.CodeSchemaIncompatible,
			"incoming schema is not a subset of the stream's static schema",
		)
	}
	return nil
}
