// Package convert implements the conversion engine (C5): claim, group,
// convert, upload, publish, and tombstone rotated staging files into
// columnar artifacts in object storage.
package convert

import (
	"github.com/parquet-go/parquet-go"

	"github.com/stratumlake/stratum/internal/model"
)

// buildParquetSchema translates a dynamic stream Schema into a parquet-go
// Schema so rows can be written without compile-time struct tags.
func buildParquetSchema(name string, s model.Schema) *parquet.Schema {
	group := make(parquet.Group, len(s.Fields))
	for _, f := range s.Fields {
		group[f.Name] = fieldNode(f)
	}
	return parquet.NewSchema(name, group)
}

func fieldNode(f model.Field) parquet.Node {
	var node parquet.Node

	switch f.Type {
	case model.TypeBoolean:
		node = parquet.Leaf(parquet.BooleanType)
	case model.TypeInt64:
		node = parquet.Leaf(parquet.Int64Type)
	case model.TypeFloat64:
		node = parquet.Leaf(parquet.DoubleType)
	case model.TypeTimestamp:
		node = parquet.Timestamp(parquet.Microsecond)
	case model.TypeUtf8:
		node = parquet.String()
		node = parquet.Encoded(node, &parquet.RLEDictionary)
	case model.TypeList:
		var elem parquet.Node = parquet.Leaf(parquet.ByteArrayType)
		if f.Elem != nil {
			elem = fieldNode(*f.Elem)
		}
		node = parquet.List(elem)
	case model.TypeStruct:
		children := make(parquet.Group, len(f.Children))
		for _, c := range f.Children {
			children[c.Name] = fieldNode(c)
		}
		node = children
	case model.TypeNull:
		node = parquet.String()
	default:
		node = parquet.String()
	}

	if f.Nullable {
		node = parquet.Optional(node)
	}
	return node
}
