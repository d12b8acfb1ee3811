package schema

import (
	"time"

	"github.com/stratumlake/stratum/internal/model"
)

// Infer derives a Schema from one decoded JSON row. Every field is marked
// nullable since a later record may omit it; model.Merge is where
// cross-record nullability and type unification actually happens.
func Infer(row map[string]interface{}) model.Schema {
	fields := make([]model.Field, 0, len(row))
	for name, v := range row {
		fields = append(fields, inferField(name, v))
	}
	return model.Schema{Fields: fields}
}

func inferField(name string, v interface{}) model.Field {
	switch val := v.(type) {
	case nil:
		return model.Field{Name: name, Type: model.TypeNull, Nullable: true}
	case bool:
		return model.Field{Name: name, Type: model.TypeBoolean, Nullable: true}
	case float64:
		if val == float64(int64(val)) {
			return model.Field{Name: name, Type: model.TypeInt64, Nullable: true}
		}
		return model.Field{Name: name, Type: model.TypeFloat64, Nullable: true}
	case string:
		if _, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return model.Field{Name: name, Type: model.TypeTimestamp, Nullable: true}
		}
		return model.Field{Name: name, Type: model.TypeUtf8, Nullable: true}
	case []interface{}:
		elem := model.Field{Name: name, Type: model.TypeNull, Nullable: true}
		if len(val) > 0 {
			elem = inferField(name, val[0])
		}
		return model.Field{Name: name, Type: model.TypeList, Nullable: true, Elem: &elem}
	case map[string]interface{}:
		children := make([]model.Field, 0, len(val))
		for childName, childVal := range val {
			children = append(children, inferField(childName, childVal))
		}
		return model.Field{Name: name, Type: model.TypeStruct, Nullable: true, Children: children}
	default:
		return model.Field{Name: name, Type: model.TypeUtf8, Nullable: true}
	}
}
