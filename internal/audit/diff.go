package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/auditcore/audit-service/internal/db/models"
)

// Value is one serialized field value tagged with its inferred data type.
// The zero Value is null. Two Values are equal when both are null, or when
// both are present with the same type and the same serialized text.
type Value struct {
	Type  models.DataType
	Text  string
	Valid bool
}

// Null is the absent/null value.
var Null = Value{}

// NewValue converts an arbitrary Go value into a Value.
//
// Inference order: bool → boolean, any integer or float → number, time.Time → date,
// slice or array → array, text beginning with '{' or '[' → json, everything else → string.
// Maps and structs are serialized as JSON objects and therefore classify as json.
func NewValue(v any) Value {
	if v == nil {
		return Null
	}

	switch t := v.(type) {
	case bool:
		return Value{Type: models.DataTypeBoolean, Text: strconv.FormatBool(t), Valid: true}
	case json.Number:
		return Value{Type: models.DataTypeNumber, Text: t.String(), Valid: true}
	case time.Time:
		return Value{Type: models.DataTypeDate, Text: t.UTC().Format(time.RFC3339Nano), Valid: true}
	case string:
		return textValue(t)
	case []byte:
		return textValue(string(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null
		}
		return NewValue(rv.Elem().Interface())
	case reflect.Bool:
		return Value{Type: models.DataTypeBoolean, Text: strconv.FormatBool(rv.Bool()), Valid: true}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Value{Type: models.DataTypeNumber, Text: strconv.FormatInt(rv.Int(), 10), Valid: true}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Value{Type: models.DataTypeNumber, Text: strconv.FormatUint(rv.Uint(), 10), Valid: true}
	case reflect.Float32:
		return Value{Type: models.DataTypeNumber, Text: formatFloat(rv.Float(), 32), Valid: true}
	case reflect.Float64:
		return Value{Type: models.DataTypeNumber, Text: formatFloat(rv.Float(), 64), Valid: true}
	case reflect.String:
		return textValue(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null
		}
		return Value{Type: models.DataTypeArray, Text: marshalText(v), Valid: true}
	case reflect.Map, reflect.Struct:
		if rv.Kind() == reflect.Map && rv.IsNil() {
			return Null
		}
		return textValue(marshalText(v))
	default:
		return textValue(fmt.Sprint(v))
	}
}

// Ptr returns the serialized text, or nil for a null value.
func (v Value) Ptr() *string {
	if !v.Valid {
		return nil
	}
	s := v.Text
	return &s
}

// Equal reports whether v and o represent the same value.
func (v Value) Equal(o Value) bool {
	if !v.Valid || !o.Valid {
		return v.Valid == o.Valid
	}
	return v.Type == o.Type && v.Text == o.Text
}

func (v Value) String() string {
	if !v.Valid {
		return "null"
	}
	return v.Text
}

// InferDataType returns the data type for a change: the type of next when it is
// present, otherwise the type of prev, otherwise string.
func InferDataType(prev, next Value) models.DataType {
	if next.Valid {
		return next.Type
	}
	if prev.Valid {
		return prev.Type
	}
	return models.DataTypeString
}

// FieldChange is one differing field between two snapshots.
type FieldChange struct {
	Field    string
	Old      Value
	New      Value
	DataType models.DataType
}

// Diff compares the fields of next against prev and returns one FieldChange per
// differing field, ordered by field name. Only keys present in next are considered;
// a key missing from prev compares as null.
func Diff(prev, next map[string]any) []FieldChange {
	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, k := range keys {
		o := NewValue(prev[k])
		n := NewValue(next[k])
		if o.Equal(n) {
			continue
		}
		changes = append(changes, FieldChange{
			Field:    k,
			Old:      o,
			New:      n,
			DataType: InferDataType(o, n),
		})
	}
	return changes
}

// FieldNames returns the field names of changes in order.
func FieldNames(changes []FieldChange) []string {
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.Field
	}
	return names
}

func textValue(s string) Value {
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return Value{Type: models.DataTypeJSON, Text: s, Valid: true}
	}
	return Value{Type: models.DataTypeString, Text: s, Valid: true}
}

// formatFloat renders integral floats without a fraction so 5 and 5.0 compare equal.
func formatFloat(f float64, bitSize int) string {
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}

func marshalText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
