// Package avro infers Avro record schemas from sample JSON documents and
// converts JSON documents into Avro object container files.
package avro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	havro "github.com/hamba/avro/v2"
)

// DefaultRecordName names the top-level record when none is given.
const DefaultRecordName = "AutoRecord"

const nestedRecordName = "NestedRecord"

// ErrUnsupportedJSON is returned when a document is neither an object nor a
// list of objects.
var ErrUnsupportedJSON = errors.New("unsupported JSON structure")

// Record is an Avro record schema.
type Record struct {
	Type   string  `json:"type"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field is a record field. Type is a primitive type name, a union given as
// a list of type names, an *Array or a *Record.
type Field struct {
	Name string `json:"name"`
	Type any    `json:"type"`
}

// Array is an Avro array schema.
type Array struct {
	Type  string `json:"type"`
	Items any    `json:"items"`
}

// InferSchema builds a record schema named recordName whose fields mirror
// the members of obj, in order. value may be an Object or a
// map[string]any; maps are visited in sorted key order.
//
// Strings map to "string", whole numbers to "int" (or "long" outside the
// 32-bit range), other numbers to "float", booleans to "boolean" and nulls
// to a nullable string. Arrays take the type of their first element, or
// strings when empty. Nested objects become records named NestedRecord,
// NestedRecord2, and so on.
func InferSchema(value any, recordName string) (*Record, error) {
	obj, ok := asObject(value)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want an object", ErrUnsupportedJSON, value)
	}
	if recordName == "" {
		recordName = DefaultRecordName
	}

	var n namer
	return &Record{
		Type:   "record",
		Name:   recordName,
		Fields: n.fields(obj),
	}, nil
}

// InferSchemaFile reads the JSON document at in, infers a schema from it and
// writes the schema to out as indented JSON. A top-level list is sampled by
// its first element.
func InferSchemaFile(in, out, recordName string) (*Record, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in, err)
	}
	defer f.Close()

	doc, err := DecodeOrdered(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", in, err)
	}

	if list, ok := doc.([]any); ok {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: empty list", ErrUnsupportedJSON)
		}
		doc = list[0]
	}

	schema, err := InferSchema(doc, recordName)
	if err != nil {
		return nil, err
	}

	b, err := json.MarshalIndent(schema, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	if _, err := havro.Parse(string(b)); err != nil {
		return nil, fmt.Errorf("inferred schema is not valid avro: %w", err)
	}

	if err := os.WriteFile(out, b, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", out, err)
	}
	return schema, nil
}

// namer hands out unique names for nested records within one schema.
type namer struct {
	nested int
}

func (n *namer) next() string {
	n.nested++
	if n.nested == 1 {
		return nestedRecordName
	}
	return fmt.Sprintf("%s%d", nestedRecordName, n.nested)
}

func (n *namer) fields(obj Object) []Field {
	fields := make([]Field, 0, len(obj))
	for _, m := range obj {
		fields = append(fields, Field{Name: m.Key, Type: n.typeOf(m.Value)})
	}
	return fields
}

func (n *namer) typeOf(v any) any {
	switch val := v.(type) {
	case nil:
		return []string{"null", "string"}
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return numberType(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return intType(int64(val))
		}
		return "float"
	case int:
		return intType(int64(val))
	case int64:
		return intType(val)
	case []any:
		if len(val) == 0 {
			return &Array{Type: "array", Items: "string"}
		}
		return &Array{Type: "array", Items: n.typeOf(val[0])}
	}

	if obj, ok := asObject(v); ok {
		return &Record{Type: "record", Name: n.next(), Fields: n.fields(obj)}
	}
	return "string"
}

func numberType(num json.Number) string {
	s := num.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := num.Int64(); err == nil {
			return intType(i)
		}
		return "long"
	}
	return "float"
}

func intType(i int64) string {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return "long"
	}
	return "int"
}

func asObject(v any) (Object, bool) {
	switch val := v.(type) {
	case Object:
		return val, true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		obj := make(Object, 0, len(keys))
		for _, k := range keys {
			obj = append(obj, Member{Key: k, Value: val[k]})
		}
		return obj, true
	default:
		return nil, false
	}
}
