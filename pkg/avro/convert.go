package avro

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	havro "github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
)

// ConvertJSONFile writes the records in the JSON document at jsonPath to an
// Avro object container file at avroPath, using the schema stored at
// schemaPath. A top-level object is one record, a list is many. It returns
// the number of records written.
func ConvertJSONFile(jsonPath, avroPath, schemaPath string) (int, error) {
	rawSchema, err := os.ReadFile(schemaPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema %s: %w", schemaPath, err)
	}
	schema, err := havro.Parse(string(rawSchema))
	if err != nil {
		return 0, fmt.Errorf("failed to parse schema %s: %w", schemaPath, err)
	}

	records, err := readRecords(jsonPath)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(avroPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", avroPath, err)
	}
	defer out.Close()

	enc, err := ocf.NewEncoder(schema.String(), out)
	if err != nil {
		return 0, fmt.Errorf("failed to create avro encoder: %w", err)
	}

	for i, rec := range records {
		v, err := Coerce(schema, rec)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		if err := enc.Encode(v); err != nil {
			return 0, fmt.Errorf("record %d: failed to encode: %w", i, err)
		}
	}

	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish %s: %w", avroPath, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", avroPath, err)
	}
	return len(records), nil
}

func readRecords(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	switch v := doc.(type) {
	case map[string]any:
		return []any{v}, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: top level is %T", ErrUnsupportedJSON, doc)
	}
}

// Coerce converts a value decoded from JSON with json.Decoder.UseNumber into
// the Go types the Avro encoder expects for schema.
func Coerce(schema havro.Schema, v any) (any, error) {
	switch s := schema.(type) {
	case *havro.RefSchema:
		return Coerce(s.Schema(), v)

	case *havro.RecordSchema:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: want object, got %T", s.FullName(), v)
		}
		out := make(map[string]any, len(s.Fields()))
		for _, f := range s.Fields() {
			fv, present := m[f.Name()]
			if !present && f.HasDefault() {
				continue
			}
			cv, err := Coerce(f.Type(), fv)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name(), err)
			}
			out[f.Name()] = cv
		}
		return out, nil

	case *havro.ArraySchema:
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("want array, got %T", v)
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			cv, err := Coerce(s.Items(), item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, cv)
		}
		return out, nil

	case *havro.MapSchema:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("want object, got %T", v)
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			cv, err := Coerce(s.Values(), item)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", k, err)
			}
			out[k] = cv
		}
		return out, nil

	case *havro.UnionSchema:
		return coerceUnion(s, v)

	case *havro.EnumSchema:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want string, got %T", s.FullName(), v)
		}
		return str, nil

	case *havro.PrimitiveSchema:
		return coercePrimitive(s.Type(), v)

	default:
		return v, nil
	}
}

// coerceUnion picks the first non-null branch that accepts v. Primitive
// values are returned bare; complex branches are keyed by their type name.
func coerceUnion(s *havro.UnionSchema, v any) (any, error) {
	if v == nil {
		if s.Nullable() {
			return nil, nil
		}
		return nil, fmt.Errorf("null is not allowed by union")
	}

	var lastErr error
	for _, branch := range s.Types() {
		if branch.Type() == havro.Null {
			continue
		}
		cv, err := Coerce(branch, v)
		if err != nil {
			lastErr = err
			continue
		}
		if _, primitive := branch.(*havro.PrimitiveSchema); primitive {
			return cv, nil
		}
		return map[string]any{unionBranchName(branch): cv}, nil
	}
	return nil, fmt.Errorf("no union branch accepts %T: %w", v, lastErr)
}

func unionBranchName(s havro.Schema) string {
	if named, ok := s.(havro.NamedSchema); ok {
		return named.FullName()
	}
	return string(s.Type())
}

func coercePrimitive(typ havro.Type, v any) (any, error) {
	switch typ {
	case havro.Null:
		if v != nil {
			return nil, fmt.Errorf("want null, got %T", v)
		}
		return nil, nil
	case havro.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case havro.Bytes:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	case havro.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case havro.Int:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
				return nil, fmt.Errorf("%s does not fit an int", n)
			}
			return int(i), nil
		}
	case havro.Long:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%s does not fit a long", n)
			}
			return i, nil
		}
	case havro.Float:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			return float32(f), nil
		}
	case havro.Double:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("want %s, got %T", typ, v)
}
