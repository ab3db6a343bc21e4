package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 style canonical JSON. It is the only
// serialization used for fingerprints, golden traces, and store payloads;
// identical inputs always produce identical bytes.
//
// Differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Values marshal in tagged form with a pinned float rendering
//  5. Raw floats and nulls outside a Value are rejected
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case Value:
		return marshalCanonicalValue(val)
	case string:
		return marshalCanonicalString(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case uint64:
		return strconv.AppendUint(nil, val, 10), nil
	case NodeID:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case EdgeID:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case FuncID:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case ModuleID:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case TypeID:
		return strconv.AppendUint(nil, uint64(val), 10), nil
	case Port:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalMap(val)
	case float64, float32:
		// Floats must travel inside a FloatValue, where the rendering is
		// pinned; a bare float has no canonical encoding here.
		return nil, fmt.Errorf("bare floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalValue encodes a runtime value in tagged form: an object
// with a "kind" discriminator. Integers render as bare decimals (unsigned
// widths through the masked bit pattern); floats render as the shortest
// round-trip decimal inside a string, which sidesteps the number-grammar
// portability problems of encoding binary64 as a JSON number.
func marshalCanonicalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case IntValue:
		var num string
		if val.Signed {
			num = strconv.FormatInt(val.V, 10)
		} else {
			num = strconv.FormatUint(val.Uint(), 10)
		}
		return []byte(fmt.Sprintf(`{"kind":"%s","v":%s}`, val.Kind(), num)), nil
	case FloatValue:
		return marshalCanonicalMap(map[string]any{
			"kind": "f64",
			"v":    strconv.FormatFloat(float64(val), 'g', -1, 64),
		})
	case BoolValue:
		return marshalCanonicalMap(map[string]any{"kind": "bool", "v": bool(val)})
	case StringValue:
		return marshalCanonicalMap(map[string]any{"kind": "string", "v": string(val)})
	case ArrayValue:
		elems := make([]any, len(val))
		for i, e := range val {
			if e == nil {
				return nil, fmt.Errorf("array[%d]: nil element", i)
			}
			elems[i] = e
		}
		return marshalCanonicalMap(map[string]any{"elems": elems, "kind": "array"})
	case StructValue:
		fields := make(map[string]any, len(val))
		for k, e := range val {
			if e == nil {
				return nil, fmt.Errorf("struct field %q: nil value", k)
			}
			fields[k] = e
		}
		return marshalCanonicalMap(map[string]any{"fields": fields, "kind": "struct"})
	case EnumValue:
		m := map[string]any{"kind": "enum", "variant": val.Variant}
		if val.Payload != nil {
			m["payload"] = val.Payload
		}
		return marshalCanonicalMap(m)
	default:
		return nil, fmt.Errorf("unsupported value type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string: NFC
// normalized, no HTML escaping, and U+2028/U+2029 left literal. Only
// control characters, backslash, and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it.
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	// Go's encoder escapes U+2028/U+2029 for JavaScript embedding; the
	// canonical form keeps them literal. A \u202x preceded by an even
	// number of backslashes is a real escape sequence; odd means the
	// backslash itself is escaped text and the sequence must stay.
	result = unescapeU2028U2029(result)

	return result, nil
}

// unescapeU2028U2029 converts   and   escape sequences to the
// literal characters, preserving sequences whose backslash is itself
// escaped.
func unescapeU2028U2029(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	var result []byte
	i := 0
	for i < len(data) {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			// Count the backslashes already emitted immediately before
			// this position; an even count means this backslash starts a
			// real escape sequence.
			backslashes := 0
			if result == nil {
				for j := i - 1; j >= 0 && data[j] == '\\'; j-- {
					backslashes++
				}
			} else {
				for j := len(result) - 1; j >= 0 && result[j] == '\\'; j-- {
					backslashes++
				}
			}
			if backslashes%2 == 0 {
				if result == nil {
					result = make([]byte, 0, len(data))
					result = append(result, data[:i]...)
				}
				if data[i+5] == '8' {
					result = append(result, " "...)
				} else {
					result = append(result, " "...)
				}
				i += 6
				continue
			}
		}

		if result != nil {
			result = append(result, data[i])
		}
		i++
	}

	if result == nil {
		return data
	}
	return result
}

// marshalCanonicalArray marshals a slice to canonical JSON.
func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshalCanonicalMap marshals a map to canonical JSON with RFC 8785 key
// ordering.
func marshalCanonicalMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeValue parses the tagged canonical form back into a Value. It is
// the inverse of the Value case of MarshalCanonical and is used when
// reading persisted runs.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func decodeValue(raw any) (Value, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value must be a tagged object, got %T", raw)
	}
	kind, _ := obj["kind"].(string)

	switch kind {
	case "bool":
		v, ok := obj["v"].(bool)
		if !ok {
			return nil, fmt.Errorf("bool value: bad payload %v", obj["v"])
		}
		return Bool(v), nil
	case "string":
		v, ok := obj["v"].(string)
		if !ok {
			return nil, fmt.Errorf("string value: bad payload %v", obj["v"])
		}
		return Str(v), nil
	case "f64":
		s, ok := obj["v"].(string)
		if !ok {
			return nil, fmt.Errorf("f64 value: bad payload %v", obj["v"])
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("f64 value: %w", err)
		}
		return F64(f), nil
	case "array":
		elems, ok := obj["elems"].([]any)
		if !ok {
			return nil, fmt.Errorf("array value: missing elems")
		}
		arr := make(ArrayValue, len(elems))
		for i, e := range elems {
			v, err := decodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil
	case "struct":
		fields, ok := obj["fields"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("struct value: missing fields")
		}
		sv := make(StructValue, len(fields))
		for k, e := range fields {
			v, err := decodeValue(e)
			if err != nil {
				return nil, fmt.Errorf("struct field %q: %w", k, err)
			}
			sv[k] = v
		}
		return sv, nil
	case "enum":
		variant, ok := obj["variant"].(string)
		if !ok {
			return nil, fmt.Errorf("enum value: missing variant")
		}
		ev := EnumValue{Variant: variant}
		if p, present := obj["payload"]; present {
			payload, err := decodeValue(p)
			if err != nil {
				return nil, fmt.Errorf("enum payload: %w", err)
			}
			ev.Payload = payload
		}
		return ev, nil
	}

	bits, signed, ok := intKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
	num, ok := obj["v"].(json.Number)
	if !ok {
		return nil, fmt.Errorf("%s value: bad payload %v", kind, obj["v"])
	}
	if signed {
		v, err := strconv.ParseInt(string(num), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s value: %w", kind, err)
		}
		return IntValue{V: v, Bits: bits, Signed: true}, nil
	}
	v, err := strconv.ParseUint(string(num), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s value: %w", kind, err)
	}
	return IntValue{V: int64(v), Bits: bits}, nil
}

func intKind(kind string) (bits uint8, signed bool, ok bool) {
	switch kind {
	case "i8":
		return 8, true, true
	case "i16":
		return 16, true, true
	case "i32":
		return 32, true, true
	case "i64":
		return 64, true, true
	case "u8":
		return 8, false, true
	case "u16":
		return 16, false, true
	case "u32":
		return 32, false, true
	case "u64":
		return 64, false, true
	default:
		return 0, false, false
	}
}
