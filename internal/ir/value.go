package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the runtime value kinds. Only IntValue,
// FloatValue, BoolValue, StringValue, ArrayValue, StructValue, and
// EnumValue implement it. There is no null: an absent value is represented
// by a nil Value and is always an error to operate on.
type Value interface {
	value() // Sealed - only these types implement it

	// Kind returns the short kind name used in diagnostics and canonical
	// encoding: "i8".."i64", "u8".."u64", "f64", "bool", "string",
	// "array", "struct", "enum".
	Kind() string

	// Equal reports deep equality. Values of different kinds (including
	// integers of different width or signedness) are never equal.
	Equal(other Value) bool

	// Clone returns a deep copy sharing no mutable state with the
	// receiver. Immutable kinds return themselves.
	Clone() Value

	// Text renders the value for print output and human diagnostics.
	Text() string
}

// IntValue is a fixed-width two's-complement integer. V holds the bit
// pattern in the low Bits bits: sign-extended for signed widths,
// zero-extended for unsigned. Bits is 8, 16, 32, or 64.
type IntValue struct {
	V      int64
	Bits   uint8
	Signed bool
}

func (IntValue) value() {}

// Kind returns e.g. "i64" or "u8".
func (v IntValue) Kind() string {
	if v.Signed {
		return "i" + strconv.Itoa(int(v.Bits))
	}
	return "u" + strconv.Itoa(int(v.Bits))
}

// Equal requires identical width, signedness, and bit pattern.
func (v IntValue) Equal(other Value) bool {
	o, ok := other.(IntValue)
	return ok && o == v
}

// Clone returns the receiver; integers are immutable.
func (v IntValue) Clone() Value { return v }

// Text renders the numeric value: signed decimal for signed widths,
// unsigned decimal for unsigned widths.
func (v IntValue) Text() string {
	if v.Signed {
		return strconv.FormatInt(v.V, 10)
	}
	return strconv.FormatUint(v.Uint(), 10)
}

// Uint returns the bit pattern zero-extended to uint64, masked to the
// declared width.
func (v IntValue) Uint() uint64 {
	if v.Bits >= 64 {
		return uint64(v.V)
	}
	return uint64(v.V) & (1<<v.Bits - 1)
}

// MinInt and MaxInt bound the representable range for the declared width.
// For unsigned widths MinInt is 0 and MaxInt is the masked all-ones
// pattern (as uint64 reinterpreted through Uint).
func (v IntValue) MinInt() int64 {
	if !v.Signed {
		return 0
	}
	return -1 << (v.Bits - 1)
}

// MaxInt returns the largest representable signed value for the width.
// Meaningful for signed widths only.
func (v IntValue) MaxInt() int64 {
	return 1<<(v.Bits-1) - 1
}

// I8 constructs a signed 8-bit integer value.
func I8(v int8) IntValue { return IntValue{V: int64(v), Bits: 8, Signed: true} }

// I16 constructs a signed 16-bit integer value.
func I16(v int16) IntValue { return IntValue{V: int64(v), Bits: 16, Signed: true} }

// I32 constructs a signed 32-bit integer value.
func I32(v int32) IntValue { return IntValue{V: int64(v), Bits: 32, Signed: true} }

// I64 constructs a signed 64-bit integer value.
func I64(v int64) IntValue { return IntValue{V: v, Bits: 64, Signed: true} }

// U8 constructs an unsigned 8-bit integer value.
func U8(v uint8) IntValue { return IntValue{V: int64(v), Bits: 8} }

// U16 constructs an unsigned 16-bit integer value.
func U16(v uint16) IntValue { return IntValue{V: int64(v), Bits: 16} }

// U32 constructs an unsigned 32-bit integer value.
func U32(v uint32) IntValue { return IntValue{V: int64(v), Bits: 32} }

// U64 constructs an unsigned 64-bit integer value. Patterns above
// MaxInt64 are stored as the reinterpreted bit pattern.
func U64(v uint64) IntValue { return IntValue{V: int64(v), Bits: 64} }

// FloatValue is an IEEE 754 binary64 value. NaN and infinities never
// arise from the operation catalog (the offending operations trap), but
// the type does not forbid them.
type FloatValue float64

func (FloatValue) value() {}

// Kind returns "f64".
func (FloatValue) Kind() string { return "f64" }

// Equal compares bit-for-bit via the numeric value; NaN != NaN as in IEEE.
func (v FloatValue) Equal(other Value) bool {
	o, ok := other.(FloatValue)
	return ok && o == v
}

// Clone returns the receiver; floats are immutable.
func (v FloatValue) Clone() Value { return v }

// Text renders the shortest decimal that round-trips to the same bits.
func (v FloatValue) Text() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}

// F64 constructs a float value.
func F64(v float64) FloatValue { return FloatValue(v) }

// BoolValue is a boolean value.
type BoolValue bool

func (BoolValue) value() {}

// Kind returns "bool".
func (BoolValue) Kind() string { return "bool" }

// Equal reports kind and value equality.
func (v BoolValue) Equal(other Value) bool {
	o, ok := other.(BoolValue)
	return ok && o == v
}

// Clone returns the receiver; booleans are immutable.
func (v BoolValue) Clone() Value { return v }

// Text renders "true" or "false".
func (v BoolValue) Text() string {
	if v {
		return "true"
	}
	return "false"
}

// Bool constructs a boolean value.
func Bool(v bool) BoolValue { return BoolValue(v) }

// StringValue is an immutable UTF-8 string value.
type StringValue string

func (StringValue) value() {}

// Kind returns "string".
func (StringValue) Kind() string { return "string" }

// Equal reports kind and value equality.
func (v StringValue) Equal(other Value) bool {
	o, ok := other.(StringValue)
	return ok && o == v
}

// Clone returns the receiver; strings are immutable.
func (v StringValue) Clone() Value { return v }

// Text returns the raw string contents.
func (v StringValue) Text() string { return string(v) }

// Str constructs a string value.
func Str(v string) StringValue { return StringValue(v) }

// ArrayValue is a mutable sequence of values. Copies of an ArrayValue
// share the same backing storage, so a store through one copy is visible
// through all of them. Use Clone for an independent snapshot.
type ArrayValue []Value

func (ArrayValue) value() {}

// Kind returns "array".
func (ArrayValue) Kind() string { return "array" }

// Equal reports element-wise deep equality.
func (v ArrayValue) Equal(other Value) bool {
	o, ok := other.(ArrayValue)
	if !ok || len(o) != len(v) {
		return false
	}
	for i := range v {
		if !valueEqual(v[i], o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy with fresh backing storage.
func (v ArrayValue) Clone() Value {
	out := make(ArrayValue, len(v))
	for i, elem := range v {
		out[i] = cloneValue(elem)
	}
	return out
}

// Text renders "[a, b, c]".
func (v ArrayValue) Text() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, elem := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(valueText(elem))
	}
	b.WriteByte(']')
	return b.String()
}

// Array constructs an array value from elements.
func Array(elems ...Value) ArrayValue { return ArrayValue(elems) }

// StructValue maps field names to values. Use SortedKeys for
// deterministic iteration.
type StructValue map[string]Value

func (StructValue) value() {}

// Kind returns "struct".
func (StructValue) Kind() string { return "struct" }

// Equal reports field-wise deep equality over the same field set.
func (v StructValue) Equal(other Value) bool {
	o, ok := other.(StructValue)
	if !ok || len(o) != len(v) {
		return false
	}
	for k, elem := range v {
		oe, present := o[k]
		if !present || !valueEqual(elem, oe) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy with fresh field storage.
func (v StructValue) Clone() Value {
	out := make(StructValue, len(v))
	for k, elem := range v {
		out[k] = cloneValue(elem)
	}
	return out
}

// Text renders "{a: 1, b: 2}" in sorted key order.
func (v StructValue) Text() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range v.SortedKeys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(valueText(v[k]))
	}
	b.WriteByte('}')
	return b.String()
}

// SortedKeys returns field names in RFC 8785 canonical order (UTF-16 code
// units). Go's sort.Strings compares UTF-8 bytes, which produces a
// different order for strings containing supplementary-plane runes.
func (v StructValue) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// EnumValue is a tagged variant of a registered enum type. Payload is nil
// for payload-free variants.
type EnumValue struct {
	Variant string
	Payload Value
}

func (EnumValue) value() {}

// Kind returns "enum".
func (v EnumValue) Kind() string { return "enum" }

// Equal requires the same variant tag and a deep-equal payload.
func (v EnumValue) Equal(other Value) bool {
	o, ok := other.(EnumValue)
	if !ok || o.Variant != v.Variant {
		return false
	}
	if v.Payload == nil || o.Payload == nil {
		return v.Payload == nil && o.Payload == nil
	}
	return v.Payload.Equal(o.Payload)
}

// Clone deep-copies the payload.
func (v EnumValue) Clone() Value {
	if v.Payload == nil {
		return v
	}
	return EnumValue{Variant: v.Variant, Payload: v.Payload.Clone()}
}

// Text renders "Variant" or "Variant(payload)".
func (v EnumValue) Text() string {
	if v.Payload == nil {
		return v.Variant
	}
	return fmt.Sprintf("%s(%s)", v.Variant, v.Payload.Text())
}

// Enum constructs an enum value.
func Enum(variant string, payload Value) EnumValue {
	return EnumValue{Variant: variant, Payload: payload}
}

// valueEqual treats two nil values as equal and never calls Equal on nil.
func valueEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// cloneValue tolerates nil elements inside aggregates.
func cloneValue(v Value) Value {
	if v == nil {
		return nil
	}
	return v.Clone()
}

// valueText renders nil as "<none>" so aggregate rendering never panics.
func valueText(v Value) string {
	if v == nil {
		return "<none>"
	}
	return v.Text()
}

// compareKeysRFC8785 compares strings as sequences of UTF-16 code units,
// the order RFC 8785 canonical JSON requires. unicode/utf16.Encode is
// used for correct surrogate handling; Go's native string comparison is
// UTF-8 and orders supplementary-plane runes differently.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}
