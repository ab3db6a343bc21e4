package compiler

import (
	"fmt"
	"math"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// scalarKinds maps document kind strings to registry scalars.
var scalarKinds = map[string]ir.ScalarKind{
	"i8":  ir.ScalarI8,
	"i16": ir.ScalarI16,
	"i32": ir.ScalarI32,
	"i64": ir.ScalarI64,
	"u8":  ir.ScalarU8,
	"u16": ir.ScalarU16,
	"u32": ir.ScalarU32,
	"u64": ir.ScalarU64,
}

// parseTypeRef resolves a type name appearing in a document to its
// registered id. Builtins and user declarations share one namespace.
func parseTypeRef(types *ir.TypeRegistry, v cue.Value, field string) (ir.TypeID, error) {
	if !v.Exists() {
		return 0, errf(ErrCodeType, field, token.NoPos, "missing type reference")
	}
	name, err := v.String()
	if err != nil {
		return 0, formatCUEError(field, err)
	}
	id, ok := types.Lookup(name)
	if !ok {
		return 0, errf(ErrCodeType, field, v.Pos(), "unknown type %q", name)
	}
	return id, nil
}

// parseValue turns a tagged literal into a runtime value. Literals are
// structs carrying a kind discriminator: scalars spell {kind, value},
// arrays {kind: "array", elems}, structs {kind: "struct", fields}, and
// enums {kind: "enum", variant, payload?}.
func parseValue(v cue.Value, field string) (ir.Value, error) {
	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "literal needs a kind")
	}
	kind, err := kindVal.String()
	if err != nil {
		return nil, formatCUEError(field+".kind", err)
	}

	switch kind {
	case "f64":
		return parseFloat(v, field)
	case "bool":
		b, err := literalField(v, field, "value").Bool()
		if err != nil {
			return nil, formatCUEError(field+".value", err)
		}
		return ir.Bool(b), nil
	case "string":
		s, err := literalField(v, field, "value").String()
		if err != nil {
			return nil, formatCUEError(field+".value", err)
		}
		return ir.Str(s), nil
	case "array":
		return parseArrayValue(v, field)
	case "struct":
		return parseStructValue(v, field)
	case "enum":
		return parseEnumValue(v, field)
	}

	sk, ok := scalarKinds[kind]
	if !ok {
		return nil, errf(ErrCodeValue, field+".kind", kindVal.Pos(), "unknown literal kind %q", kind)
	}
	return parseInt(v, field, sk)
}

// literalField looks up a required member of a literal struct. The
// lookup result is returned even when absent so the caller's decode
// surfaces the error with CUE's own position info.
func literalField(v cue.Value, field, name string) cue.Value {
	return v.LookupPath(cue.ParsePath(name))
}

func parseInt(v cue.Value, field string, sk ir.ScalarKind) (ir.Value, error) {
	val := literalField(v, field, "value")
	if !val.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "%s literal needs a value", sk)
	}
	if sk.Signed() {
		n, err := val.Int64()
		if err != nil {
			return nil, formatCUEError(field+".value", err)
		}
		if bits := sk.Bits(); bits < 64 {
			min := int64(-1) << (bits - 1)
			max := int64(1)<<(bits-1) - 1
			if n < min || n > max {
				return nil, errf(ErrCodeValue, field+".value", val.Pos(), "value %d outside %s range [%d, %d]", n, sk, min, max)
			}
		}
		return ir.IntValue{V: n, Bits: sk.Bits(), Signed: true}, nil
	}
	n, err := val.Uint64()
	if err != nil {
		return nil, formatCUEError(field+".value", err)
	}
	if bits := sk.Bits(); bits < 64 && n > uint64(1)<<bits-1 {
		return nil, errf(ErrCodeValue, field+".value", val.Pos(), "value %d outside %s range [0, %d]", n, sk, uint64(1)<<bits-1)
	}
	return ir.IntValue{V: int64(n), Bits: sk.Bits()}, nil
}

// parseFloat accepts both CUE numbers and canonical string spellings,
// so round-tripped documents decode to the identical bits.
func parseFloat(v cue.Value, field string) (ir.Value, error) {
	val := literalField(v, field, "value")
	if !val.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "f64 literal needs a value")
	}
	var f float64
	if val.IncompleteKind() == cue.StringKind {
		s, err := val.String()
		if err != nil {
			return nil, formatCUEError(field+".value", err)
		}
		f, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errf(ErrCodeValue, field+".value", val.Pos(), "bad f64 %q: %v", s, err)
		}
	} else {
		var err error
		f, err = val.Float64()
		if err != nil {
			return nil, formatCUEError(field+".value", err)
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errf(ErrCodeValue, field+".value", val.Pos(), "f64 value must be finite")
	}
	return ir.F64(f), nil
}

func parseArrayValue(v cue.Value, field string) (ir.Value, error) {
	elems := literalField(v, field, "elems")
	if !elems.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "array literal needs elems")
	}
	iter, err := elems.List()
	if err != nil {
		return nil, formatCUEError(field+".elems", err)
	}
	arr := ir.ArrayValue{}
	for i := 0; iter.Next(); i++ {
		elem, err := parseValue(iter.Value(), fmt.Sprintf("%s.elems[%d]", field, i))
		if err != nil {
			return nil, err
		}
		arr = append(arr, elem)
	}
	return arr, nil
}

func parseStructValue(v cue.Value, field string) (ir.Value, error) {
	fields := literalField(v, field, "fields")
	if !fields.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "struct literal needs fields")
	}
	iter, err := fields.Fields()
	if err != nil {
		return nil, formatCUEError(field+".fields", err)
	}
	sv := ir.StructValue{}
	for iter.Next() {
		name := iter.Label()
		fv, err := parseValue(iter.Value(), field+".fields."+name)
		if err != nil {
			return nil, err
		}
		sv[name] = fv
	}
	return sv, nil
}

func parseEnumValue(v cue.Value, field string) (ir.Value, error) {
	variantVal := literalField(v, field, "variant")
	if !variantVal.Exists() {
		return nil, errf(ErrCodeValue, field, v.Pos(), "enum literal needs a variant")
	}
	variant, err := variantVal.String()
	if err != nil {
		return nil, formatCUEError(field+".variant", err)
	}
	var payload ir.Value
	if pv := literalField(v, field, "payload"); pv.Exists() {
		payload, err = parseValue(pv, field+".payload")
		if err != nil {
			return nil, err
		}
	}
	return ir.Enum(variant, payload), nil
}
