package harness

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// intWidths maps literal kinds to (bits, signed).
var intWidths = map[string]struct {
	bits   int
	signed bool
}{
	"i8":  {8, true},
	"i16": {16, true},
	"i32": {32, true},
	"i64": {64, true},
	"u8":  {8, false},
	"u16": {16, false},
	"u32": {32, false},
	"u64": {64, false},
}

// ParseArg converts a typed literal of the form "kind:literal" into a
// runtime value: "i64:41", "u8:255", "f64:2.5", "bool:true",
// "string:hello world". The literal keeps everything after the first
// colon, so string payloads may contain colons.
func ParseArg(s string) (ir.Value, error) {
	kind, lit, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("literal %q needs the form kind:literal", s)
	}

	if w, ok := intWidths[kind]; ok {
		return parseIntArg(kind, lit, w.bits, w.signed)
	}

	switch kind {
	case "f64":
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("bad f64 literal %q", lit)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("f64 literal %q must be finite", lit)
		}
		return ir.F64(f), nil
	case "bool":
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return nil, fmt.Errorf("bad bool literal %q", lit)
		}
		return ir.Bool(b), nil
	case "string":
		return ir.Str(lit), nil
	}

	return nil, fmt.Errorf("unknown literal kind %q in %q", kind, s)
}

func parseIntArg(kind, lit string, bits int, signed bool) (ir.Value, error) {
	if signed {
		n, err := strconv.ParseInt(lit, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("bad %s literal %q", kind, lit)
		}
		return ir.IntValue{V: n, Bits: uint8(bits), Signed: true}, nil
	}
	n, err := strconv.ParseUint(lit, 10, bits)
	if err != nil {
		return nil, fmt.Errorf("bad %s literal %q", kind, lit)
	}
	return ir.IntValue{V: int64(n), Bits: uint8(bits)}, nil
}

// ParseArgs converts a list of typed literals in order.
func ParseArgs(list []string) ([]ir.Value, error) {
	if len(list) == 0 {
		return nil, nil
	}
	args := make([]ir.Value, len(list))
	for i, s := range list {
		v, err := ParseArg(s)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}
