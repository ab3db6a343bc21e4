package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	// Compile-time check that every kind implements Value.
	var _ Value = I64(42)
	var _ Value = U8(255)
	var _ Value = F64(1.5)
	var _ Value = Bool(true)
	var _ Value = Str("test")
	var _ Value = Array(I64(1), I64(2))
	var _ Value = StructValue{"x": I64(1)}
	var _ Value = Enum("Some", I64(1))
}

func TestIntValueKind(t *testing.T) {
	assert.Equal(t, "i64", I64(1).Kind())
	assert.Equal(t, "i8", I8(-1).Kind())
	assert.Equal(t, "u32", U32(7).Kind())
	assert.Equal(t, "u64", U64(1).Kind())
}

func TestIntValueUintMasksToWidth(t *testing.T) {
	// U8(255) stores the pattern 0xFF; Uint must not sign-extend.
	v := U8(255)
	assert.Equal(t, uint64(255), v.Uint())

	// A full-width unsigned pattern above MaxInt64 round-trips through
	// the int64 bit reinterpretation.
	max := U64(^uint64(0))
	assert.Equal(t, ^uint64(0), max.Uint())
	assert.Equal(t, "18446744073709551615", max.Text())
}

func TestIntValueBounds(t *testing.T) {
	v := I8(0)
	assert.Equal(t, int64(-128), v.MinInt())
	assert.Equal(t, int64(127), v.MaxInt())

	w := I64(0)
	assert.Equal(t, int64(-1<<63), w.MinInt())
	assert.Equal(t, int64(1<<63-1), w.MaxInt())
}

func TestValueEqualDistinguishesWidth(t *testing.T) {
	// Same numeric value, different declared type: never equal.
	assert.False(t, I64(3).Equal(I32(3)))
	assert.False(t, I64(3).Equal(U64(3)))
	assert.True(t, I64(3).Equal(I64(3)))
}

func TestValueEqualAcrossKinds(t *testing.T) {
	assert.False(t, I64(1).Equal(F64(1)))
	assert.False(t, Bool(true).Equal(I64(1)))
	assert.False(t, Str("1").Equal(I64(1)))
}

func TestArrayValueSharesBacking(t *testing.T) {
	a := Array(I64(1), I64(2))
	b := a // copy of the slice header, same backing
	b[0] = I64(99)
	assert.True(t, a[0].Equal(I64(99)))
}

func TestArrayValueCloneIsIndependent(t *testing.T) {
	a := Array(I64(1), Array(I64(2)))
	c := a.Clone().(ArrayValue)
	c[0] = I64(99)
	inner := c[1].(ArrayValue)
	inner[0] = I64(98)

	assert.True(t, a[0].Equal(I64(1)))
	assert.True(t, a[1].(ArrayValue)[0].Equal(I64(2)))
}

func TestStructValueEqualDeep(t *testing.T) {
	a := StructValue{"x": I64(1), "y": Array(Bool(true))}
	b := StructValue{"x": I64(1), "y": Array(Bool(true))}
	c := StructValue{"x": I64(1), "y": Array(Bool(false))}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(StructValue{"x": I64(1)}))
}

func TestEnumValueEqual(t *testing.T) {
	assert.True(t, Enum("None", nil).Equal(Enum("None", nil)))
	assert.True(t, Enum("Some", I64(1)).Equal(Enum("Some", I64(1))))
	assert.False(t, Enum("Some", I64(1)).Equal(Enum("Some", I64(2))))
	assert.False(t, Enum("Some", I64(1)).Equal(Enum("None", nil)))
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "-7", I64(-7).Text())
	assert.Equal(t, "255", U8(255).Text())
	assert.Equal(t, "1.5", F64(1.5).Text())
	assert.Equal(t, "true", Bool(true).Text())
	assert.Equal(t, "hi", Str("hi").Text())
	assert.Equal(t, "[1, 2]", Array(I64(1), I64(2)).Text())
	assert.Equal(t, "{x: 1}", StructValue{"x": I64(1)}.Text())
	assert.Equal(t, "Some(3)", Enum("Some", I64(3)).Text())
	assert.Equal(t, "None", Enum("None", nil).Text())
}

func TestStructValueSortedKeysRFC8785Order(t *testing.T) {
	// UTF-16 code unit ordering: uppercase sorts before lowercase.
	v := StructValue{
		"a": I64(1), "A": I64(2), "aa": I64(3),
		"aA": I64(4), "Aa": I64(5), "AA": I64(6),
	}
	expected := []string{"A", "AA", "Aa", "a", "aA", "aa"}
	assert.Equal(t, expected, v.SortedKeys())
}

func TestSortedKeysSupplementaryPlane(t *testing.T) {
	// U+1D11E (musical G clef) encodes as the surrogate pair D834 DD1E in
	// UTF-16 and therefore sorts before U+FB01 (fb01 > d834), while UTF-8
	// byte order would say the opposite. RFC 8785 requires the UTF-16
	// answer.
	v := StructValue{
		"\U0001D11E": I64(1),
		"ﬁ":     I64(2),
	}
	keys := v.SortedKeys()
	require.Len(t, keys, 2)
	assert.Equal(t, "\U0001D11E", keys[0])
	assert.Equal(t, "ﬁ", keys[1])
}

func TestCloneImmutableKindsReturnSelf(t *testing.T) {
	v := I64(5)
	assert.Equal(t, Value(v), v.Clone())
	s := Str("x")
	assert.Equal(t, Value(s), s.Clone())
}
