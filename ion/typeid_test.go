package ion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup10(t *testing.T) {
	tests := []struct {
		b      byte
		kind   DescriptorKind
		typ    Type
		length int
		null   bool
	}{
		{0x0F, KindValue, NullType, 0, true},
		{0x00, KindNOP, NoType, 0, false},
		{0x11, KindValue, BoolType, 0, false},
		{0x12, KindInvalid, BoolType, 2, false},
		{0x21, KindValue, IntType, 1, false},
		{0x30, KindInvalid, IntType, 0, false},
		{0x44, KindValue, FloatType, 4, false},
		{0x43, KindInvalid, FloatType, 3, false},
		{0x8E, KindValue, StringType, LengthVariable, false},
		{0xAF, KindValue, BlobType, 0, true},
		{0xD1, KindValue, StructType, LengthVariable, false},
		{0xE0, KindIVM, NoType, 0, false},
		{0xE3, KindAnnotations, NoType, 3, false},
		{0xF0, KindInvalid, NoType, 0, false},
	}
	for _, tt := range tests {
		td := Lookup(tt.b, 0)
		assert.Equal(t, tt.kind, td.Kind, "0x%02X kind", tt.b)
		assert.Equal(t, tt.typ, td.Type, "0x%02X type", tt.b)
		assert.Equal(t, tt.length, td.Length, "0x%02X length", tt.b)
		assert.Equal(t, tt.null, td.IsNull, "0x%02X null", tt.b)
		assert.Equal(t, 0, td.Minor)
	}
	assert.True(t, Lookup(0xD1, 0).Ordered)
	assert.True(t, Lookup(0x31, 0).IsNegativeInt)
	assert.True(t, Lookup(0x11, 0).Bool)
	assert.True(t, Lookup(0xB3, 0).IsContainer())
	assert.False(t, Lookup(0xBF, 0).IsContainer())
}

func TestLookup11(t *testing.T) {
	tests := []struct {
		b    byte
		kind DescriptorKind
		typ  Type
	}{
		{0x00, KindMacro, NoType},
		{0x3F, KindMacro, NoType},
		{0x45, KindMacro, NoType},
		{0x52, KindValue, IntType},
		{0x59, KindInvalid, NoType},
		{0x5C, KindValue, FloatType},
		{0x5E, KindValue, BoolType},
		{0x63, KindValue, DecimalType},
		{0x70, KindValue, TimestampType},
		{0x7D, KindInvalid, TimestampType},
		{0x93, KindValue, SymbolType},
		{0xA0, KindValue, ListType},
		{0xD1, KindInvalid, StructType},
		{0xE0, KindIVM, NoType},
		{0xE1, KindValue, SymbolType},
		{0xF0, KindDelimitedEnd, NoType},
		{0xF1, KindValue, ListType},
		{0xF3, KindValue, StructType},
	}
	for _, tt := range tests {
		td := Lookup(tt.b, 1)
		assert.Equal(t, tt.kind, td.Kind, "0x%02X kind", tt.b)
		assert.Equal(t, tt.typ, td.Type, "0x%02X type", tt.b)
		assert.Equal(t, 1, td.Minor)
	}

	assert.Equal(t, MacroInline, Lookup(0x2A, 1).MacroForm)
	assert.Equal(t, 0x2A, Lookup(0x2A, 1).MacroID)
	assert.Equal(t, MacroExtended, Lookup(0x4F, 1).MacroForm)
	assert.Equal(t, MacroSystem, Lookup(0xEF, 1).MacroForm)
	assert.Equal(t, MacroPrefixed, Lookup(0xF4, 1).MacroForm)

	assert.Equal(t, 4, Lookup(0x5C, 1).Length)
	assert.Equal(t, LengthVariable, Lookup(0xF8, 1).Length)
	assert.True(t, Lookup(0xF1, 1).IsDelimited)
	assert.True(t, Lookup(0xF3, 1).FlexSymFields)
	assert.True(t, Lookup(0x93, 1).IsInlineable)
	assert.Equal(t, 2, Lookup(0x72, 1).ShortTimestamp)
	assert.Equal(t, -1, Lookup(0xF7, 1).ShortTimestamp)
}

func TestTypedNull11(t *testing.T) {
	for code, typ := range []Type{BoolType, IntType, FloatType, DecimalType, TimestampType, StringType,
		SymbolType, BlobType, ClobType, ListType, SexpType, StructType} {
		td := TypedNull11(byte(code))
		require.NotNil(t, td, "code %d", code)
		assert.Equal(t, typ, td.Type)
		assert.True(t, td.IsNull)
	}
	assert.Nil(t, TypedNull11(12))
}

func TestTaglessDescriptor(t *testing.T) {
	td := taglessDescriptor(EncodingUint16)
	assert.Equal(t, IntType, td.Type)
	assert.Equal(t, 2, td.Length)
	assert.Equal(t, EncodingUint16, td.Tagless)
	assert.Equal(t, FloatType, taglessDescriptor(EncodingFloat64).Type)
	assert.Equal(t, LengthVariable, taglessDescriptor(EncodingFlexInt).Length)
}

func TestDescriptorKindString(t *testing.T) {
	tests := []struct {
		k        DescriptorKind
		expected string
	}{
		{KindInvalid, "invalid"},
		{KindAnnotations, "annotations"},
		{KindDelimitedEnd, "delimited-end"},
		{DescriptorKind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.k, got, tt.expected)
		}
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		t        Type
		expected string
	}{
		{NullType, "null"},
		{StructType, "struct"},
		{TimestampType, "timestamp"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.expected {
			t.Errorf("%d.String() = %q, expected %q", tt.t, got, tt.expected)
		}
	}
	assert.True(t, SexpType.IsContainer())
	assert.False(t, BlobType.IsContainer())
}

func TestSymbolToken(t *testing.T) {
	assert.Equal(t, "abc", NewSymbolToken("abc").String())
	assert.Equal(t, "$12", SymbolToken{SID: 12}.String())
	assert.True(t, NewSymbolToken("x").Equal(NewSymbolToken("x")))
	assert.False(t, NewSymbolToken("x").Equal(SymbolToken{SID: 10}))
}
