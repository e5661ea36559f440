package types

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		wantStr string
	}{
		{"void", Void(), "void"},
		{"i64", I64(), "i64"},
		{"u8", U8(), "u8"},
		{"f32", F32(), "f32"},
		{"pointer", Pointer(I32()), "*i32"},
		{"slice", Slice(U8()), "[]u8"},
		{"array", Array(U16(), 4), "[4]u16"},
		{"optional", Optional(Pointer(U8())), "?*u8"},
		{"error union", ErrorUnion(U32()), "!u32"},
		{"tuple", OverflowTuple(I64()), "struct{i64, u1}"},
		{"function", Function([]Type{I64()}, Bool(), CallConvC), "fn(i64) bool callconv(c)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
}

func TestTypeEquality(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Type
		equal bool
	}{
		{"i64 == i64", I64(), I64(), true},
		{"i64 != u64", I64(), U64(), false},
		{"nil == nil", nil, nil, true},
		{"nil != bool", nil, Bool(), false},
		{"slices", Slice(U8()), Slice(U8()), true},
		{"tuples", OverflowTuple(U8()), OverflowTuple(U8()), true},
		{"tuple vs struct", OverflowTuple(U8()), Tstruct{Name: "T"}, false},
		{"struct vs bool", Tstruct{Name: "T"}, Bool(), false},
		{"fn cc", Function(nil, Void(), CallConvC), Function(nil, Void(), CallConvAuto), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.equal {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
}

func TestSizes(t *testing.T) {
	tests := []struct {
		typ   Type
		size  uint64
		align uint64
	}{
		{Bool(), 1, 1},
		{U1(), 1, 1},
		{I32(), 4, 4},
		{Int(24, Unsigned), 4, 4},
		{Int(40, Signed), 8, 8},
		{I128(), 16, 16},
		{F64(), 8, 8},
		{Pointer(U8()), 8, 8},
		{Slice(U8()), 16, 8},
		{Array(U8(), 20), 20, 1},
		{Tuple(I64(), U1()), 16, 8},
		{Tuple(U8(), U1()), 2, 1},
		{Tuple(U8(), U32(), U16()), 12, 4},
		{Optional(Pointer(U8())), 8, 8},
		{Optional(U32()), 8, 4},
		{Optional(Void()), 1, 1},
		{ErrorUnion(U64()), 16, 8},
		{ErrorUnion(U8()), 4, 2},
		{ErrorUnion(Void()), 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := AbiSize(tt.typ); got != tt.size {
				t.Errorf("AbiSize = %d, want %d", got, tt.size)
			}
			if got := AbiAlign(tt.typ); got != tt.align {
				t.Errorf("AbiAlign = %d, want %d", got, tt.align)
			}
		})
	}
}

func TestLayouts(t *testing.T) {
	st := Tuple(U8(), U32(), U16()).(Tstruct)
	assert.DeepEqual(t, StructLayoutOf(st).Offsets, []uint64{0, 4, 8})

	opt := OptionalLayoutOf(Toptional{Payload: U32()})
	assert.Equal(t, opt.FlagOffset, uint64(4))

	eu := ErrorUnionLayoutOf(Terrorunion{Payload: U64()})
	assert.Equal(t, eu.PayloadOffset, uint64(0))
	assert.Equal(t, eu.ErrOffset, uint64(8))

	eu = ErrorUnionLayoutOf(Terrorunion{Payload: U8()})
	assert.Equal(t, eu.ErrOffset, uint64(0))
	assert.Equal(t, eu.PayloadOffset, uint64(2))

	u := Tunion{Fields: []Field{{Name: "a", Type: U64()}, {Name: "b", Type: U8()}}, Tagged: true}
	ul := UnionLayoutOf(u)
	assert.Equal(t, ul.PayloadOffset, uint64(0))
	assert.Equal(t, ul.TagOffset, uint64(8))
	assert.Equal(t, ul.Size, uint64(16))
	assert.Assert(t, Equal(ul.TagType, U1()))
}

func TestIntInfo(t *testing.T) {
	bits, sign, ok := IntInfo(Pointer(U8()))
	assert.Assert(t, ok)
	assert.Equal(t, bits, 64)
	assert.Equal(t, sign, Unsigned)

	_, _, ok = IntInfo(Optional(U8()))
	assert.Assert(t, !ok)
	assert.Assert(t, IsSigned(I16()))
	assert.Assert(t, IsAggregate(Slice(U8())))
	assert.Assert(t, !IsAggregate(Optional(Pointer(U8()))))
}
