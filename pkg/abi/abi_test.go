package abi

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	"pgregory.net/rapid"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/types"
)

var linux = a64.Target{OS: a64.Linux}

func fn(ret types.Type, params ...types.Type) types.Tfunction {
	return types.Tfunction{Params: params, Return: ret}
}

func TestClassifyType(t *testing.T) {
	f32x3 := types.Tuple(types.F32(), types.F32(), types.F32())
	mixed := types.Tuple(types.F32(), types.F64())
	tests := []struct {
		name string
		typ  types.Type
		want Class
	}{
		{"i64", types.I64(), Class{Kind: ByVal}},
		{"i128", types.I128(), Class{Kind: ByVal}},
		{"pointer", types.Pointer(types.U8()), Class{Kind: ByVal}},
		{"f64", types.F64(), Class{Kind: FloatArray, Count: 1, FloatBits: 64}},
		{"slice", types.Slice(types.U8()), Class{Kind: DoubleInteger}},
		{"small struct", types.Tuple(types.U32(), types.U16()), Class{Kind: Integer}},
		{"two words", types.Tuple(types.U64(), types.U8()), Class{Kind: DoubleInteger}},
		{"hfa", f32x3, Class{Kind: FloatArray, Count: 3, FloatBits: 32}},
		{"hfa array", types.Array(types.F64(), 4), Class{Kind: FloatArray, Count: 4, FloatBits: 64}},
		{"too many floats", types.Array(types.F64(), 5), Class{Kind: Memory}},
		{"mixed floats", mixed, Class{Kind: DoubleInteger}},
		{"large", types.Array(types.U64(), 3), Class{Kind: Memory}},
		{"optional u32", types.Optional(types.U32()), Class{Kind: Integer}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ClassifyType(tt.typ), tt.want)
		})
	}
}

func TestResolveIntegerParams(t *testing.T) {
	res, err := Resolve(fn(types.I64(), types.I64(), types.I64()), linux)
	assert.NilError(t, err)
	assert.Equal(t, res.ArgCount, 2)
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.X0})
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.X1})
	assert.DeepEqual(t, res.Return.Regs, []a64.Register{a64.X0})
	assert.Equal(t, res.StackBytes, uint32(0))
	assert.Equal(t, res.GPUsed, 2)
}

func TestResolveNarrowParamsUseW(t *testing.T) {
	res, err := Resolve(fn(types.Bool(), types.U8(), types.I32()), linux)
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.W0})
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.W1})
	assert.DeepEqual(t, res.Return.Regs, []a64.Register{a64.W0})
}

func TestResolveStackRounding(t *testing.T) {
	params := make([]types.Type, 11)
	for i := range params {
		params[i] = types.I64()
	}
	res, err := Resolve(fn(types.Void(), params...), linux)
	assert.NilError(t, err)
	assert.Equal(t, res.Params[8].Kind, LocStack)
	assert.Equal(t, res.Params[8].StackOffset, uint32(0))
	assert.Equal(t, res.Params[10].StackOffset, uint32(16))
	assert.Equal(t, res.StackBytes, uint32(32))
	assert.Equal(t, res.Return.Kind, LocNone)
}

func TestResolveI128AlignsToEvenRegister(t *testing.T) {
	sig := fn(types.Void(), types.U8(), types.I128())
	res, err := Resolve(sig, linux)
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.X2, a64.X3})

	res, err = Resolve(sig, a64.Target{OS: a64.Darwin})
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.X1, a64.X2})
}

func TestResolveFloats(t *testing.T) {
	hfa := types.Tuple(types.F32(), types.F32())
	res, err := Resolve(fn(hfa, types.F64(), types.I64(), hfa), linux)
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.D0})
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.X0})
	assert.DeepEqual(t, res.Params[2].Regs, []a64.Register{a64.S1, a64.S2})
	assert.DeepEqual(t, res.Return.Regs, []a64.Register{a64.S0, a64.S1})
	assert.Equal(t, res.FPUsed, 3)
}

func TestResolveIndirectReturn(t *testing.T) {
	big := types.Array(types.U64(), 4)

	res, err := Resolve(fn(big, types.I64()), linux)
	assert.NilError(t, err)
	assert.Equal(t, res.Return.Kind, LocIndirect)
	assert.DeepEqual(t, res.Return.Regs, []a64.Register{a64.X0})
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.X1})

	c := fn(big, types.I64())
	c.CallConv = types.CallConvC
	res, err = Resolve(c, linux)
	assert.NilError(t, err)
	assert.DeepEqual(t, res.Return.Regs, []a64.Register{a64.X8})
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.X0})
}

func TestResolveMemoryParamByRef(t *testing.T) {
	res, err := Resolve(fn(types.Void(), types.Array(types.U8(), 40)), linux)
	assert.NilError(t, err)
	assert.Assert(t, res.Params[0].ByRef)
	assert.DeepEqual(t, res.Params[0].Regs, []a64.Register{a64.X0})
}

func TestResolveZeroSizeParam(t *testing.T) {
	res, err := Resolve(fn(types.NoReturn(), types.Void(), types.I64()), linux)
	assert.NilError(t, err)
	assert.Equal(t, res.ArgCount, 1)
	assert.Equal(t, res.Params[0].Kind, LocNone)
	assert.DeepEqual(t, res.Params[1].Regs, []a64.Register{a64.X0})
	assert.Equal(t, res.Return.Kind, LocUnreachable)
}

func TestResolveUnsupported(t *testing.T) {
	for _, cc := range []types.CallConv{types.CallConvNaked, types.CallConvInterrupt, types.CallConvVectorcall} {
		sig := fn(types.Void())
		sig.CallConv = cc
		_, err := Resolve(sig, linux)
		assert.Assert(t, errors.Is(err, ErrUnsupportedCallConv), cc.String())
	}
}

func TestStackBytesAligned(t *testing.T) {
	pool := []types.Type{
		types.U8(), types.I64(), types.I128(), types.F32(), types.F64(),
		types.Slice(types.U8()), types.Tuple(types.U32(), types.U8()),
		types.Array(types.U64(), 5), types.Tuple(types.F64(), types.F64()),
	}
	rapid.Check(t, func(t *rapid.T) {
		params := rapid.SliceOfN(rapid.SampledFrom(pool), 0, 24).Draw(t, "params")
		os := rapid.SampledFrom([]a64.OS{a64.Linux, a64.Darwin}).Draw(t, "os")
		res, err := Resolve(fn(types.Void(), params...), a64.Target{OS: os})
		if err != nil {
			t.Fatal(err)
		}
		if res.StackBytes%StackAlignment != 0 {
			t.Fatalf("stack bytes %d not aligned", res.StackBytes)
		}
		for i, loc := range res.Params {
			if loc.Kind == LocStack && loc.StackOffset >= res.StackBytes {
				t.Fatalf("param %d at %d outside %d", i, loc.StackOffset, res.StackBytes)
			}
		}
	})
}

func TestIsCalleeSaved(t *testing.T) {
	assert.Assert(t, IsCalleeSaved(a64.X19))
	assert.Assert(t, IsCalleeSaved(a64.W28))
	assert.Assert(t, !IsCalleeSaved(a64.X9))
	assert.Assert(t, !IsCalleeSaved(a64.Q19))
	assert.Assert(t, !IsCalleeSaved(a64.SP))
}
