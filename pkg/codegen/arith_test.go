package codegen

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/emit"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// Results land in x9 and flags in x10; x17 holds the exact product or sum
// that narrow results are checked against.
func TestOverflowArithmetic(t *testing.T) {
	tests := []struct {
		name string
		tag  air.Tag
		ty   types.Type
		want []string
	}{
		{"add u64 carries", air.AddWithOverflow, types.U64(), []string{
			"adds\tx9, x0, x1", "cset\tx10, hs",
		}},
		{"sub u64 borrows", air.SubWithOverflow, types.U64(), []string{
			"subs\tx9, x0, x1", "cset\tx10, lo",
		}},
		{"add i64 overflows", air.AddWithOverflow, types.I64(), []string{
			"adds\tx9, x0, x1", "cset\tx10, vs",
		}},
		{"add u8 truncates", air.AddWithOverflow, types.U8(), []string{
			"adds\tx17, x0, x1", "mov\tx9, x17", "ubfx\tx9, x9, #0, #8",
			"cmp\tx17, x9", "cset\tx10, ne",
		}},
		{"sub i32 truncates", air.SubWithOverflow, types.I32(), []string{
			"subs\tx17, x0, x1", "mov\tx9, x17", "sbfx\tx9, x9, #0, #32",
			"cmp\tx17, x9", "cset\tx10, ne",
		}},
		{"mul u32 in 64 bits", air.MulWithOverflow, types.U32(), []string{
			"mul\tx17, x0, x1", "mov\tx9, x17", "ubfx\tx9, x9, #0, #32",
			"cmp\tx17, x9", "cset\tx10, ne",
		}},
		{"mul u64 high word", air.MulWithOverflow, types.U64(), []string{
			"mul\tx17, x0, x1", "umulh\tx10, x0, x1", "cmp\tx10, #0", "cset\tx10, ne",
			"mov\tx9, x17", "cmp\tx17, x9", "csinc\tx10, x10, xzr, eq",
		}},
		{"mul i64 high word is the sign", air.MulWithOverflow, types.I64(), []string{
			"mul\tx17, x0, x1", "smulh\tx10, x0, x1", "cmp\tx10, x17, asr #63", "cset\tx10, ne",
			"mov\tx9, x17", "cmp\tx17, x9", "csinc\tx10, x10, xzr, eq",
		}},
		{"shl u8 shifts back", air.ShlWithOverflow, types.U8(), []string{
			"lsl\tx17, x0, x1", "mov\tx9, x17", "ubfx\tx9, x9, #0, #8",
			"lsr\tx17, x9, x1", "cmp\tx17, x0", "cset\tx10, ne",
		}},
		{"shl i16 shifts back arithmetically", air.ShlWithOverflow, types.I16(), []string{
			"lsl\tx17, x0, x1", "mov\tx9, x17", "sbfx\tx9, x9, #0, #16",
			"asr\tx17, x9, x1", "cmp\tx17, x0", "cset\tx10, ne",
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := air.NewBuilder("ov", sig(types.U1(), tc.ty, tc.ty))
			x := b.Arg("x")
			y := b.Arg("y")
			ov := b.Bin(tc.tag, types.OverflowTuple(tc.ty), x, y)
			b.Ret(b.FieldVal(ov, 1))
			f := lower(t, b.Finish(), a64.Target{})

			got := body(f)
			assert.Assert(t, inOrder(got, tc.want), "got:\n%v", got)
			_, err := emit.Assemble(f)
			assert.NilError(t, err)
		})
	}
}

// Signed floored division and modulo correct the truncating result when the
// remainder is nonzero and its sign differs from the divisor's.
func TestFlooredDivision(t *testing.T) {
	tests := []struct {
		name string
		tag  air.Tag
		ty   types.Type
		want []string
		none []mir.Tag
	}{
		{"div_floor i64", air.DivFloor, types.I64(), []string{
			"sdiv\tx9, x0, x1", "msub\tx17, x9, x1, x0",
			"eor\tx16, x17, x1", "asr\tx16, x16, #63", "cmp\tx17, #0", "csel\tx16, x16, xzr, ne",
			"add\tx9, x9, x16",
		}, []mir.Tag{mir.And}},
		{"mod i64", air.Mod, types.I64(), []string{
			"sdiv\tx17, x0, x1", "msub\tx9, x17, x1, x0",
			"eor\tx16, x9, x1", "asr\tx16, x16, #63", "cmp\tx9, #0", "csel\tx16, x16, xzr, ne",
			"and\tx16, x16, x1", "add\tx9, x9, x16",
		}, nil},
		{"mod i32 canonicalizes", air.Mod, types.I32(), []string{
			"sdiv\tx17, x0, x1", "msub\tx9, x17, x1, x0",
			"and\tx16, x16, x1", "add\tx9, x9, x16", "sbfx\tx9, x9, #0, #32",
		}, nil},
		{"rem i64 truncates", air.Rem, types.I64(), []string{
			"sdiv\tx17, x0, x1", "msub\tx9, x17, x1, x0",
		}, []mir.Tag{mir.Eor, mir.Csel}},
		{"div_floor u64 needs no fixup", air.DivFloor, types.U64(), []string{
			"udiv\tx9, x0, x1",
		}, []mir.Tag{mir.Msub, mir.Eor, mir.Csel}},
		{"mod u64 is rem", air.Mod, types.U64(), []string{
			"udiv\tx17, x0, x1", "msub\tx9, x17, x1, x0",
		}, []mir.Tag{mir.Eor, mir.Csel}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := air.NewBuilder("div", sig(tc.ty, tc.ty, tc.ty))
			x := b.Arg("x")
			y := b.Arg("y")
			b.Ret(b.Bin(tc.tag, tc.ty, x, y))
			f := lower(t, b.Finish(), a64.Target{})

			got := body(f)
			assert.Assert(t, inOrder(got, tc.want), "got:\n%v", got)
			for _, tag := range tc.none {
				assert.Equal(t, count(f, tag), 0, "%s", tag)
			}
		})
	}
}
