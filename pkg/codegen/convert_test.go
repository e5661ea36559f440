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

func TestConversions(t *testing.T) {
	tests := []struct {
		name     string
		tag      air.Tag
		from, to types.Type
		want     []string
		none     []mir.Tag
	}{
		{"signed int to double", air.FloatFromInt, types.I64(), types.F64(),
			[]string{"scvtf\td16, x0"}, nil},
		{"unsigned int to float", air.FloatFromInt, types.U32(), types.F32(),
			[]string{"ucvtf\ts16, x0"}, nil},
		{"double to narrow signed", air.IntFromFloat, types.F64(), types.I32(),
			[]string{"fcvtzs\tx9, d0", "sbfx\tx9, x9, #0, #32"}, nil},
		{"float to unsigned", air.IntFromFloat, types.F32(), types.U64(),
			[]string{"fcvtzu\tx9, s0"}, []mir.Tag{mir.Ubfm}},
		{"double to float", air.FloatCast, types.F64(), types.F32(),
			[]string{"fcvt\ts16, d0"}, nil},
		{"float to double", air.FloatCast, types.F32(), types.F64(),
			[]string{"fcvt\td16, s0"}, nil},
		{"narrowing intcast", air.Intcast, types.I64(), types.I8(),
			[]string{"mov\tx9, x0", "sbfx\tx9, x9, #0, #8"}, nil},
		{"trunc", air.Trunc, types.U64(), types.U16(),
			[]string{"mov\tx9, x0", "ubfx\tx9, x9, #0, #16"}, nil},
		{"widening keeps the canonical form", air.Intcast, types.U8(), types.U32(),
			nil, []mir.Tag{mir.Ubfm, mir.Sbfm}},
		{"sign into the high word", air.Intcast, types.I64(), types.I128(),
			[]string{"mov\tx9, x0", "asr\tx10, x0, #63"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := air.NewBuilder("conv", sig(tc.to, tc.from))
			x := b.Arg("x")
			b.Ret(b.Un(tc.tag, tc.to, x))
			f := lower(t, b.Finish(), a64.Target{})

			got := body(f)
			assert.Assert(t, inOrder(got, tc.want), "got:\n%v", got)
			for _, tag := range tc.none {
				assert.Equal(t, count(f, tag), 0, "%s", tag)
			}
			_, err := emit.Assemble(f)
			assert.NilError(t, err)
		})
	}
}
