package codegen

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/emit"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// access is a frame slot load or store without its register
type access struct {
	Off  int32
	Size uint8
}

func accesses(f *mir.Function, tag mir.Tag) []access {
	var out []access
	for _, inst := range f.Insts {
		if inst.Tag == tag {
			d := inst.Data.(mir.FrameRef)
			out = append(out, access{Off: d.Off, Size: d.Size})
		}
	}
	return out
}

// Each case wraps x into a tagged value in a frame slot, then reads it back.
// The flag, error code and union tag are written and read at their layout
// offsets.
func TestTaggedValuesRoundTrip(t *testing.T) {
	tagged := types.Tunion{Name: "U", Tagged: true, Fields: []types.Field{
		{Name: "a", Type: types.U32()},
		{Name: "b", Type: types.U64()},
	}}
	tests := []struct {
		name   string
		param  types.Type
		ret    types.Type
		build  func(b *air.Builder, x air.Ref)
		stores []access
		loads  []access
		want   []string
	}{
		{
			name: "optional payload and flag", param: types.U32(), ret: types.U32(),
			build: func(b *air.Builder, x air.Ref) {
				o := b.Un(air.WrapOptional, types.Optional(types.U32()), x)
				ok := b.Un(air.IsNonNull, types.Bool(), o)
				b.CondBr(ok, func() {
					b.Ret(b.Un(air.OptionalPayload, types.U32(), o))
				}, func() {
					b.Ret(b.Int(types.U32(), 0))
				})
			},
			stores: []access{{0, 4}, {4, 1}},
			loads:  []access{{4, 1}, {0, 4}},
			want:   []string{"cmp\tx16, #0", "cset\tx9, ne"},
		},
		{
			name: "error union payload", param: types.U32(), ret: types.U32(),
			build: func(b *air.Builder, x air.Ref) {
				eu := b.Un(air.WrapErrUnionPayload, types.ErrorUnion(types.U32()), x)
				bad := b.Un(air.IsErr, types.Bool(), eu)
				b.CondBr(bad, func() {
					b.Ret(b.Int(types.U32(), 0))
				}, func() {
					b.Ret(b.Un(air.UnwrapErrUnionPayload, types.U32(), eu))
				})
			},
			// the error code is zero, stored from xzr
			stores: []access{{0, 4}, {4, 2}},
			loads:  []access{{4, 2}, {0, 4}},
			want:   []string{"cmp\tx16, #0", "cset\tx9, ne"},
		},
		{
			name: "error union error", param: types.ErrorSet(), ret: types.ErrorSet(),
			build: func(b *air.Builder, x air.Ref) {
				eu := b.Un(air.WrapErrUnionErr, types.ErrorUnion(types.U64()), x)
				b.Ret(b.Un(air.UnwrapErrUnionErr, types.ErrorSet(), eu))
			},
			stores: []access{{8, 2}},
			loads:  []access{{8, 2}},
		},
		{
			name: "union tag", param: types.U64(), ret: types.U1(),
			build: func(b *air.Builder, x air.Ref) {
				u := b.Emit(air.UnionInit, tagged, air.UnionInitData{Field: 1, Init: x})
				b.Ret(b.Un(air.GetUnionTag, types.U1(), u))
			},
			stores: []access{{0, 8}, {8, 1}},
			loads:  []access{{8, 1}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := air.NewBuilder("wrap", sig(tc.ret, tc.param))
			tc.build(b, b.Arg("x"))
			f := lower(t, b.Finish(), a64.Target{})

			stores, loads := accesses(f, mir.StrFrame), accesses(f, mir.LdrFrame)
			for _, a := range tc.stores {
				assert.Assert(t, is.Contains(stores, a))
			}
			for _, a := range tc.loads {
				assert.Assert(t, is.Contains(loads, a))
			}
			got := body(f)
			assert.Assert(t, inOrder(got, tc.want), "got:\n%v", got)
			validTargets(t, f)
			_, err := emit.Assemble(f)
			assert.NilError(t, err)
		})
	}
}

// A null pointer is address zero, so ?*T needs no slot and no flag byte.
func TestPointerOptionalIsTheAddress(t *testing.T) {
	opt := types.Optional(types.Pointer(types.U8()))
	b := air.NewBuilder("isnull", sig(types.Bool(), types.Pointer(types.U8())))
	p := b.Arg("p")
	o := b.Un(air.WrapOptional, opt, p)
	b.Ret(b.Un(air.IsNull, types.Bool(), o))
	f := lower(t, b.Finish(), a64.Target{})

	assert.Equal(t, count(f, mir.StrFrame), 0)
	assert.Assert(t, inOrder(body(f), []string{"mov\tx16, x0", "cmp\tx16, #0", "cset\tx9, eq"}))
}
