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

func TestBlockResultThroughBr(t *testing.T) {
	b := air.NewBuilder("min", sig(types.I64(), types.I64(), types.I64()))
	x := b.Arg("x")
	y := b.Arg("y")
	r := b.Block(types.I64(), func(blk air.Ref) {
		b.CondBr(b.Cmp(air.CmpLt, x, y), func() { b.Br(blk, x) }, func() { b.Br(blk, y) })
	})
	b.Ret(r)
	f := lower(t, b.Finish(), a64.Target{})

	// both arms store into the one result slot, which the return reads
	var stores []mir.FrameRef
	for _, inst := range f.Insts {
		if inst.Tag == mir.StrFrame {
			stores = append(stores, inst.Data.(mir.FrameRef))
		}
	}
	assert.Equal(t, len(stores), 2)
	assert.Equal(t, stores[0].Reg, a64.X0)
	assert.Equal(t, stores[1].Reg, a64.X1)
	assert.Equal(t, stores[0].Frame, stores[1].Frame)
	ld := find(t, f, mir.LdrFrame).Data.(mir.FrameRef)
	assert.Equal(t, ld.Frame, stores[0].Frame)
	assert.Equal(t, ld.Reg, a64.X0)

	// the else arm falls through, so only the then arm jumps, and forward
	assert.Equal(t, count(f, mir.B), 1)
	for i, inst := range f.Insts {
		if inst.Tag == mir.B {
			target, _ := inst.Target()
			assert.Assert(t, int(target) > i)
			assert.Equal(t, f.Insts[target].Tag, mir.LdrFrame)
		}
	}
	validTargets(t, f)
	_, err := emit.Assemble(f)
	assert.NilError(t, err)
}

// p lives in x9 across a loop whose body needs every register, so the body
// spills it. Both ways out of the body, the repeat and the br, must put it
// back in x9 before jumping.
func TestLoopReloadsSpilledValues(t *testing.T) {
	b := air.NewBuilder("loop", sig(types.U64(), types.U64()))
	x := b.Arg("x")
	p := b.Bin(air.AddWrap, types.U64(), x, b.Int(types.U64(), 1))
	acc := b.Alloc(types.U64())
	b.Block(types.Void(), func(blk air.Ref) {
		b.Loop(func(loop air.Ref) {
			var vals []air.Ref
			for i := 0; i < 25; i++ {
				vals = append(vals, b.Bin(air.AddWrap, types.U64(), x, b.Int(types.U64(), int64(i+2))))
			}
			sum := vals[24]
			for i := 23; i >= 0; i-- {
				sum = b.Bin(air.AddWrap, types.U64(), sum, vals[i])
			}
			b.Store(acc, sum)
			b.CondBr(b.Cmp(air.CmpLt, sum, x), func() { b.Repeat(loop) }, func() { b.Br(blk, air.NoRef) })
		})
	})
	b.Ret(p)
	f := lower(t, b.Finish(), a64.Target{})

	st := find(t, f, mir.StrFrame).Data.(mir.FrameRef)
	assert.Equal(t, st.Reg, a64.X9)

	reloads := func(from, to int) int {
		n := 0
		for _, inst := range f.Insts[from:to] {
			if inst.Tag == mir.LdrFrame && inst.Data.(mir.FrameRef).Reg == a64.X9 {
				n++
			}
		}
		return n
	}
	backward := -1
	for i, inst := range f.Insts {
		if target, ok := inst.Target(); ok && inst.Tag == mir.B && int(target) < i {
			backward = i
			assert.Assert(t, reloads(int(target), i) > 0, "no reload of x9 before the repeat")
		}
	}
	assert.Assert(t, backward >= 0, "no backward branch")
	assert.Assert(t, reloads(backward, len(f.Insts)) > 0, "no reload of x9 on the way out")
	validTargets(t, f)
	_, err := emit.Assemble(f)
	assert.NilError(t, err)
}

func TestJumpOutsideItsTarget(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *air.Builder)
		want  string
	}{
		{"repeat of a block", func(b *air.Builder) {
			b.Block(types.Void(), func(blk air.Ref) { b.Repeat(blk) })
		}, "outside its loop"},
		{"repeat of an unknown loop", func(b *air.Builder) {
			b.Emit(air.Repeat, types.NoReturn(), air.RepeatData{Loop: 0})
		}, "outside its loop"},
		{"br to a loop", func(b *air.Builder) {
			b.Loop(func(loop air.Ref) { b.Br(loop, air.NoRef) })
		}, "outside its block"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := air.NewBuilder("bad", sig(types.Void()))
			tc.build(b)
			b.Ret(air.NoRef)
			fn := b.Finish()
			_, err := Generate(fn, air.Analyze(fn), a64.Target{})
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSwitchLowering(t *testing.T) {
	b := air.NewBuilder("classify", sig(types.U32(), types.U32()))
	x := b.Arg("x")
	ret := func(v int64) func() { return func() { b.Ret(b.Int(types.U32(), v)) } }
	b.Switch(x, []air.Case{
		{Items: []air.Ref{b.Int(types.U32(), 1), b.Int(types.U32(), 2)}, Fill: ret(10)},
		{Items: []air.Ref{b.Int(types.U32(), 5)}, Fill: ret(20)},
	}, ret(0))
	f := lower(t, b.Finish(), a64.Target{})

	got := body(f)
	assert.Assert(t, inOrder(got, []string{
		"cmp\tx0, #1", "cmp\tx0, #2", "cmp\tx0, #5",
	}), "got:\n%v", got)
	var eq []uint32
	for _, inst := range f.Insts {
		if inst.Tag == mir.BCond {
			target, _ := inst.Target()
			eq = append(eq, target)
		}
	}
	// one b.eq per item; items of one case share its body
	assert.Equal(t, len(eq), 3)
	assert.Equal(t, eq[0], eq[1])
	assert.Assert(t, eq[2] > eq[0])
	validTargets(t, f)
	_, err := emit.Assemble(f)
	assert.NilError(t, err)
}
