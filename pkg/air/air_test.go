package air

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/raymyers/ralph-a64/pkg/types"
)

func TestRefs(t *testing.T) {
	r := InstRef(7)
	assert.Assert(t, r.IsInst())
	assert.Assert(t, !r.IsConst())
	assert.Equal(t, r.String(), "%7")

	c := ConstRef(3)
	assert.Assert(t, c.IsConst())
	assert.Equal(t, c.ConstIndex(), 3)
	assert.Equal(t, c.String(), "c3")

	assert.Assert(t, NoRef.IsNone())
	assert.Assert(t, !NoRef.IsInst() && !NoRef.IsConst())
}

func TestTagNames(t *testing.T) {
	for tag := Tag(0); tag < numTags; tag++ {
		name := tag.String()
		assert.Assert(t, name != "tag(?)", "tag %d has no name", tag)
		back, ok := ParseTag(name)
		assert.Assert(t, ok)
		assert.Equal(t, back, tag)
	}
}

func TestOperandsOrder(t *testing.T) {
	inst := Instruction{Tag: Call, Data: CallData{Callee: ConstRef(0), Args: []Ref{InstRef(1), InstRef(2)}}}
	assert.DeepEqual(t, inst.Operands(), []Ref{ConstRef(0), InstRef(1), InstRef(2)})

	inst = Instruction{Tag: Cmpxchg, Data: CmpxchgData{Ptr: 1, Expected: 2, New: 3}}
	assert.DeepEqual(t, inst.Operands(), []Ref{1, 2, 3})
}

func TestBuilderTypes(t *testing.T) {
	pair := types.Tuple(types.U32(), types.U64())
	b := NewBuilder("f", sig(types.U64(), types.Pointer(pair)))
	p := b.Arg("p")
	fp := b.FieldPtr(p, 1)
	v := b.Load(fp)
	b.Ret(v)
	fn := b.Finish()

	assert.Assert(t, types.Equal(fn.TypeOf(fp), types.Pointer(types.U64())))
	assert.Assert(t, types.Equal(fn.TypeOf(v), types.U64()))

	neg := b.Int(types.I128(), -1)
	assert.Equal(t, fn.Const(neg).Hi, ^uint64(0))
}

func TestPrinter(t *testing.T) {
	b := NewBuilder("max", sig(types.I64(), types.I64(), types.I64()))
	a := b.Arg("a")
	c := b.Arg("b")
	gt := b.Cmp(CmpGt, a, c)
	b.CondBr(gt, func() { b.Ret(a) }, func() { b.Ret(c) })
	fn := b.Finish()

	var sb strings.Builder
	NewPrinter(&sb).PrintFunction(fn)
	want := `max: fn(i64, i64) i64 {
  %0 = arg(i64, "a")
  %1 = arg(i64, "b")
  %2 = cmp_gt(%0, %1)
  %3 = cond_br(%2)
  then {
    %4 = ret(%0)
  }
  else {
    %5 = ret(%1)
  }
}
`
	assert.Equal(t, sb.String(), want)
}
