package airtext

import (
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/types"
)

func mustLoad(t *testing.T, path string) *Module {
	t.Helper()
	m, err := LoadFile(path)
	assert.NilError(t, err)
	return m
}

func mustFunction(t *testing.T, m *Module, name string) *air.Function {
	t.Helper()
	fn, ok := m.Function(name)
	assert.Assert(t, ok, "function %s not loaded", name)
	return fn
}

func tags(fn *air.Function, body []air.Index) []air.Tag {
	out := make([]air.Tag, len(body))
	for i, idx := range body {
		out[i] = fn.Inst(idx).Tag
	}
	return out
}

func TestParseType(t *testing.T) {
	tests := []struct {
		src  string
		want types.Type
	}{
		{"u64", types.U64()},
		{"i7", types.Int(7, types.Signed)},
		{"usize", types.Usize()},
		{"bool", types.Bool()},
		{"f32", types.F32()},
		{"anyerror", types.ErrorSet()},
		{"*u8", types.Pointer(types.U8())},
		{"[]i32", types.Slice(types.I32())},
		{"[4]u16", types.Array(types.U16(), 4)},
		{"?*u8", types.Optional(types.Pointer(types.U8()))},
		{"!u32", types.ErrorUnion(types.U32())},
		{"fn(u64, *u8) u64", types.Function([]types.Type{types.U64(), types.Pointer(types.U8())}, types.U64(), types.CallConvAuto)},
		{"fn() void callconv(c)", types.Function(nil, types.Void(), types.CallConvC)},
		{"*fn(i64) i64", types.Pointer(types.Function([]types.Type{types.I64()}, types.I64(), types.CallConvAuto))},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := ParseType(tt.src)
			assert.NilError(t, err)
			assert.Assert(t, types.Equal(got, tt.want), "got %s, want %s", got, tt.want)
			// the printed form reads back to the same type
			again, err := ParseType(got.String())
			assert.NilError(t, err)
			assert.Assert(t, types.Equal(again, got), "%s reparsed as %s", got, again)
		})
	}
}

func TestParseTypeErrors(t *testing.T) {
	for _, src := range []string{"", "u0", "u129", "pair", "[x]u8", "[4u8", "fn(u8 u8", "u8 extra", "fn() void callconv(fast)"} {
		_, err := ParseType(src)
		assert.Assert(t, err != nil, "%q parsed", src)
	}
}

func TestLoadMatchesBuilder(t *testing.T) {
	m := mustLoad(t, "../../testdata/modules/arith.yaml")
	assert.Equal(t, m.Name, "arith")

	b := air.NewBuilder("add", types.Tfunction{Params: []types.Type{types.I64(), types.I64()}, Return: types.I64()})
	x := b.Arg("x")
	y := b.Arg("y")
	b.Ret(b.Bin(air.Add, types.I64(), x, y))
	want := b.Finish()

	if diff := gocmp.Diff(want, mustFunction(t, m, "add")); diff != "" {
		t.Errorf("loaded function mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadNestedBodies(t *testing.T) {
	fn := mustFunction(t, mustLoad(t, "../../testdata/modules/arith.yaml"), "sum_to")

	top := tags(fn, fn.Body)
	assert.DeepEqual(t, top, []air.Tag{
		air.Arg, air.Alloc, air.Store, air.Alloc, air.Store, air.Block, air.Load, air.Ret,
	})
	block := fn.Inst(fn.Body[5])
	assert.Assert(t, types.Equal(block.Type, types.Void()))
	inner := block.Data.(air.BodyData).Body
	assert.DeepEqual(t, tags(fn, inner), []air.Tag{air.Loop})

	loop := fn.Inst(inner[0]).Data.(air.BodyData).Body
	assert.DeepEqual(t, tags(fn, loop), []air.Tag{air.Load, air.CmpLt, air.CondBr})
	cond := fn.Inst(loop[2]).Data.(air.CondBrData)
	assert.Equal(t, fn.Inst(cond.Then[len(cond.Then)-1]).Data.(air.RepeatData).Loop, inner[0])
	assert.Equal(t, fn.Inst(cond.Else[0]).Data.(air.BrData).Block, fn.Body[5])
	assert.Equal(t, fn.Inst(cond.Else[0]).Data.(air.BrData).Operand, air.NoRef)

	// load infers its type from the pointer
	assert.Assert(t, types.Equal(fn.Inst(loop[0]).Type, types.U64()))
}

func TestLoadSwitch(t *testing.T) {
	fn := mustFunction(t, mustLoad(t, "../../testdata/modules/arith.yaml"), "classify")
	d := fn.Inst(fn.Body[1]).Data.(air.SwitchData)
	assert.Equal(t, len(d.Cases), 2)
	assert.Equal(t, len(d.Cases[0].Items), 2)
	assert.Equal(t, fn.Const(d.Cases[0].Items[1]).Int, uint64(2))
	assert.Equal(t, len(d.Else), 1)
}

func TestLoadSymbolsAndNamedTypes(t *testing.T) {
	m := mustLoad(t, "../../testdata/modules/calls.yaml")
	assert.Equal(t, len(m.Externs), 3)

	callG := mustFunction(t, m, "call_g")
	call := callG.Inst(callG.Body[2])
	assert.Equal(t, call.Tag, air.Call)
	callee := callG.Const(call.Data.(air.CallData).Callee)
	assert.Equal(t, callee.Kind, air.ConstNav)
	assert.Equal(t, callee.Name, "g")
	assert.Assert(t, types.Equal(call.Type, types.I64()))

	// functions of the module are callable by name
	twice := mustFunction(t, m, "twice")
	assert.Equal(t, twice.Const(twice.Inst(twice.Body[1]).Data.(air.CallData).Callee).Name, "call_g")

	h, ok := types.FnInfo(m.Externs["h"])
	assert.Assert(t, ok)
	assert.Equal(t, h.CallConv, types.CallConvC)
	assert.Equal(t, len(h.Params), 11)

	second := mustFunction(t, m, "second")
	pair, ok := types.ElemType(second.Type.Params[0]).(types.Tstruct)
	assert.Assert(t, ok)
	assert.Equal(t, pair.Name, "pair")
	assert.Assert(t, types.Equal(second.Inst(second.Body[2]).Type, types.U64()))

	bump := mustFunction(t, m, "bump")
	rmw := bump.Inst(bump.Body[0]).Data.(air.AtomicRmwData)
	assert.Equal(t, rmw.Op, air.RmwAdd)
	assert.Equal(t, rmw.Order, air.SeqCst)
}

func TestConstants(t *testing.T) {
	m, err := Parse([]byte(`
functions:
  - name: c
    body:
      - {op: dbg_var, name: a, args: [u64 0xff]}
      - {op: dbg_var, name: b, args: [bool true]}
      - {op: dbg_var, name: c, args: ['?*u8 null']}
      - {op: dbg_var, name: d, args: ['str "hi"']}
      - {op: dbg_var, name: e, args: [i128 -1]}
      - {op: dbg_var, name: f, args: [f64 1.5]}
      - {op: dbg_var, name: g, args: [u64 18446744073709551615]}
      - {op: dbg_var, name: h, args: [u32 undef]}
      - {op: ret}
`))
	assert.NilError(t, err)
	fn := mustFunction(t, m, "c")
	consts := make([]air.Constant, 0, len(fn.Body))
	for _, idx := range fn.Body[:8] {
		consts = append(consts, fn.Const(fn.Inst(idx).Data.(air.DbgVarData).Operand))
	}
	assert.Equal(t, consts[0].Int, uint64(0xff))
	assert.Equal(t, consts[1].Int, uint64(1))
	assert.Equal(t, consts[2].Kind, air.ConstNull)
	assert.DeepEqual(t, consts[3].Bytes, []byte("hi"))
	assert.Equal(t, consts[4].Hi, ^uint64(0))
	assert.Equal(t, consts[5].Float, 1.5)
	assert.Equal(t, consts[6].Int, ^uint64(0))
	assert.Equal(t, consts[7].Kind, air.ConstUndef)
}

func TestAsmSection(t *testing.T) {
	m, err := Parse([]byte(`
functions:
  - name: swap
    params: [{name: x, type: u64}]
    ret: u64
    body:
      - id: r
        op: asm
        type: u64
        asm:
          source: rev x0, x1
          outputs: [{name: ret, constraint: "={x0}"}]
          inputs: [{name: arg, constraint: "{x1}", operand: x}]
          clobbers: [memory]
          volatile: true
      - {op: ret, args: [r]}
`))
	assert.NilError(t, err)
	fn := mustFunction(t, m, "swap")
	d := fn.Inst(fn.Body[1]).Data.(air.AsmData)
	assert.Equal(t, d.Source, "rev x0, x1")
	assert.DeepEqual(t, d.Outputs, []air.AsmOutput{{Name: "ret", Constraint: "={x0}"}})
	assert.Equal(t, d.Inputs[0].Operand, air.InstRef(fn.Body[0]))
	assert.Assert(t, d.Volatile)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown op", `{functions: [{name: f, body: [{op: frob}]}]}`, `unknown instruction "frob"`},
		{"unknown key", `{functions: [{name: f, body: [{op: ret, argz: []}]}]}`, `unknown instruction key "argz"`},
		{"undefined value", `{functions: [{name: f, body: [{op: ret, args: [nope]}]}]}`, "undefined value nope"},
		{"unknown symbol", `{functions: [{name: f, body: [{op: call, args: ["@g"]}]}]}`, "unknown symbol @g"},
		{"duplicate id", `{functions: [{name: f, params: [{name: x, type: u8}], body: [{id: x, op: not, args: [x]}]}]}`, "value x defined twice"},
		{"needs type", `{functions: [{name: f, params: [{name: x, type: u8}], body: [{id: y, op: intcast, args: [x]}]}]}`, "intcast needs a type"},
		{"arity", `{functions: [{name: f, body: [{op: ret, args: [u8 1, u8 2]}]}]}`, "ret takes 0 to 1 operands, got 2"},
		{"recursive type", `{types: {t: {struct: [{name: a, type: t}]}}, functions: [{name: f, params: [{name: x, type: t}]}]}`, "type t contains itself"},
		{"bad callconv", `{functions: [{name: f, cc: fast}]}`, "unknown calling convention fast"},
		{"duplicate symbol", `{externs: {f: "fn() void"}, functions: [{name: f}]}`, "symbol f defined twice"},
		{"type query panic", `{functions: [{name: f, params: [{name: x, type: u8}], body: [{op: load, args: [x]}]}]}`, "has no element type"},
		{"unknown module key", `{funcs: []}`, "field funcs not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Assert(t, is.ErrorContains(err, tt.want))
		})
	}
}

func TestEmptyModule(t *testing.T) {
	m, err := Parse(nil)
	assert.NilError(t, err)
	assert.Equal(t, len(m.Functions), 0)
}
