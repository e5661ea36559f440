package air

import (
	"fmt"

	"github.com/raymyers/ralph-a64/pkg/types"
)

// Builder appends instructions to a function, tracking the body currently
// being filled. Nested bodies are built inside callbacks.
type Builder struct {
	fn     *Function
	bodies [][]Index
	args   int
}

// NewBuilder starts an empty function with the given signature
func NewBuilder(name string, sig types.Tfunction) *Builder {
	return &Builder{
		fn:     &Function{Name: name, Type: sig},
		bodies: [][]Index{nil},
	}
}

// Finish returns the built function. The builder must not be used afterward.
func (b *Builder) Finish() *Function {
	if len(b.bodies) != 1 {
		panic("air: Finish called inside a nested body")
	}
	b.fn.Body = b.bodies[0]
	return b.fn
}

func (b *Builder) reserve(tag Tag, ty types.Type) Index {
	idx := Index(len(b.fn.Insts))
	b.fn.Insts = append(b.fn.Insts, Instruction{Tag: tag, Type: ty, Data: NoOp{}})
	return idx
}

func (b *Builder) place(idx Index) {
	top := len(b.bodies) - 1
	b.bodies[top] = append(b.bodies[top], idx)
}

func (b *Builder) nest(fill func()) []Index {
	b.bodies = append(b.bodies, nil)
	fill()
	top := len(b.bodies) - 1
	body := b.bodies[top]
	b.bodies = b.bodies[:top]
	return body
}

// Emit appends an instruction to the current body
func (b *Builder) Emit(tag Tag, ty types.Type, data Data) Ref {
	idx := b.reserve(tag, ty)
	b.fn.Insts[idx].Data = data
	b.place(idx)
	return InstRef(idx)
}

// Const adds a constant to the function's table
func (b *Builder) Const(c Constant) Ref {
	b.fn.Consts = append(b.fn.Consts, c)
	return ConstRef(len(b.fn.Consts) - 1)
}

// Int is an integer constant of type ty
func (b *Builder) Int(ty types.Type, v int64) Ref {
	c := Constant{Kind: ConstInt, Type: ty, Int: uint64(v)}
	if bits, sign, ok := types.IntInfo(ty); ok && bits > 64 && sign == types.Signed && v < 0 {
		c.Hi = ^uint64(0)
	}
	return b.Const(c)
}

// Bool is a boolean constant
func (b *Builder) Bool(v bool) Ref {
	var n int64
	if v {
		n = 1
	}
	return b.Int(types.Bool(), n)
}

// Float is a float constant of type ty
func (b *Builder) Float(ty types.Type, v float64) Ref {
	return b.Const(Constant{Kind: ConstFloat, Type: ty, Float: v})
}

// Undef is an undefined value of type ty
func (b *Builder) Undef(ty types.Type) Ref {
	return b.Const(Constant{Kind: ConstUndef, Type: ty})
}

// Nav refers to a named function or global of type ty
func (b *Builder) Nav(name string, ty types.Type) Ref {
	return b.Const(Constant{Kind: ConstNav, Type: ty, Name: name})
}

// Bytes is a pointer to read-only literal data
func (b *Builder) Bytes(data []byte) Ref {
	ty := types.Pointer(types.Array(types.U8(), uint64(len(data))))
	return b.Const(Constant{Kind: ConstBytes, Type: ty, Bytes: data})
}

// Null is the null value of an optional or pointer type
func (b *Builder) Null(ty types.Type) Ref {
	return b.Const(Constant{Kind: ConstNull, Type: ty})
}

// Arg binds the next parameter of the signature
func (b *Builder) Arg(name string) Ref {
	if b.args >= len(b.fn.Type.Params) {
		panic(fmt.Sprintf("air: %s has only %d parameters", b.fn.Name, len(b.fn.Type.Params)))
	}
	ty := b.fn.Type.Params[b.args]
	r := b.Emit(Arg, ty, ArgData{Index: b.args, Name: name})
	b.args++
	return r
}

// Bin appends a two-operand instruction
func (b *Builder) Bin(tag Tag, ty types.Type, lhs, rhs Ref) Ref {
	return b.Emit(tag, ty, BinOp{Lhs: lhs, Rhs: rhs})
}

// Un appends a one-operand instruction
func (b *Builder) Un(tag Tag, ty types.Type, operand Ref) Ref {
	return b.Emit(tag, ty, UnOp{Operand: operand})
}

// Cmp appends a comparison producing a bool
func (b *Builder) Cmp(tag Tag, lhs, rhs Ref) Ref {
	return b.Bin(tag, types.Bool(), lhs, rhs)
}

// Alloc reserves stack memory for a value of type elem
func (b *Builder) Alloc(elem types.Type) Ref {
	return b.Emit(Alloc, types.Pointer(elem), NoOp{})
}

// Load reads through a pointer
func (b *Builder) Load(ptr Ref) Ref {
	return b.Un(Load, types.ElemType(b.fn.TypeOf(ptr)), ptr)
}

// Store writes value through ptr
func (b *Builder) Store(ptr, value Ref) {
	b.Bin(Store, types.Void(), ptr, value)
}

// FieldVal reads field i of a struct value
func (b *Builder) FieldVal(operand Ref, field int) Ref {
	ty := types.FieldType(b.fn.TypeOf(operand), field)
	return b.Emit(StructFieldVal, ty, StructField{Operand: operand, Field: field})
}

// FieldPtr returns a pointer to field i of the struct ptr points at
func (b *Builder) FieldPtr(ptr Ref, field int) Ref {
	st := types.ElemType(b.fn.TypeOf(ptr))
	return b.Emit(StructFieldPtr, types.Pointer(types.FieldType(st, field)), StructField{Operand: ptr, Field: field})
}

// Block appends a block. fill receives the block's own ref for breaks.
func (b *Builder) Block(ty types.Type, fill func(block Ref)) Ref {
	idx := b.reserve(Block, ty)
	body := b.nest(func() { fill(InstRef(idx)) })
	b.fn.Insts[idx].Data = BodyData{Body: body}
	b.place(idx)
	return InstRef(idx)
}

// Loop appends a loop. fill receives the loop's ref for repeat.
func (b *Builder) Loop(fill func(loop Ref)) {
	idx := b.reserve(Loop, types.NoReturn())
	body := b.nest(func() { fill(InstRef(idx)) })
	b.fn.Insts[idx].Data = BodyData{Body: body}
	b.place(idx)
}

// Br leaves block with operand as its result (NoRef for void blocks)
func (b *Builder) Br(block, operand Ref) {
	b.Emit(Br, types.NoReturn(), BrData{Block: block.Index(), Operand: operand})
}

// Repeat jumps back to the start of loop
func (b *Builder) Repeat(loop Ref) {
	b.Emit(Repeat, types.NoReturn(), RepeatData{Loop: loop.Index()})
}

// CondBr branches on cond
func (b *Builder) CondBr(cond Ref, then, els func()) {
	idx := b.reserve(CondBr, types.NoReturn())
	d := CondBrData{Cond: cond}
	d.Then = b.nest(then)
	d.Else = b.nest(els)
	b.fn.Insts[idx].Data = d
	b.place(idx)
}

// Case is one arm of a switch under construction
type Case struct {
	Items []Ref
	Fill  func()
}

// Switch branches on an integer operand
func (b *Builder) Switch(operand Ref, cases []Case, els func()) {
	idx := b.reserve(SwitchBr, types.NoReturn())
	d := SwitchData{Operand: operand, Cases: make([]SwitchCase, len(cases))}
	for i, c := range cases {
		d.Cases[i] = SwitchCase{Items: c.Items, Body: b.nest(c.Fill)}
	}
	d.Else = b.nest(els)
	b.fn.Insts[idx].Data = d
	b.place(idx)
}

// Ret returns operand (NoRef for void functions)
func (b *Builder) Ret(operand Ref) {
	b.Un(Ret, types.NoReturn(), operand)
}

// Call calls callee with args; the result type comes from the callee's signature
func (b *Builder) Call(callee Ref, args ...Ref) Ref {
	sig, ok := types.FnInfo(b.fn.TypeOf(callee))
	if !ok {
		panic(fmt.Sprintf("air: call of non-function %s", b.fn.TypeOf(callee)))
	}
	return b.Emit(Call, sig.Return, CallData{Callee: callee, Args: args})
}

// DbgStmt records a source position
func (b *Builder) DbgStmt(line, col uint32) {
	b.Emit(DbgStmt, types.Void(), DbgStmtData{Line: line, Column: col})
}

// TypeOf returns the type of an operand built so far
func (b *Builder) TypeOf(r Ref) types.Type { return b.fn.TypeOf(r) }
