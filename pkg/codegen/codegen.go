// Package codegen is the ARM64 instruction selector. It lowers one AIR
// function at a time into machine IR, allocating registers eagerly as values
// are produced and spilling to frame slots when a register class runs out.
// Every piece of mutable state lives on one genContext per function, so
// independent functions can be lowered in parallel.
package codegen

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/abi"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
)

// ErrNotSupported is returned for instruction kinds and operand shapes the
// selector does not lower yet
var ErrNotSupported = errors.New("codegen not supported")

// SourceLocation is the position recorded by the last dbg_stmt
type SourceLocation struct {
	Line   uint32
	Column uint32
}

// Error is a lowering failure tied to one instruction
type Error struct {
	Function string
	Inst     air.Index
	Tag      air.Tag
	Loc      SourceLocation
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s (%%%d): %v", e.Function, e.Loc.Line, e.Loc.Column, e.Tag, e.Inst, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Assembler turns an inline assembly snippet into instruction words.
// Operands maps every named input and output to the register bound to it.
type Assembler interface {
	Assemble(source string, operands map[string]a64.Register) ([]uint32, error)
}

type options struct {
	log    *logrus.Entry
	asm    Assembler
	policy regs.SpillPolicy
}

// Option configures Generate
type Option func(*options)

// WithLogger sets the logger used for spill and frame decisions
func WithLogger(l *logrus.Entry) Option { return func(o *options) { o.log = l } }

// WithAssembler sets the collaborator used for asm instructions
func WithAssembler(a Assembler) Option { return func(o *options) { o.asm = a } }

// WithSpillPolicy replaces the spill candidate heuristic
func WithSpillPolicy(p regs.SpillPolicy) Option { return func(o *options) { o.policy = p } }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// genContext holds all state while lowering one function
type genContext struct {
	fn     *air.Function
	live   *air.Liveness
	target a64.Target
	cc     abi.Result
	log    *logrus.Entry
	asm    Assembler

	insts  []mir.Inst
	regs   *regs.Manager
	frames *frame.Allocator

	// pending locks and temps are released when the current instruction ends
	pending []regs.Lock
	temps   []a64.Register

	// values maps every produced instruction to where its result lives
	values map[air.Index]mcv.MCValue
	// frameOwners records which instruction a frame slot belongs to, so the
	// slot is released when that value dies
	frameOwners map[frame.Index]air.Index
	// allocs are the slots of stack allocations, never reused
	allocs      map[frame.Index]bool
	blocks      map[air.Index]*blockState
	exitRelocs  []int

	retPtr    frame.Index
	hasRetPtr bool

	literals     []mir.Literal
	constSymbols map[int]string
	locals       []mir.Local
	indirections []string

	// positions patched once the frame size is known
	subIdx, addIdx  int
	pushIdx, popIdx int

	cur air.Index
	tag air.Tag
	loc SourceLocation
	gen uint32
}

// Generate lowers fn into machine IR for target. live must be the liveness
// of fn.
func Generate(fn *air.Function, live *air.Liveness, target a64.Target, opts ...Option) (*mir.Function, error) {
	o := options{policy: regs.FirstOwned{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger()
	}

	cc, err := abi.Resolve(fn.Type, target)
	if err != nil {
		return nil, &Error{Function: fn.Name, Err: err}
	}

	ctx := &genContext{
		fn:           fn,
		live:         live,
		target:       target,
		cc:           cc,
		log:          o.log.WithField("function", fn.Name),
		asm:          o.asm,
		frames:       frame.New(),
		values:       make(map[air.Index]mcv.MCValue),
		frameOwners:  make(map[frame.Index]air.Index),
		allocs:       make(map[frame.Index]bool),
		blocks:       make(map[air.Index]*blockState),
		constSymbols: make(map[int]string),
	}
	ctx.regs = regs.New(abi.AllocatableRegs, ctx,
		regs.WithPolicy(o.policy), regs.WithLogger(ctx.log))

	if err := ctx.genPrologue(); err != nil {
		return nil, ctx.wrap(err)
	}
	if err := ctx.genBody(fn.Body); err != nil {
		return nil, err
	}
	if err := ctx.genEpilogue(); err != nil {
		return nil, ctx.wrap(err)
	}

	layout, err := ctx.frames.Layout()
	if err != nil {
		return nil, ctx.wrap(err)
	}
	saved := ctx.regs.UsedCalleeSaved()
	ctx.patchFrame(layout.Size, saved)

	ctx.log.WithFields(logrus.Fields{
		"insts": len(ctx.insts),
		"frame": layout.Size,
		"saved": len(saved),
	}).Debug("lowered function")

	return &mir.Function{
		Name:         fn.Name,
		Insts:        ctx.insts,
		Frame:        layout,
		SavedRegs:    saved,
		Literals:     ctx.literals,
		Locals:       ctx.locals,
		Indirections: ctx.indirections,
	}, nil
}

// wrap attaches the current instruction and source position to err
func (ctx *genContext) wrap(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Function: ctx.fn.Name, Inst: ctx.cur, Tag: ctx.tag, Loc: ctx.loc, Err: err}
}

func notSupported(format string, args ...any) error {
	return errors.Wrapf(ErrNotSupported, format, args...)
}

// genBody lowers a body in order. Nested bodies re-enter through the
// control-flow handlers.
func (ctx *genContext) genBody(body []air.Index) error {
	for _, idx := range body {
		if err := ctx.genInst(idx); err != nil {
			return err
		}
	}
	return nil
}

func (ctx *genContext) genInst(idx air.Index) error {
	inst := ctx.fn.Inst(idx)
	if ctx.live.IsUnused(idx) && !inst.Tag.MustLower() {
		return nil
	}
	ctx.cur, ctx.tag = idx, inst.Tag
	defer ctx.endInst()

	if isControl(inst.Tag) {
		if err := ctx.genControl(idx, inst); err != nil {
			// nested bodies moved cur; report the control instruction itself
			ctx.cur, ctx.tag = idx, inst.Tag
			return ctx.wrap(err)
		}
		return nil
	}

	result, err := ctx.genOp(idx, inst)
	if err != nil {
		return ctx.wrap(err)
	}
	ctx.finish(idx, inst, result)
	return nil
}

func isControl(tag air.Tag) bool {
	switch tag {
	case air.Block, air.Loop, air.Repeat, air.Br, air.CondBr, air.SwitchBr, air.Ret:
		return true
	}
	return false
}

func (ctx *genContext) genControl(idx air.Index, inst air.Instruction) error {
	switch inst.Tag {
	case air.Block:
		return ctx.airBlock(idx, inst)
	case air.Loop:
		return ctx.airLoop(idx, inst)
	case air.Repeat:
		return ctx.airRepeat(inst.Data.(air.RepeatData))
	case air.Br:
		return ctx.airBr(idx, inst.Data.(air.BrData))
	case air.CondBr:
		return ctx.airCondBr(idx, inst.Data.(air.CondBrData))
	case air.SwitchBr:
		return ctx.airSwitch(idx, inst.Data.(air.SwitchData))
	case air.Ret:
		return ctx.airRet(idx, inst.Data.(air.UnOp))
	}
	panic("codegen: not a control-flow tag")
}

// genOp dispatches every non-control instruction. Each tag has its own arm;
// the unsupported ones are listed explicitly.
func (ctx *genContext) genOp(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	switch inst.Tag {
	case air.Add, air.AddWrap, air.Sub, air.SubWrap, air.Mul, air.MulWrap:
		return ctx.airArith(idx, inst)
	case air.DivTrunc, air.DivExact, air.DivFloor, air.DivFloat, air.Rem, air.Mod:
		return ctx.airDiv(idx, inst)
	case air.Min, air.Max:
		return ctx.airMinMax(idx, inst)
	case air.Neg:
		return ctx.airNeg(idx, inst)
	case air.Abs:
		return ctx.airAbs(idx, inst)
	case air.AddWithOverflow, air.SubWithOverflow, air.MulWithOverflow, air.ShlWithOverflow:
		return ctx.airOverflow(idx, inst)
	case air.BitAnd, air.BitOr, air.Xor, air.BoolAnd, air.BoolOr:
		return ctx.airBitwise(idx, inst)
	case air.Not:
		return ctx.airNot(idx, inst)
	case air.Shl, air.ShlExact, air.Shr, air.ShrExact:
		return ctx.airShift(idx, inst)
	case air.Clz, air.Ctz:
		return ctx.airCount(idx, inst)
	case air.ByteSwap, air.BitReverse:
		return ctx.airReverse(idx, inst)
	case air.CmpLt, air.CmpLte, air.CmpEq, air.CmpGte, air.CmpGt, air.CmpNeq:
		return ctx.airCmp(idx, inst)

	case air.Alloc:
		return ctx.airAlloc(idx, inst)
	case air.Load:
		return ctx.airLoad(idx, inst)
	case air.Store:
		return ctx.airStore(inst)
	case air.AtomicLoad:
		return ctx.airAtomicLoad(idx, inst)
	case air.AtomicStore:
		return ctx.airAtomicStore(inst)
	case air.AtomicRmw:
		return ctx.airAtomicRmw(idx, inst)
	case air.Cmpxchg:
		return ctx.airCmpxchg(idx, inst)
	case air.Fence:
		return ctx.airFence(inst)
	case air.Memset:
		return ctx.airMemset(inst)
	case air.Memcpy:
		return ctx.airMemcpy(inst)

	case air.Unreach:
		return mcv.UnreachValue(), nil
	case air.Trap:
		ctx.emit(mir.Brk, mir.Imm16{Imm: 1})
		return mcv.UnreachValue(), nil
	case air.Breakpoint:
		ctx.emit(mir.Brk, mir.Imm16{Imm: 0xf000})
		return mcv.NoneValue(), nil

	case air.Arg:
		return ctx.airArg(idx, inst)
	case air.Call:
		return ctx.airCall(idx, inst)

	case air.StructFieldPtr:
		return ctx.airFieldPtr(idx, inst)
	case air.StructFieldVal:
		return ctx.airFieldVal(idx, inst)
	case air.PtrElemPtr, air.SliceElemPtr:
		return ctx.airElemPtr(idx, inst)
	case air.PtrElemVal, air.SliceElemVal, air.ArrayElemVal:
		return ctx.airElemVal(idx, inst)
	case air.Slice:
		return ctx.airSlice(idx, inst)
	case air.SlicePtr, air.SliceLen:
		return ctx.airSliceField(idx, inst)
	case air.ArrayToSlice:
		return ctx.airArrayToSlice(idx, inst)
	case air.PtrAdd, air.PtrSub:
		return ctx.airPtrArith(idx, inst)
	case air.AggregateInit:
		return ctx.airAggregateInit(idx, inst)

	case air.IsNull, air.IsNonNull, air.IsNullPtr, air.IsNonNullPtr:
		return ctx.airIsNull(idx, inst)
	case air.OptionalPayload:
		return ctx.airOptionalPayload(idx, inst)
	case air.OptionalPayloadPtr:
		return ctx.airOptionalPayloadPtr(idx, inst)
	case air.WrapOptional:
		return ctx.airWrapOptional(idx, inst)

	case air.IsErr, air.IsNonErr:
		return ctx.airIsErr(idx, inst)
	case air.UnwrapErrUnionPayload:
		return ctx.airUnwrapPayload(idx, inst)
	case air.UnwrapErrUnionErr:
		return ctx.airUnwrapErr(idx, inst)
	case air.WrapErrUnionPayload:
		return ctx.airWrapPayload(idx, inst)
	case air.WrapErrUnionErr:
		return ctx.airWrapErr(idx, inst)

	case air.UnionInit:
		return ctx.airUnionInit(idx, inst)
	case air.GetUnionTag:
		return ctx.airGetUnionTag(idx, inst)
	case air.SetUnionTag:
		return ctx.airSetUnionTag(inst)

	case air.Intcast, air.Trunc:
		return ctx.airIntcast(idx, inst)
	case air.Bitcast:
		return ctx.airBitcast(idx, inst)
	case air.FloatFromInt:
		return ctx.airFloatFromInt(idx, inst)
	case air.IntFromFloat:
		return ctx.airIntFromFloat(idx, inst)
	case air.FloatCast:
		return ctx.airFloatCast(idx, inst)
	case air.IntFromBool, air.IntFromPtr:
		return ctx.reuseOperand(idx, 0, inst.Data.(air.UnOp).Operand)

	case air.DbgStmt:
		d := inst.Data.(air.DbgStmtData)
		ctx.loc = SourceLocation{Line: d.Line, Column: d.Column}
		ctx.emit(mir.DbgLine, mir.DbgLineData{Line: d.Line, Column: d.Column})
		return mcv.NoneValue(), nil
	case air.DbgVar:
		return ctx.airDbgVar(inst)
	case air.RetAddr:
		return ctx.airRetAddr(idx)
	case air.FrameAddr:
		return ctx.airFrameAddr(idx)
	case air.Asm:
		return ctx.airAsm(idx, inst)

	case air.AddSat, air.SubSat, air.MulSat, air.ShlSat, air.MulAdd, air.PopCount,
		air.CmpVector, air.Splat, air.Reduce, air.Shuffle, air.Select,
		air.TagName, air.ErrorName, air.Prefetch, air.VaStart:
		return mcv.MCValue{}, notSupported("%s", inst.Tag)

	case air.Block, air.Loop, air.Repeat, air.Br, air.CondBr, air.SwitchBr, air.Ret:
		panic("codegen: control-flow tag reached genOp")
	}
	return mcv.MCValue{}, notSupported("%s", inst.Tag)
}

func (ctx *genContext) airDbgVar(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.DbgVarData)
	v, err := ctx.resolve(d.Operand)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.locals = append(ctx.locals, mir.Local{Name: d.Name, Type: ctx.fn.TypeOf(d.Operand), Value: v})
	return mcv.NoneValue(), nil
}

func (ctx *genContext) airRetAddr(idx air.Index) (mcv.MCValue, error) {
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Ldr, mir.LoadStore{Rt: dst, Rn: a64.FP, Offset: 8})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airFrameAddr(idx air.Index) (mcv.MCValue, error) {
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Mov, mir.RR{Rd: dst, Rn: a64.FP})
	return mcv.Reg(dst), nil
}
