package codegen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// valueKind is how values of a type are held between instructions
type valueKind int

const (
	kindNone   valueKind = iota // no runtime bits
	kindInt                     // one general-purpose register, canonically extended to 64 bits
	kindFloat                   // one vector register
	kindPair                    // two general-purpose registers
	kindMemory                  // a frame slot or other memory
)

func kindOf(ty types.Type) valueKind {
	switch {
	case !types.HasRuntimeBits(ty):
		return kindNone
	case types.IsFloat(ty):
		if types.FloatBits(ty) > 64 {
			return kindMemory
		}
		return kindFloat
	case isPairType(ty):
		return kindPair
	case types.IsAggregate(ty):
		return kindMemory
	}
	return kindInt
}

// isPairType: 128-bit integers, slices and overflow tuples
func isPairType(ty types.Type) bool {
	switch t := ty.(type) {
	case types.Tint:
		return t.Bits > 64 && t.Bits <= 128
	case types.Tslice:
		return true
	case types.Tstruct:
		if len(t.Fields) != 2 || t.Name != "" {
			return false
		}
		flag, ok := t.Fields[1].Type.(types.Tint)
		return ok && flag.Bits == 1 && flag.Sign == types.Unsigned && kindOf(t.Fields[0].Type) == kindInt
	}
	return false
}

// piece is one register-sized part of a pair type
type piece struct {
	off uint64
	ty  types.Type
}

func pairPieces(ty types.Type) [2]piece {
	switch t := ty.(type) {
	case types.Tint:
		return [2]piece{{0, types.U64()}, {8, types.Int(64, t.Sign)}}
	case types.Tslice:
		return [2]piece{{0, types.U64()}, {8, types.Usize()}}
	case types.Tstruct:
		l := types.StructLayoutOf(t)
		return [2]piece{{l.Offsets[0], t.Fields[0].Type}, {l.Offsets[1], t.Fields[1].Type}}
	}
	panic(fmt.Sprintf("codegen: %s is not a pair type", ty))
}

func classOf(ty types.Type) a64.RegisterClass {
	if kindOf(ty) == kindFloat {
		return a64.Vector
	}
	return a64.GeneralPurpose
}

func sizeOf(ty types.Type) uint64 { return types.AbiSize(ty) }

// intBits returns the width of an integer-like scalar; the ?void flag counts
// as a one-bit unsigned value.
func intBits(ty types.Type) (int, bool) {
	if bits, sign, ok := types.IntInfo(ty); ok {
		return bits, sign == types.Signed
	}
	return int(sizeOf(ty) * 8), false
}

func uintOfSize(size uint64) types.Type { return types.Int(int(size*8), types.Unsigned) }

// resolve returns the current location of an operand
func (ctx *genContext) resolve(ref air.Ref) (mcv.MCValue, error) {
	switch {
	case ref.IsNone():
		return mcv.NoneValue(), nil
	case ref.IsConst():
		return ctx.resolveConst(ref)
	}
	v, ok := ctx.values[ref.Index()]
	if !ok {
		return mcv.MCValue{}, errors.Errorf("use of %s before it is lowered", ref)
	}
	if v.Kind == mcv.Dead {
		return mcv.MCValue{}, errors.Errorf("use of %s after its last use", ref)
	}
	return v, nil
}

// operand resolves ref and locks its registers until the instruction ends
func (ctx *genContext) operand(ref air.Ref) (mcv.MCValue, error) {
	v, err := ctx.resolve(ref)
	if err != nil {
		return v, err
	}
	ctx.lockValue(v)
	return v, nil
}

func (ctx *genContext) resolveConst(ref air.Ref) (mcv.MCValue, error) {
	c := ctx.fn.Const(ref)
	if !types.HasRuntimeBits(c.Type) {
		return mcv.NoneValue(), nil
	}
	switch c.Kind {
	case air.ConstInt:
		if kindOf(c.Type) == kindPair {
			var b [16]byte
			binary.LittleEndian.PutUint64(b[:8], c.Int)
			binary.LittleEndian.PutUint64(b[8:], c.Hi)
			sym := ctx.literal(ref.ConstIndex(), b[:])
			return mcv.Mem(mcv.Address{Kind: mcv.AddrSymbol, Symbol: sym}), nil
		}
		return mcv.Imm(c.Int), nil
	case air.ConstFloat:
		switch types.FloatBits(c.Type) {
		case 32:
			return mcv.Imm(uint64(math.Float32bits(float32(c.Float)))), nil
		case 64:
			return mcv.Imm(math.Float64bits(c.Float)), nil
		}
		return mcv.MCValue{}, notSupported("%s constant", c.Type)
	case air.ConstUndef:
		return mcv.UndefValue(), nil
	case air.ConstNav:
		ctx.addIndirection(c.Name)
		return mcv.Symbol(c.Name, 0), nil
	case air.ConstBytes:
		return mcv.Symbol(ctx.literal(ref.ConstIndex(), c.Bytes), 0), nil
	case air.ConstNull:
		if kindOf(c.Type) == kindInt {
			return mcv.Imm(0), nil
		}
		sym := ctx.literal(ref.ConstIndex(), make([]byte, sizeOf(c.Type)))
		return mcv.Mem(mcv.Address{Kind: mcv.AddrSymbol, Symbol: sym}), nil
	}
	return mcv.MCValue{}, notSupported("constant kind %d", c.Kind)
}

// literal interns read-only data for constant ci and returns its symbol
func (ctx *genContext) literal(ci int, data []byte) string {
	if sym, ok := ctx.constSymbols[ci]; ok {
		return sym
	}
	sym := fmt.Sprintf("%s.lit%d", ctx.fn.Name, len(ctx.literals))
	ctx.literals = append(ctx.literals, mir.Literal{Symbol: sym, Bytes: data})
	ctx.constSymbols[ci] = sym
	return sym
}

func (ctx *genContext) addIndirection(name string) {
	if !lo.Contains(ctx.indirections, name) {
		ctx.indirections = append(ctx.indirections, name)
	}
}

// finish records the result of idx and releases operands that die there
func (ctx *genContext) finish(idx air.Index, inst air.Instruction, result mcv.MCValue) {
	ctx.values[idx] = result
	deaths := ctx.live.Deaths(idx)
	for i, op := range inst.Operands() {
		if i < air.MaxTrackedOperands && deaths&(1<<i) != 0 && op.IsInst() {
			ctx.processDeath(op.Index())
		}
	}
	if ctx.live.IsUnused(idx) {
		ctx.processDeath(idx)
	}
}

// processDeath frees what the value of idx still owns and marks it dead
func (ctx *genContext) processDeath(idx air.Index) {
	v, ok := ctx.values[idx]
	if !ok || v.Kind == mcv.Dead {
		return
	}
	for _, r := range v.Registers() {
		if owner, ok := ctx.regs.OwnerOf(r); ok && owner == regs.Owner(idx) {
			ctx.regs.Free(r)
		}
	}
	if v.Kind == mcv.LoadFrame {
		if owner, ok := ctx.frameOwners[v.Frame]; ok && owner == idx {
			delete(ctx.frameOwners, v.Frame)
			ctx.frames.Free(v.Frame)
		}
	}
	ctx.values[idx] = mcv.DeadValue(ctx.gen)
}

// ownsResources reports whether v holds registers or a frame slot on
// behalf of idx
func (ctx *genContext) ownsResources(idx air.Index, v mcv.MCValue) bool {
	for _, r := range v.Registers() {
		if owner, ok := ctx.regs.OwnerOf(r); ok && owner == regs.Owner(idx) {
			return true
		}
	}
	if v.Kind == mcv.LoadFrame {
		owner, ok := ctx.frameOwners[v.Frame]
		return ok && owner == idx
	}
	return false
}

// transfer hands everything v holds for from over to to
func (ctx *genContext) transfer(from, to air.Index, v mcv.MCValue) {
	for _, r := range v.Registers() {
		if owner, ok := ctx.regs.OwnerOf(r); ok && owner == regs.Owner(from) {
			ctx.regs.Rebind(r, regs.Owner(to))
		}
	}
	if v.Kind == mcv.LoadFrame {
		if owner, ok := ctx.frameOwners[v.Frame]; ok && owner == from {
			ctx.frameOwners[v.Frame] = to
		}
	}
}

// reuseOperand makes operand op of idx the result of idx. A dying operand
// hands over its storage; a live one is copied.
func (ctx *genContext) reuseOperand(idx air.Index, op int, ref air.Ref) (mcv.MCValue, error) {
	v, err := ctx.operand(ref)
	if err != nil || !ref.IsInst() || !ctx.ownsResources(ref.Index(), v) {
		return v, err
	}
	if ctx.live.OperandDies(idx, op) {
		ctx.transfer(ref.Index(), idx, v)
		return v, nil
	}
	return ctx.copyValue(idx, ctx.fn.Inst(idx).Type, v)
}

// copyValue moves v into fresh storage owned by idx
func (ctx *genContext) copyValue(idx air.Index, ty types.Type, v mcv.MCValue) (mcv.MCValue, error) {
	dst, err := ctx.allocLoc(idx, ty)
	if err != nil {
		return dst, err
	}
	return dst, ctx.genSet(dst, ty, v)
}

// allocLoc reserves the natural location for a new value of ty
func (ctx *genContext) allocLoc(idx air.Index, ty types.Type) (mcv.MCValue, error) {
	switch kindOf(ty) {
	case kindNone:
		return mcv.NoneValue(), nil
	case kindInt, kindFloat:
		r, err := ctx.allocReg(idx, classOf(ty))
		return mcv.Reg(r), err
	case kindPair:
		lo, err := ctx.allocReg(idx, a64.GeneralPurpose)
		if err != nil {
			return mcv.MCValue{}, err
		}
		hi, err := ctx.allocReg(idx, a64.GeneralPurpose)
		return mcv.Pair(lo, hi), err
	}
	return mcv.Frame(ctx.allocFrame(idx, ty), 0), nil
}

// allocFrame reserves a slot for a value of ty owned by idx
func (ctx *genContext) allocFrame(idx air.Index, ty types.Type) frame.Index {
	slot := ctx.frames.Allocate(uint32(sizeOf(ty)), uint32(types.AbiAlign(ty)))
	ctx.frameOwners[slot] = idx
	return slot
}

// allocReg binds a register to idx. It stays locked until the instruction
// ends so later allocations in the same handler cannot evict it.
func (ctx *genContext) allocReg(idx air.Index, class a64.RegisterClass) (a64.Register, error) {
	r, err := ctx.regs.Alloc(regs.Owner(idx), class)
	if err != nil {
		return r, err
	}
	ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
	return r, nil
}

// tempReg allocates a scratch register released when the instruction ends
func (ctx *genContext) tempReg(class a64.RegisterClass) (a64.Register, error) {
	r, err := ctx.regs.Alloc(regs.NoOwner, class)
	if err != nil {
		return r, err
	}
	ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
	ctx.temps = append(ctx.temps, r)
	return r, nil
}

// keepTemp turns a scratch register into the storage of idx
func (ctx *genContext) keepTemp(r a64.Register, idx air.Index) {
	ctx.temps = lo.Without(ctx.temps, r)
	ctx.regs.Rebind(r, regs.Owner(idx))
}

func (ctx *genContext) lockValue(v mcv.MCValue) {
	for _, r := range v.Registers() {
		ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
	}
}

// endInst drops the locks and scratch registers of the current instruction
func (ctx *genContext) endInst() {
	ctx.regs.UnlockAll(ctx.pending)
	ctx.pending = ctx.pending[:0]
	for _, r := range ctx.temps {
		ctx.regs.Free(r)
	}
	ctx.temps = ctx.temps[:0]
}

// toReg returns a register holding v, materializing it into a scratch
// register when it is not already in one
func (ctx *genContext) toReg(ty types.Type, v mcv.MCValue) (a64.Register, error) {
	if v.Kind == mcv.Register {
		ctx.lockValue(v)
		return v.Reg(), nil
	}
	r, err := ctx.tempReg(classOf(ty))
	if err != nil {
		return r, err
	}
	return r, ctx.genSetReg(r, ty, v)
}

// Spill implements regs.Spiller: the value owning reg moves to a new frame
// slot and every register it held is freed.
func (ctx *genContext) Spill(reg a64.Register, owner regs.Owner) error {
	idx := air.Index(owner)
	v, ok := ctx.values[idx]
	if !ok {
		return errors.Errorf("spill of %s: %%%d is not tracked", reg, idx)
	}
	ty := ctx.fn.Inst(idx).Type

	var slot frame.Index
	switch v.Kind {
	case mcv.Register, mcv.RegisterOffset:
		r := v.Reg()
		if v.Kind == mcv.RegisterOffset {
			ctx.emitAddImm(r, r, v.Off)
		}
		size := uint32(8)
		if r.Class() == a64.Vector {
			size = 16
		}
		slot = ctx.frames.Allocate(size, size)
		ctx.emit(mir.StrFrame, mir.FrameRef{Reg: r, Frame: slot, Size: uint8(size)})
		ctx.regs.Free(r)

	case mcv.RegisterPair:
		slot = ctx.frames.Allocate(uint32(sizeOf(ty)), uint32(types.AbiAlign(ty)))
		if err := ctx.storePair(mcv.Frame(slot, 0), ty, v); err != nil {
			return err
		}
		ctx.regs.Free(v.Regs[0])
		ctx.regs.Free(v.Regs[1])

	case mcv.Memory:
		// the pointee of a by-reference value is copied so the base register can go
		slot = ctx.frames.Allocate(uint32(sizeOf(ty)), uint32(types.AbiAlign(ty)))
		ctx.copyUnrolled(mcv.Frame(slot, 0), v, sizeOf(ty))
		ctx.regs.Free(v.Addr.Base)

	default:
		return errors.Errorf("spill of %s: %%%d is %s", reg, idx, v)
	}

	ctx.frameOwners[slot] = idx
	ctx.values[idx] = mcv.Frame(slot, 0)
	ctx.log.WithFields(logrus.Fields{"inst": idx, "reg": reg, "frame": slot}).Debug("spilled value")
	return nil
}
