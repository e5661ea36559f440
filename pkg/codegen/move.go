package codegen

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/emit"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// maxUnrolled is the largest copy or fill emitted without a loop
const maxUnrolled = 64

func (ctx *genContext) emit(tag mir.Tag, data mir.Data) int {
	ctx.insts = append(ctx.insts, mir.New(tag, data))
	return len(ctx.insts) - 1
}

func (ctx *genContext) emitSeq(seq []mir.Inst) {
	ctx.insts = append(ctx.insts, seq...)
}

func (ctx *genContext) patch(at, target int) {
	ctx.insts[at] = ctx.insts[at].WithTarget(uint32(target))
}

func (ctx *genContext) here() int { return len(ctx.insts) }

func (ctx *genContext) mov(dst, src a64.Register) {
	if dst != src {
		ctx.emit(mir.Mov, mir.RR{Rd: dst, Rn: src})
	}
}

// emitAddImm sets dst = src + off using the immediate forms when possible
func (ctx *genContext) emitAddImm(dst, src a64.Register, off int64) {
	tag := mir.Add
	n := off
	if n < 0 {
		tag, n = mir.Sub, -n
	}
	switch {
	case n == 0:
		ctx.mov(dst, src)
	case n <= 0xfff:
		ctx.emit(tag, mir.RRImm12{Rd: dst, Rn: src, Imm: uint16(n)})
	case n < 1<<24:
		ctx.emit(tag, mir.RRImm12{Rd: dst, Rn: src, Imm: uint16(n >> 12), Shift12: true})
		if lo := n & 0xfff; lo != 0 {
			ctx.emit(tag, mir.RRImm12{Rd: dst, Rn: dst, Imm: uint16(lo)})
		}
	default:
		ctx.emitSeq(mir.MoveImmediate(a64.IP0, uint64(n)))
		ctx.emit(tag, mir.RRShifted{Rd: dst, Rn: src, Rm: a64.IP0})
	}
}

// cmpImm compares r with an immediate
func (ctx *genContext) cmpImm(r a64.Register, imm int64) {
	switch {
	case imm >= 0 && imm <= 0xfff:
		ctx.emit(mir.Subs, mir.RImm12{Rn: r, Imm: uint16(imm)})
	case imm < 0 && imm >= -0xfff:
		ctx.emit(mir.Adds, mir.RImm12{Rn: r, Imm: uint16(-imm)})
	default:
		scratch := a64.IP1.Alias(r.Size())
		ctx.emitSeq(mir.MoveImmediate(scratch, uint64(imm)))
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR.Alias(r.Size()), Rn: r, Rm: scratch})
	}
}

// canonicalize re-extends the low bits of r to 64 bits after an operation
// that may have produced bits above the type's width
func (ctx *genContext) canonicalize(r a64.Register, ty types.Type) {
	n, signed := intBits(ty)
	if n <= 0 || n >= 64 {
		return
	}
	tag := mir.Ubfm
	if signed {
		tag = mir.Sbfm
	}
	ctx.emit(tag, mir.RRBitfield{Rd: r, Rn: r, Immr: 0, Imms: uint8(n - 1)})
}

// genSet moves v into dst, which is a register, pair, frame slot or memory
func (ctx *genContext) genSet(dst mcv.MCValue, ty types.Type, v mcv.MCValue) error {
	switch dst.Kind {
	case mcv.None:
		return nil
	case mcv.Register:
		return ctx.genSetReg(dst.Reg(), ty, v)
	case mcv.RegisterPair:
		return ctx.genSetPair(dst.Regs[0], dst.Regs[1], ty, v)
	case mcv.LoadFrame, mcv.Memory:
		return ctx.genStore(dst, ty, v)
	}
	return errors.Errorf("cannot store into %s", dst)
}

// genSetReg loads a scalar value into dst, a canonical x or q register
func (ctx *genContext) genSetReg(dst a64.Register, ty types.Type, v mcv.MCValue) error {
	if dst.Class() == a64.Vector {
		return ctx.genSetFloatReg(dst, ty, v)
	}
	size := sizeOf(ty)
	switch v.Kind {
	case mcv.None, mcv.Undef, mcv.Unreach:
		return nil
	case mcv.Immediate:
		ctx.emitSeq(mir.MoveImmediate(dst, v.Imm))
	case mcv.Register:
		src := v.Reg()
		if src.Class() == a64.Vector {
			w := 64
			if size <= 4 {
				w = 32
			}
			ctx.emit(mir.Fmov, mir.RR{Rd: dst.Alias(w), Rn: src.Alias(w)})
			return nil
		}
		ctx.mov(dst, src)
	case mcv.RegisterPair:
		ctx.mov(dst, v.Regs[0])
	case mcv.RegisterOffset:
		ctx.emitAddImm(dst, v.Reg(), v.Off)
	case mcv.FrameAddr:
		ctx.emit(mir.AddrFrame, mir.FrameRef{Reg: dst, Frame: v.Frame, Off: int32(v.Off)})
	case mcv.SymbolAddr:
		ctx.emit(mir.LoadSymbolAddr, mir.Symbol{Rd: dst, Name: v.Addr.Symbol, Offset: v.Off})
	case mcv.LoadFrame:
		ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: dst, Frame: v.Frame, Off: int32(v.Off),
			Size: uint8(min(size, 8)), Signed: types.IsSigned(ty)})
	case mcv.Memory:
		ctx.genLoad(dst, v.Addr, min(size, 8), types.IsSigned(ty))
	default:
		return errors.Errorf("cannot load %s into %s", v, dst)
	}
	return nil
}

func (ctx *genContext) genSetFloatReg(dst a64.Register, ty types.Type, v mcv.MCValue) error {
	w := int(sizeOf(ty) * 8)
	view := dst.Alias(w)
	switch v.Kind {
	case mcv.None, mcv.Undef, mcv.Unreach:
		return nil
	case mcv.Immediate:
		if v.Imm == 0 {
			ctx.emit(mir.Fmov, mir.RR{Rd: view, Rn: a64.XZR.Alias(w)})
			return nil
		}
		scratch := a64.IP1.Alias(w)
		ctx.emitSeq(mir.MoveImmediate(scratch, v.Imm))
		ctx.emit(mir.Fmov, mir.RR{Rd: view, Rn: scratch})
	case mcv.Register:
		src := v.Reg()
		if src.ID() != dst.ID() {
			ctx.emit(mir.Fmov, mir.RR{Rd: view, Rn: src.Alias(w)})
		}
	case mcv.LoadFrame:
		ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: dst, Frame: v.Frame, Off: int32(v.Off), Size: uint8(w / 8)})
	case mcv.Memory:
		ctx.genLoad(dst, v.Addr, uint64(w/8), false)
	default:
		return errors.Errorf("cannot load %s into %s", v, dst)
	}
	return nil
}

// genSetPair loads a pair-typed value into lo and hi
func (ctx *genContext) genSetPair(lo, hi a64.Register, ty types.Type, v mcv.MCValue) error {
	p := pairPieces(ty)
	switch v.Kind {
	case mcv.None, mcv.Undef, mcv.Unreach:
		return nil
	case mcv.RegisterPair:
		a, b := v.Regs[0], v.Regs[1]
		switch {
		case a == hi && b == lo:
			ctx.mov(a64.IP1, b)
			ctx.mov(lo, a)
			ctx.mov(hi, a64.IP1)
		case b == lo:
			ctx.mov(hi, b)
			ctx.mov(lo, a)
		default:
			ctx.mov(lo, a)
			ctx.mov(hi, b)
		}
		return nil
	case mcv.Immediate:
		ctx.emitSeq(mir.MoveImmediate(lo, v.Imm))
		ctx.emitSeq(mir.MoveImmediate(hi, 0))
		return nil
	case mcv.LoadFrame, mcv.Memory:
		first, second := 0, 1
		if v.Kind == mcv.Memory && v.Addr.Kind == mcv.AddrBase && v.Addr.Base.ID() == lo.ID() {
			first, second = 1, 0
		}
		dst := [2]a64.Register{lo, hi}
		for _, i := range []int{first, second} {
			if err := ctx.genSetReg(dst[i], p[i].ty, v.Offset(int64(p[i].off))); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("cannot load %s into a register pair", v)
}

// genStore writes v to the frame slot or memory dst
func (ctx *genContext) genStore(dst mcv.MCValue, ty types.Type, v mcv.MCValue) error {
	size := sizeOf(ty)
	switch v.Kind {
	case mcv.None, mcv.Undef, mcv.Unreach:
		return nil
	}
	switch kindOf(ty) {
	case kindNone:
		return nil
	case kindInt, kindFloat:
		src := a64.IP1
		if v.Kind == mcv.Register {
			src = v.Reg()
		} else if err := ctx.genSetReg(a64.IP1, uintOfSize(min(size, 8)), v); err != nil {
			return err
		}
		ctx.genStoreReg(src, dst, size)
		return nil
	case kindPair:
		if v.Kind == mcv.RegisterPair {
			return ctx.storePair(dst, ty, v)
		}
	}
	if !v.IsMemory() {
		return errors.Errorf("cannot store %s as %s", v, ty)
	}
	return ctx.genCopy(dst, v, size)
}

// storePair writes both registers of a pair to their piece offsets
func (ctx *genContext) storePair(dst mcv.MCValue, ty types.Type, v mcv.MCValue) error {
	for i, p := range pairPieces(ty) {
		ctx.genStoreReg(v.Regs[i], dst.Offset(int64(p.off)), sizeOf(p.ty))
	}
	return nil
}

// addrOperand turns an address into a base register and displacement,
// materializing symbol and absolute addresses in x16
func (ctx *genContext) addrOperand(addr mcv.Address) (a64.Register, int64) {
	switch addr.Kind {
	case mcv.AddrSymbol:
		ctx.emit(mir.LoadSymbolAddr, mir.Symbol{Rd: a64.IP0, Name: addr.Symbol, Offset: addr.Disp})
		return a64.IP0, 0
	case mcv.AddrAbsolute:
		ctx.emitSeq(mir.MoveImmediate(a64.IP0, addr.Abs+uint64(addr.Disp)))
		return a64.IP0, 0
	}
	return addr.Base, addr.Disp
}

func loadTag(size uint64, signed bool, r a64.Register) (mir.Tag, a64.Register) {
	if r.Class() == a64.Vector {
		return mir.Ldr, r.Alias(int(size * 8))
	}
	switch size {
	case 1:
		if signed {
			return mir.Ldrsb, r.ToX()
		}
		return mir.Ldrb, r.ToW()
	case 2:
		if signed {
			return mir.Ldrsh, r.ToX()
		}
		return mir.Ldrh, r.ToW()
	case 4:
		if signed {
			return mir.Ldrsw, r.ToX()
		}
		return mir.Ldr, r.ToW()
	}
	return mir.Ldr, r.ToX()
}

func storeTag(size uint64, r a64.Register) (mir.Tag, a64.Register) {
	if r.Class() == a64.Vector {
		return mir.Str, r.Alias(int(size * 8))
	}
	switch size {
	case 1:
		return mir.Strb, r.ToW()
	case 2:
		return mir.Strh, r.ToW()
	case 4:
		return mir.Str, r.ToW()
	}
	return mir.Str, r.ToX()
}

// access emits one load or store at addr, falling back to a register index
// when the displacement has no immediate encoding
func (ctx *genContext) access(tag mir.Tag, rt a64.Register, addr mcv.Address, size uint64) {
	base, disp := ctx.addrOperand(addr)
	if emit.FitsUnsignedOffset(disp, uint(mir.ScaleOf(tag, rt))) {
		ctx.emit(tag, mir.LoadStore{Rt: rt, Rn: base, Offset: int32(disp)})
		return
	}
	ctx.emitSeq(mir.MoveImmediate(a64.IP0, uint64(disp)))
	ctx.emit(tag, mir.LoadStoreRegister{Rt: rt, Rn: base, Rm: a64.IP0, Extend: mir.ExtUXTX})
}

func (ctx *genContext) genLoad(dst a64.Register, addr mcv.Address, size uint64, signed bool) {
	tag, rt := loadTag(size, signed, dst)
	ctx.access(tag, rt, addr, size)
}

// genStoreReg stores the low size bytes of src to a frame slot or memory.
// Odd sizes are written in descending power-of-two pieces shifted down
// through x17.
func (ctx *genContext) genStoreReg(src a64.Register, dst mcv.MCValue, size uint64) {
	if src.Class() != a64.Vector && size&(size-1) != 0 {
		var off uint64
		for size > 0 {
			n := uint64(1) << (bits.Len64(size) - 1)
			ctx.genStoreReg(src, dst.Offset(int64(off)), n)
			off += n
			size -= n
			if size > 0 {
				ctx.emit(mir.Lsr, mir.RRImm6{Rd: a64.IP1, Rn: src.ToX(), Amount: uint8(n * 8)})
				src = a64.IP1
			}
		}
		return
	}
	if dst.Kind == mcv.LoadFrame {
		ctx.emit(mir.StrFrame, mir.FrameRef{Reg: src, Frame: dst.Frame, Off: int32(dst.Off), Size: uint8(size)})
		return
	}
	tag, rt := storeTag(size, src)
	ctx.access(tag, rt, dst.Addr, size)
}

// addressOf returns the address of a memory or frame location as a value
func addressOf(loc mcv.MCValue) mcv.MCValue {
	if loc.Kind == mcv.LoadFrame {
		return mcv.FrameAddress(loc.Frame, loc.Off)
	}
	switch loc.Addr.Kind {
	case mcv.AddrSymbol:
		return mcv.Symbol(loc.Addr.Symbol, loc.Addr.Disp)
	case mcv.AddrAbsolute:
		return mcv.Imm(loc.Addr.Abs + uint64(loc.Addr.Disp))
	}
	return mcv.RegOffset(loc.Addr.Base, loc.Addr.Disp)
}

// genCopy copies size bytes between two memory or frame locations:
// unrolled 8-byte then 1-byte chunks for small sizes, a word loop otherwise
func (ctx *genContext) genCopy(dst, src mcv.MCValue, size uint64) error {
	if dst == src || size == 0 {
		return nil
	}
	if size <= maxUnrolled {
		ctx.copyUnrolled(dst, src, size)
		return nil
	}
	ctx.lockValue(dst)
	ctx.lockValue(src)
	s, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return err
	}
	d, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return err
	}
	n, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return err
	}
	ptr := types.Usize()
	if err := ctx.genSetReg(s, ptr, addressOf(src)); err != nil {
		return err
	}
	if err := ctx.genSetReg(d, ptr, addressOf(dst)); err != nil {
		return err
	}
	ctx.emitSeq(mir.MoveImmediate(n, size/8))
	loop := ctx.here()
	ctx.emit(mir.Ldr, mir.LoadStore{Rt: a64.IP1, Rn: s, Offset: 8, Mode: mir.AddrPostIndex})
	ctx.emit(mir.Str, mir.LoadStore{Rt: a64.IP1, Rn: d, Offset: 8, Mode: mir.AddrPostIndex})
	ctx.emit(mir.Subs, mir.RRImm12{Rd: n, Rn: n, Imm: 1})
	ctx.emit(mir.BCond, mir.CondBranch{Cond: a64.NE, Target: uint32(loop)})
	ctx.copyUnrolled(mcv.BaseMem(d, 0), mcv.BaseMem(s, 0), size%8)
	return nil
}

// copyUnrolled copies through x17 without allocating registers
func (ctx *genContext) copyUnrolled(dst, src mcv.MCValue, size uint64) {
	var off uint64
	chunk := func(n uint64) {
		ctx.genLoad(a64.IP1, locAddr(ctx, src.Offset(int64(off))), n, false)
		ctx.genStoreReg(a64.IP1, dst.Offset(int64(off)), n)
		off += n
	}
	for size-off >= 8 {
		chunk(8)
	}
	for off < size {
		chunk(1)
	}
}

// locAddr gives the address of a location for a plain load. Frame slots
// have their address formed in x16.
func locAddr(ctx *genContext, loc mcv.MCValue) mcv.Address {
	if loc.Kind == mcv.LoadFrame {
		ctx.emit(mir.AddrFrame, mir.FrameRef{Reg: a64.IP0, Frame: loc.Frame, Off: int32(loc.Off)})
		return mcv.Address{Kind: mcv.AddrBase, Base: a64.IP0}
	}
	return loc.Addr
}
