package codegen

import (
	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// regOperand resolves ref into a locked register
func (ctx *genContext) regOperand(ref air.Ref) (a64.Register, error) {
	v, err := ctx.operand(ref)
	if err != nil {
		return 0, err
	}
	return ctx.toReg(ctx.fn.TypeOf(ref), v)
}

// pairOperand resolves a pair-typed ref into two locked registers
func (ctx *genContext) pairOperand(ref air.Ref) ([2]a64.Register, error) {
	v, err := ctx.operand(ref)
	if err != nil {
		return [2]a64.Register{}, err
	}
	if v.Kind == mcv.RegisterPair {
		return v.Regs, nil
	}
	var p [2]a64.Register
	for i := range p {
		if p[i], err = ctx.tempReg(a64.GeneralPurpose); err != nil {
			return p, err
		}
	}
	return p, ctx.genSetPair(p[0], p[1], ctx.fn.TypeOf(ref), v)
}

// imm12Operand reports whether ref is a constant that fits an add/sub immediate
func (ctx *genContext) imm12Operand(ref air.Ref) (uint16, bool) {
	if !ref.IsConst() {
		return 0, false
	}
	v, err := ctx.resolve(ref)
	if err != nil || v.Kind != mcv.Immediate || v.Imm > 0xfff {
		return 0, false
	}
	return uint16(v.Imm), true
}

func (ctx *genContext) allocPair(idx air.Index) ([2]a64.Register, error) {
	var p [2]a64.Register
	var err error
	for i := range p {
		if p[i], err = ctx.allocReg(idx, a64.GeneralPurpose); err != nil {
			return p, err
		}
	}
	return p, nil
}

// floatBin lowers a two-operand float instruction
func (ctx *genContext) floatBin(idx air.Index, tag mir.Tag, ty types.Type, d air.BinOp) (mcv.MCValue, error) {
	w := types.FloatBits(ty)
	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	r, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.Vector)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(tag, mir.RRR{Rd: dst.Alias(w), Rn: l.Alias(w), Rm: r.Alias(w)})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airArith(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	switch kindOf(ty) {
	case kindFloat:
		tag := map[air.Tag]mir.Tag{air.Add: mir.Fadd, air.AddWrap: mir.Fadd, air.Sub: mir.Fsub,
			air.SubWrap: mir.Fsub, air.Mul: mir.Fmul, air.MulWrap: mir.Fmul}[inst.Tag]
		return ctx.floatBin(idx, tag, ty, d)
	case kindPair:
		return ctx.pairArith(idx, inst.Tag, d)
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}

	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	var tag mir.Tag
	switch inst.Tag {
	case air.Add, air.AddWrap:
		tag = mir.Add
	case air.Sub, air.SubWrap:
		tag = mir.Sub
	default:
		tag = mir.Mul
	}
	if imm, ok := ctx.imm12Operand(d.Rhs); ok && tag != mir.Mul {
		dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(tag, mir.RRImm12{Rd: dst, Rn: l, Imm: imm})
		ctx.canonicalize(dst, ty)
		return mcv.Reg(dst), nil
	}
	r, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if tag == mir.Mul {
		ctx.emit(mir.Mul, mir.RRR{Rd: dst, Rn: l, Rm: r})
	} else {
		ctx.emit(tag, mir.RRShifted{Rd: dst, Rn: l, Rm: r})
	}
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

// pairArith lowers 128-bit add, sub and wrapping multiply
func (ctx *genContext) pairArith(idx air.Index, tag air.Tag, d air.BinOp) (mcv.MCValue, error) {
	a, err := ctx.pairOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	b, err := ctx.pairOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocPair(idx)
	if err != nil {
		return mcv.MCValue{}, err
	}
	switch tag {
	case air.Add, air.AddWrap:
		ctx.emit(mir.Adds, mir.RRShifted{Rd: dst[0], Rn: a[0], Rm: b[0]})
		ctx.emit(mir.Adc, mir.RRR{Rd: dst[1], Rn: a[1], Rm: b[1]})
	case air.Sub, air.SubWrap:
		ctx.emit(mir.Subs, mir.RRShifted{Rd: dst[0], Rn: a[0], Rm: b[0]})
		ctx.emit(mir.Sbc, mir.RRR{Rd: dst[1], Rn: a[1], Rm: b[1]})
	default:
		ctx.emit(mir.Umulh, mir.RRR{Rd: a64.IP1, Rn: a[0], Rm: b[0]})
		ctx.emit(mir.Madd, mir.RRRR{Rd: a64.IP1, Rn: a[0], Rm: b[1], Ra: a64.IP1})
		ctx.emit(mir.Madd, mir.RRRR{Rd: dst[1], Rn: a[1], Rm: b[0], Ra: a64.IP1})
		ctx.emit(mir.Mul, mir.RRR{Rd: dst[0], Rn: a[0], Rm: b[0]})
	}
	return mcv.Pair(dst[0], dst[1]), nil
}

func (ctx *genContext) airDiv(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	switch kindOf(ty) {
	case kindFloat:
		if inst.Tag != air.DivFloat {
			return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
		}
		return ctx.floatBin(idx, mir.Fdiv, ty, d)
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	signed := types.IsSigned(ty)
	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	r, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	div := mir.Udiv
	if signed {
		div = mir.Sdiv
	}
	switch inst.Tag {
	case air.DivTrunc, air.DivExact, air.DivFloat:
		ctx.emit(div, mir.RRR{Rd: dst, Rn: l, Rm: r})
	case air.DivFloor:
		ctx.emit(div, mir.RRR{Rd: dst, Rn: l, Rm: r})
		if signed {
			// q -= 1 when the remainder is nonzero and its sign differs from the divisor
			ctx.emit(mir.Msub, mir.RRRR{Rd: a64.IP1, Rn: dst, Rm: r, Ra: l})
			ctx.floorFixup(a64.IP1, r)
			ctx.emit(mir.Add, mir.RRShifted{Rd: dst, Rn: dst, Rm: a64.IP0})
		}
	case air.Rem, air.Mod:
		ctx.emit(div, mir.RRR{Rd: a64.IP1, Rn: l, Rm: r})
		ctx.emit(mir.Msub, mir.RRRR{Rd: dst, Rn: a64.IP1, Rm: r, Ra: l})
		if inst.Tag == air.Mod && signed {
			ctx.floorFixup(dst, r)
			ctx.emit(mir.And, mir.RRShifted{Rd: a64.IP0, Rn: a64.IP0, Rm: r})
			ctx.emit(mir.Add, mir.RRShifted{Rd: dst, Rn: dst, Rm: a64.IP0})
		}
	}
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

// floorFixup sets x16 to -1 when rem is nonzero and has the opposite sign
// of div, and to 0 otherwise
func (ctx *genContext) floorFixup(rem, div a64.Register) {
	ctx.emit(mir.Eor, mir.RRShifted{Rd: a64.IP0, Rn: rem, Rm: div})
	ctx.emit(mir.Asr, mir.RRImm6{Rd: a64.IP0, Rn: a64.IP0, Amount: 63})
	ctx.emit(mir.Subs, mir.RImm12{Rn: rem})
	ctx.emit(mir.Csel, mir.RRRCond{Rd: a64.IP0, Rn: a64.IP0, Rm: a64.XZR, Cond: a64.NE})
}

func (ctx *genContext) airMinMax(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	switch kindOf(ty) {
	case kindFloat:
		tag := mir.Fmin
		if inst.Tag == air.Max {
			tag = mir.Fmax
		}
		return ctx.floatBin(idx, tag, ty, d)
	case kindPair:
		return ctx.pairMinMax(idx, inst.Tag, ty, d)
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	r, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	op := a64.CmpLt
	if inst.Tag == air.Max {
		op = a64.CmpGt
	}
	ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: l, Rm: r})
	ctx.emit(mir.Csel, mir.RRRCond{Rd: dst, Rn: l, Rm: r, Cond: a64.ConditionFor(op, types.IsSigned(ty))})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) pairMinMax(idx air.Index, tag air.Tag, ty types.Type, d air.BinOp) (mcv.MCValue, error) {
	a, err := ctx.pairOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	b, err := ctx.pairOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocPair(idx)
	if err != nil {
		return mcv.MCValue{}, err
	}
	x, y := a, b
	if tag == air.Max {
		x, y = b, a
	}
	// flags of x - y: lt means x < y
	ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: x[0], Rm: y[0]})
	ctx.emit(mir.Sbcs, mir.RRR{Rd: a64.XZR, Rn: x[1], Rm: y[1]})
	cond := a64.ConditionFor(a64.CmpLt, types.IsSigned(ty))
	ctx.emit(mir.Csel, mir.RRRCond{Rd: dst[0], Rn: a[0], Rm: b[0], Cond: cond})
	ctx.emit(mir.Csel, mir.RRRCond{Rd: dst[1], Rn: a[1], Rm: b[1], Cond: cond})
	return mcv.Pair(dst[0], dst[1]), nil
}

// unaryFloat lowers fneg, fabs and fsqrt style instructions
func (ctx *genContext) unaryFloat(idx air.Index, tag mir.Tag, ty types.Type, ref air.Ref) (mcv.MCValue, error) {
	w := types.FloatBits(ty)
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.Vector)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(tag, mir.RR{Rd: dst.Alias(w), Rn: src.Alias(w)})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airNeg(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	ty := inst.Type
	switch kindOf(ty) {
	case kindFloat:
		return ctx.unaryFloat(idx, mir.Fneg, ty, ref)
	case kindPair:
		a, err := ctx.pairOperand(ref)
		if err != nil {
			return mcv.MCValue{}, err
		}
		dst, err := ctx.allocPair(idx)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(mir.Subs, mir.RRShifted{Rd: dst[0], Rn: a64.XZR, Rm: a[0]})
		ctx.emit(mir.Sbc, mir.RRR{Rd: dst[1], Rn: a64.XZR, Rm: a[1]})
		return mcv.Pair(dst[0], dst[1]), nil
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("neg on %s", ty)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Neg, mir.RR{Rd: dst, Rn: src})
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airAbs(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	ty := inst.Type
	switch kindOf(ty) {
	case kindFloat:
		return ctx.unaryFloat(idx, mir.Fabs, ty, ref)
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("abs on %s", ty)
	}
	if !types.IsSigned(ctx.fn.TypeOf(ref)) {
		return ctx.reuseOperand(idx, 0, ref)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Subs, mir.RImm12{Rn: src})
	ctx.emit(mir.Csneg, mir.RRRCond{Rd: dst, Rn: src, Rm: src, Cond: a64.GE})
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

// airOverflow produces {result, overflowed} in a register pair
func (ctx *genContext) airOverflow(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	if kindOf(inst.Type) != kindPair {
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, inst.Type)
	}
	ty := pairPieces(inst.Type)[0].ty
	bits, signed := intBits(ty)
	a, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	b, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocPair(idx)
	if err != nil {
		return mcv.MCValue{}, err
	}
	res, flag := dst[0], dst[1]

	// narrow results are computed exactly in 64 bits and overflow when
	// truncation changes them
	truncated := func() {
		ctx.mov(res, a64.IP1)
		ctx.canonicalize(res, ty)
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: a64.IP1, Rm: res})
	}

	switch inst.Tag {
	case air.AddWithOverflow, air.SubWithOverflow:
		tag, carry := mir.Adds, a64.CS
		if inst.Tag == air.SubWithOverflow {
			tag, carry = mir.Subs, a64.CC
		}
		if bits == 64 {
			ctx.emit(tag, mir.RRShifted{Rd: res, Rn: a, Rm: b})
			cond := carry
			if signed {
				cond = a64.VS
			}
			ctx.emit(mir.Cset, mir.RCond{Rd: flag, Cond: cond})
			break
		}
		ctx.emit(tag, mir.RRShifted{Rd: a64.IP1, Rn: a, Rm: b})
		truncated()
		ctx.emit(mir.Cset, mir.RCond{Rd: flag, Cond: a64.NE})

	case air.MulWithOverflow:
		if bits <= 32 {
			ctx.emit(mir.Mul, mir.RRR{Rd: a64.IP1, Rn: a, Rm: b})
			truncated()
			ctx.emit(mir.Cset, mir.RCond{Rd: flag, Cond: a64.NE})
			break
		}
		high := mir.Umulh
		if signed {
			high = mir.Smulh
		}
		ctx.emit(mir.Mul, mir.RRR{Rd: a64.IP1, Rn: a, Rm: b})
		ctx.emit(high, mir.RRR{Rd: flag, Rn: a, Rm: b})
		if signed {
			ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: flag, Rm: a64.IP1, Shift: mir.ShiftASR, Amount: 63})
		} else {
			ctx.emit(mir.Subs, mir.RImm12{Rn: flag})
		}
		ctx.emit(mir.Cset, mir.RCond{Rd: flag, Cond: a64.NE})
		truncated()
		ctx.emit(mir.Csinc, mir.RRRCond{Rd: flag, Rn: flag, Rm: a64.XZR, Cond: a64.EQ})

	case air.ShlWithOverflow:
		shr := mir.Lsr
		if signed {
			shr = mir.Asr
		}
		ctx.emit(mir.Lsl, mir.RRR{Rd: a64.IP1, Rn: a, Rm: b})
		ctx.mov(res, a64.IP1)
		ctx.canonicalize(res, ty)
		ctx.emit(shr, mir.RRR{Rd: a64.IP1, Rn: res, Rm: b})
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: a64.IP1, Rm: a})
		ctx.emit(mir.Cset, mir.RCond{Rd: flag, Cond: a64.NE})
	}
	return mcv.Pair(res, flag), nil
}

func (ctx *genContext) airBitwise(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	var tag mir.Tag
	switch inst.Tag {
	case air.BitAnd, air.BoolAnd:
		tag = mir.And
	case air.BitOr, air.BoolOr:
		tag = mir.Orr
	default:
		tag = mir.Eor
	}
	switch kindOf(ty) {
	case kindPair:
		a, err := ctx.pairOperand(d.Lhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		b, err := ctx.pairOperand(d.Rhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		dst, err := ctx.allocPair(idx)
		if err != nil {
			return mcv.MCValue{}, err
		}
		for i := range dst {
			ctx.emit(tag, mir.RRShifted{Rd: dst[i], Rn: a[i], Rm: b[i]})
		}
		return mcv.Pair(dst[0], dst[1]), nil
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	rv, err := ctx.operand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if rv.Kind == mcv.Immediate {
		if _, ok := a64.EncodeBitmask(rv.Imm, 64); ok {
			dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
			if err != nil {
				return mcv.MCValue{}, err
			}
			ctx.emit(tag, mir.RRBitmask{Rd: dst, Rn: l, Imm: rv.Imm})
			return mcv.Reg(dst), nil
		}
	}
	r, err := ctx.toReg(ctx.fn.TypeOf(d.Rhs), rv)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(tag, mir.RRShifted{Rd: dst, Rn: l, Rm: r})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airNot(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	ty := inst.Type
	switch kindOf(ty) {
	case kindPair:
		a, err := ctx.pairOperand(ref)
		if err != nil {
			return mcv.MCValue{}, err
		}
		dst, err := ctx.allocPair(idx)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(mir.Mvn, mir.RR{Rd: dst[0], Rn: a[0]})
		ctx.emit(mir.Mvn, mir.RR{Rd: dst[1], Rn: a[1]})
		return mcv.Pair(dst[0], dst[1]), nil
	case kindInt:
	default:
		return mcv.MCValue{}, notSupported("not on %s", ty)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if _, ok := ty.(types.Tbool); ok {
		ctx.emit(mir.Eor, mir.RRBitmask{Rd: dst, Rn: src, Imm: 1})
		return mcv.Reg(dst), nil
	}
	ctx.emit(mir.Mvn, mir.RR{Rd: dst, Rn: src})
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airShift(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	if kindOf(ty) != kindInt {
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	tag := mir.Lsl
	if inst.Tag == air.Shr || inst.Tag == air.ShrExact {
		tag = mir.Lsr
		if types.IsSigned(ty) {
			tag = mir.Asr
		}
	}
	l, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	amount, err := ctx.operand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if amount.Kind == mcv.Immediate && amount.Imm < 64 {
		ctx.emit(tag, mir.RRImm6{Rd: dst, Rn: l, Amount: uint8(amount.Imm)})
	} else {
		r, err := ctx.toReg(ctx.fn.TypeOf(d.Rhs), amount)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(tag, mir.RRR{Rd: dst, Rn: l, Rm: r})
	}
	if tag == mir.Lsl {
		ctx.canonicalize(dst, ty)
	}
	return mcv.Reg(dst), nil
}

// airCount lowers clz and ctz on the operand's bit width
func (ctx *genContext) airCount(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	opTy := ctx.fn.TypeOf(ref)
	if kindOf(opTy) != kindInt {
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, opTy)
	}
	bits, _ := intBits(opTy)
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if inst.Tag == air.Clz {
		ctx.mov(a64.IP1, src)
		if bits < 64 {
			ctx.emit(mir.Ubfm, mir.RRBitfield{Rd: a64.IP1, Rn: a64.IP1, Imms: uint8(bits - 1)})
		}
		ctx.emit(mir.Clz, mir.RR{Rd: dst, Rn: a64.IP1})
		if bits < 64 {
			ctx.emit(mir.Sub, mir.RRImm12{Rd: dst, Rn: dst, Imm: uint16(64 - bits)})
		}
		return mcv.Reg(dst), nil
	}
	ctx.mov(a64.IP1, src)
	if bits < 64 {
		// a sentinel bit stops the count at the type width
		ctx.emit(mir.Orr, mir.RRBitmask{Rd: a64.IP1, Rn: a64.IP1, Imm: 1 << bits})
	}
	ctx.emit(mir.Rbit, mir.RR{Rd: a64.IP1, Rn: a64.IP1})
	ctx.emit(mir.Clz, mir.RR{Rd: dst, Rn: a64.IP1})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airReverse(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	ty := inst.Type
	if kindOf(ty) != kindInt {
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	bits, signed := intBits(ty)
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	tag := mir.Rev
	if inst.Tag == air.BitReverse {
		tag = mir.Rbit
	}
	ctx.emit(tag, mir.RR{Rd: dst, Rn: src})
	if bits < 64 {
		shr := mir.Lsr
		if signed {
			shr = mir.Asr
		}
		ctx.emit(shr, mir.RRImm6{Rd: dst, Rn: dst, Amount: uint8(64 - bits)})
	}
	return mcv.Reg(dst), nil
}

func compareOp(tag air.Tag) a64.CompareOp {
	switch tag {
	case air.CmpLt:
		return a64.CmpLt
	case air.CmpLte:
		return a64.CmpLte
	case air.CmpEq:
		return a64.CmpEq
	case air.CmpGte:
		return a64.CmpGte
	case air.CmpGt:
		return a64.CmpGt
	}
	return a64.CmpNeq
}

func (ctx *genContext) airCmp(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := ctx.fn.TypeOf(d.Lhs)
	op := compareOp(inst.Tag)
	var cond a64.Condition
	switch kindOf(ty) {
	case kindFloat:
		w := types.FloatBits(ty)
		l, err := ctx.regOperand(d.Lhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		r, err := ctx.regOperand(d.Rhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(mir.Fcmp, mir.RR{Rd: l.Alias(w), Rn: r.Alias(w)})
		cond = a64.FloatConditionFor(op)
	case kindPair:
		a, err := ctx.pairOperand(d.Lhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		b, err := ctx.pairOperand(d.Rhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		cond = ctx.pairCompare(op, types.IsSigned(ty), a, b)
	case kindInt:
		l, err := ctx.regOperand(d.Lhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		rv, err := ctx.operand(d.Rhs)
		if err != nil {
			return mcv.MCValue{}, err
		}
		if rv.Kind == mcv.Immediate {
			ctx.cmpImm(l, int64(rv.Imm))
		} else {
			r, err := ctx.toReg(ctx.fn.TypeOf(d.Rhs), rv)
			if err != nil {
				return mcv.MCValue{}, err
			}
			ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: l, Rm: r})
		}
		cond = a64.ConditionFor(op, types.IsSigned(ty))
	default:
		return mcv.MCValue{}, notSupported("%s on %s", inst.Tag, ty)
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Cset, mir.RCond{Rd: dst, Cond: cond})
	return mcv.Reg(dst), nil
}

// pairCompare sets the flags for a 128-bit comparison and returns the
// condition that holds when it is true
func (ctx *genContext) pairCompare(op a64.CompareOp, signed bool, a, b [2]a64.Register) a64.Condition {
	switch op {
	case a64.CmpEq, a64.CmpNeq:
		ctx.emit(mir.Eor, mir.RRShifted{Rd: a64.IP0, Rn: a[0], Rm: b[0]})
		ctx.emit(mir.Eor, mir.RRShifted{Rd: a64.IP1, Rn: a[1], Rm: b[1]})
		ctx.emit(mir.Orr, mir.RRShifted{Rd: a64.IP1, Rn: a64.IP0, Rm: a64.IP1})
		ctx.emit(mir.Subs, mir.RImm12{Rn: a64.IP1})
		return a64.ConditionFor(op, signed)
	case a64.CmpGt, a64.CmpLte:
		a, b, op = b, a, op.Reverse()
	}
	ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: a[0], Rm: b[0]})
	ctx.emit(mir.Sbcs, mir.RRR{Rd: a64.XZR, Rn: a[1], Rm: b[1]})
	return a64.ConditionFor(op, signed)
}
