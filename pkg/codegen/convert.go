package codegen

import (
	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// extends reports whether the canonical form of a from value is already
// the canonical form of the same value as to
func extends(from, to types.Type) bool {
	fb, fs := intBits(from)
	tb, ts := intBits(to)
	if tb >= 64 {
		return true
	}
	return tb >= fb && (fs == ts || !fs && tb > fb)
}

func (ctx *genContext) airIntcast(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	from, to := ctx.fn.TypeOf(ref), inst.Type
	fk, tk := kindOf(from), kindOf(to)
	switch {
	case tk == kindNone:
		return mcv.NoneValue(), nil
	case fk == kindInt && tk == kindInt:
		if extends(from, to) {
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
		ctx.mov(dst, src)
		ctx.canonicalize(dst, to)
		return mcv.Reg(dst), nil

	case fk == kindInt && tk == kindPair:
		src, err := ctx.regOperand(ref)
		if err != nil {
			return mcv.MCValue{}, err
		}
		dst, err := ctx.allocPair(idx)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.mov(dst[0], src)
		if types.IsSigned(from) {
			ctx.emit(mir.Asr, mir.RRImm6{Rd: dst[1], Rn: src, Amount: 63})
		} else {
			ctx.emitSeq(mir.MoveImmediate(dst[1], 0))
		}
		return mcv.Pair(dst[0], dst[1]), nil

	case fk == kindPair && tk == kindInt:
		v, err := ctx.operand(ref)
		if err != nil {
			return v, err
		}
		dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
		if err != nil {
			return mcv.MCValue{}, err
		}
		if err := ctx.genSetReg(dst, types.U64(), v); err != nil {
			return mcv.MCValue{}, err
		}
		ctx.canonicalize(dst, to)
		return mcv.Reg(dst), nil

	case fk == kindPair && tk == kindPair:
		return ctx.reuseOperand(idx, 0, ref)
	}
	return mcv.MCValue{}, notSupported("%s from %s to %s", inst.Tag, from, to)
}

func (ctx *genContext) airBitcast(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	from, to := ctx.fn.TypeOf(ref), inst.Type
	fk, tk := kindOf(from), kindOf(to)
	switch {
	case tk == kindNone:
		return mcv.NoneValue(), nil
	case fk == kindInt && tk == kindInt:
		return ctx.airIntcast(idx, inst)
	case fk == tk:
		return ctx.reuseOperand(idx, 0, ref)
	}
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	if tk == kindMemory {
		slot := ctx.allocFrame(idx, to)
		return mcv.Frame(slot, 0), ctx.genStore(mcv.Frame(slot, 0), from, v)
	}
	if fk == kindMemory || fk == kindPair {
		return ctx.copyValue(idx, to, v)
	}
	// int <-> float moves between register files
	dst, err := ctx.allocReg(idx, classOf(to))
	if err != nil {
		return mcv.MCValue{}, err
	}
	ty := to
	if tk == kindInt {
		ty = from
	}
	if err := ctx.genSetReg(dst, ty, v); err != nil {
		return mcv.MCValue{}, err
	}
	ctx.canonicalize(dst, to)
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airFloatFromInt(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	from := ctx.fn.TypeOf(ref)
	if kindOf(from) != kindInt || kindOf(inst.Type) != kindFloat {
		return mcv.MCValue{}, notSupported("float_from_int from %s to %s", from, inst.Type)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.Vector)
	if err != nil {
		return mcv.MCValue{}, err
	}
	tag := mir.Ucvtf
	if types.IsSigned(from) {
		tag = mir.Scvtf
	}
	ctx.emit(tag, mir.RR{Rd: dst.Alias(types.FloatBits(inst.Type)), Rn: src})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airIntFromFloat(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	from := ctx.fn.TypeOf(ref)
	if kindOf(from) != kindFloat || kindOf(inst.Type) != kindInt {
		return mcv.MCValue{}, notSupported("int_from_float from %s to %s", from, inst.Type)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	tag := mir.Fcvtzu
	if types.IsSigned(inst.Type) {
		tag = mir.Fcvtzs
	}
	ctx.emit(tag, mir.RR{Rd: dst, Rn: src.Alias(types.FloatBits(from))})
	ctx.canonicalize(dst, inst.Type)
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airFloatCast(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	from, to := ctx.fn.TypeOf(ref), inst.Type
	if kindOf(from) != kindFloat || kindOf(to) != kindFloat {
		return mcv.MCValue{}, notSupported("float_cast from %s to %s", from, to)
	}
	fw, tw := types.FloatBits(from), types.FloatBits(to)
	if fw == tw {
		return ctx.reuseOperand(idx, 0, ref)
	}
	src, err := ctx.regOperand(ref)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.Vector)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emit(mir.Fcvt, mir.RR{Rd: dst.Alias(tw), Rn: src.Alias(fw)})
	return mcv.Reg(dst), nil
}
