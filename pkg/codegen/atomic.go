package codegen

import (
	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

func acquires(o air.Ordering) bool { return o == air.Acquire || o == air.AcqRel || o == air.SeqCst }
func releases(o air.Ordering) bool { return o == air.Release || o == air.AcqRel || o == air.SeqCst }

// atomicType checks that ty fits a single general-purpose register access
func atomicType(tag air.Tag, ty types.Type) (uint8, error) {
	if kindOf(ty) != kindInt {
		return 0, notSupported("%s on %s", tag, ty)
	}
	return uint8(sizeOf(ty)), nil
}

func (ctx *genContext) airAtomicLoad(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.AtomicLoadData)
	size, err := atomicType(inst.Tag, inst.Type)
	if err != nil {
		return mcv.MCValue{}, err
	}
	addr, err := ctx.regOperand(d.Ptr)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if acquires(d.Order) {
		ctx.emit(mir.Ldar, mir.Exclusive{Rt: mir.DataReg(dst, size), Rn: addr, Size: size})
		ctx.canonicalize(dst, inst.Type)
	} else {
		ctx.genLoad(dst, mcv.Address{Kind: mcv.AddrBase, Base: addr}, uint64(size), types.IsSigned(inst.Type))
	}
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airAtomicStore(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.AtomicStoreData)
	ty := ctx.fn.TypeOf(d.Value)
	size, err := atomicType(inst.Tag, ty)
	if err != nil {
		return mcv.MCValue{}, err
	}
	addr, err := ctx.regOperand(d.Ptr)
	if err != nil {
		return mcv.MCValue{}, err
	}
	v, err := ctx.regOperand(d.Value)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if releases(d.Order) {
		ctx.emit(mir.Stlr, mir.Exclusive{Rt: mir.DataReg(v, size), Rn: addr, Size: size})
	} else {
		ctx.genStoreReg(v, mcv.BaseMem(addr, 0), uint64(size))
	}
	return mcv.NoneValue(), nil
}

// lseOps maps read-modify-write operations onto single LSE instructions
var lseOps = map[air.RmwOp]mir.Tag{
	air.RmwXchg: mir.Swp,
	air.RmwAdd:  mir.Ldadd,
	air.RmwSub:  mir.Ldadd,
	air.RmwAnd:  mir.Ldclr,
	air.RmwOr:   mir.Ldset,
	air.RmwXor:  mir.Ldeor,
}

func (ctx *genContext) airAtomicRmw(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.AtomicRmwData)
	ty := inst.Type
	size, err := atomicType(inst.Tag, ty)
	if err != nil {
		return mcv.MCValue{}, err
	}
	signed := types.IsSigned(ty)
	addr, err := ctx.regOperand(d.Ptr)
	if err != nil {
		return mcv.MCValue{}, err
	}
	val, err := ctx.regOperand(d.Operand)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	acq, rel := acquires(d.Order), releases(d.Order)

	if ctx.target.HasLSE && d.Op != air.RmwNand {
		tag, ok := lseOps[d.Op]
		if !ok {
			tag = map[[2]bool]mir.Tag{
				{true, true}: mir.Ldsmax, {true, false}: mir.Ldumax,
				{false, true}: mir.Ldsmin, {false, false}: mir.Ldumin,
			}[[2]bool{d.Op == air.RmwMax, signed}]
		}
		src := val
		switch d.Op {
		case air.RmwSub:
			ctx.emit(mir.Neg, mir.RR{Rd: a64.IP1, Rn: val})
			src = a64.IP1
		case air.RmwAnd:
			ctx.emit(mir.Mvn, mir.RR{Rd: a64.IP1, Rn: val})
			src = a64.IP1
		}
		ctx.emit(tag, mir.Atomic{Rs: mir.DataReg(src, size), Rt: mir.DataReg(dst, size), Rn: addr, Acquire: acq, Release: rel, Size: size})
		ctx.canonicalize(dst, ty)
		return mcv.Reg(dst), nil
	}

	ld, st := mir.Ldxr, mir.Stxr
	if acq {
		ld = mir.Ldaxr
	}
	if rel {
		st = mir.Stlxr
	}
	loop := ctx.here()
	ctx.emit(ld, mir.Exclusive{Rt: mir.DataReg(dst, size), Rn: addr, Size: size})
	next := a64.IP1
	switch d.Op {
	case air.RmwXchg:
		next = val
	case air.RmwAdd:
		ctx.emit(mir.Add, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
	case air.RmwSub:
		ctx.emit(mir.Sub, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
	case air.RmwAnd:
		ctx.emit(mir.And, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
	case air.RmwNand:
		ctx.emit(mir.And, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
		ctx.emit(mir.Mvn, mir.RR{Rd: next, Rn: next})
	case air.RmwOr:
		ctx.emit(mir.Orr, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
	case air.RmwXor:
		ctx.emit(mir.Eor, mir.RRShifted{Rd: next, Rn: dst, Rm: val})
	case air.RmwMax, air.RmwMin:
		ctx.canonicalize(dst, ty)
		op := a64.CmpGt
		if d.Op == air.RmwMin {
			op = a64.CmpLt
		}
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: dst, Rm: val})
		ctx.emit(mir.Csel, mir.RRRCond{Rd: next, Rn: dst, Rm: val, Cond: a64.ConditionFor(op, signed)})
	}
	ctx.emit(st, mir.Exclusive{Rs: a64.IP0.ToW(), Rt: mir.DataReg(next, size), Rn: addr, Size: size})
	ctx.emit(mir.Cbnz, mir.CompareBranch{Rt: a64.IP0.ToW(), Target: uint32(loop)})
	ctx.canonicalize(dst, ty)
	return mcv.Reg(dst), nil
}

// airCmpxchg leaves the observed value in a register and the flags set to
// eq on success, then builds the optional result from them. Weak exchanges
// are lowered like strong ones.
func (ctx *genContext) airCmpxchg(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.CmpxchgData)
	opt, ok := inst.Type.(types.Toptional)
	if !ok {
		return mcv.MCValue{}, notSupported("cmpxchg producing %s", inst.Type)
	}
	ty := opt.Payload
	size, err := atomicType(inst.Tag, ty)
	if err != nil {
		return mcv.MCValue{}, err
	}
	addr, err := ctx.regOperand(d.Ptr)
	if err != nil {
		return mcv.MCValue{}, err
	}
	exp, err := ctx.regOperand(d.Expected)
	if err != nil {
		return mcv.MCValue{}, err
	}
	nv, err := ctx.regOperand(d.New)
	if err != nil {
		return mcv.MCValue{}, err
	}
	old, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	acq, rel := acquires(d.Success), releases(d.Success)

	if ctx.target.HasLSE {
		ctx.mov(old, exp)
		ctx.emit(mir.Cas, mir.Atomic{Rs: mir.DataReg(old, size), Rt: mir.DataReg(nv, size), Rn: addr, Acquire: acq, Release: rel, Size: size})
		ctx.canonicalize(old, ty)
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: old, Rm: exp})
	} else {
		ld, st := mir.Ldxr, mir.Stxr
		if acq {
			ld = mir.Ldaxr
		}
		if rel {
			st = mir.Stlxr
		}
		loop := ctx.here()
		ctx.emit(ld, mir.Exclusive{Rt: mir.DataReg(old, size), Rn: addr, Size: size})
		ctx.canonicalize(old, ty)
		ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: old, Rm: exp})
		done := ctx.emit(mir.BCond, mir.CondBranch{Cond: a64.NE, Target: mir.PlaceholderTarget})
		ctx.emit(st, mir.Exclusive{Rs: a64.IP0.ToW(), Rt: mir.DataReg(nv, size), Rn: addr, Size: size})
		ctx.emit(mir.Cbnz, mir.CompareBranch{Rt: a64.IP0.ToW(), Target: uint32(loop)})
		ctx.patch(done, ctx.here())
	}

	if types.IsPtrLikeOptional(opt) {
		dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(mir.Csel, mir.RRRCond{Rd: dst, Rn: a64.XZR, Rm: old, Cond: a64.EQ})
		return mcv.Reg(dst), nil
	}
	slot := ctx.allocFrame(idx, opt)
	ctx.emit(mir.Cset, mir.RCond{Rd: a64.IP1, Cond: a64.NE})
	ctx.genStoreReg(old, mcv.Frame(slot, 0), uint64(size))
	ctx.genStoreReg(a64.IP1, mcv.Frame(slot, int64(types.OptionalLayoutOf(opt).FlagOffset)), 1)
	return mcv.Frame(slot, 0), nil
}

func (ctx *genContext) airFence(inst air.Instruction) (mcv.MCValue, error) {
	switch inst.Data.(air.FenceData).Order {
	case air.Acquire:
		ctx.emit(mir.Dmb, mir.Barrier{Option: mir.BarrierISHLD})
	case air.Release, air.AcqRel, air.SeqCst:
		ctx.emit(mir.Dmb, mir.Barrier{Option: mir.BarrierISH})
	}
	return mcv.NoneValue(), nil
}
