package codegen

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/abi"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// spillCallerSaved moves every value held in a register the callee may
// clobber into the frame
func (ctx *genContext) spillCallerSaved() error {
	for _, class := range []a64.RegisterClass{a64.GeneralPurpose, a64.Vector} {
		for _, r := range ctx.regs.Owned(class) {
			if abi.IsCalleeSaved(r) {
				continue
			}
			// a pair spill may already have released this register
			owner, ok := ctx.regs.OwnerOf(r)
			if !ok || owner == regs.NoOwner {
				continue
			}
			if err := ctx.Spill(r, owner); err != nil {
				return err
			}
		}
	}
	return nil
}

// claimArg reserves an argument register as scratch for the current
// instruction. x8 is never allocatable and needs no claim.
func (ctx *genContext) claimArg(r a64.Register) error {
	if !ctx.regs.IsAllocatable(r) {
		return nil
	}
	if err := ctx.regs.GetReg(r, regs.NoOwner); err != nil {
		return err
	}
	ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
	ctx.temps = append(ctx.temps, r)
	return nil
}

func canonicalArg(r a64.Register) a64.Register {
	if r.Class() == a64.Vector {
		return r.ToQ()
	}
	return r.ToX()
}

// byRefCopy copies an aggregate into a fresh slot that lives until the
// call returns
func (ctx *genContext) byRefCopy(ty types.Type, v mcv.MCValue) (frame.Index, error) {
	slot := ctx.frames.Allocate(uint32(sizeOf(ty)), uint32(types.AbiAlign(ty)))
	return slot, ctx.genStore(mcv.Frame(slot, 0), ty, v)
}

func (ctx *genContext) airCall(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.CallData)
	fnTy, ok := types.FnInfo(ctx.fn.TypeOf(d.Callee))
	if !ok {
		return mcv.MCValue{}, errors.Errorf("call of non-function %s", ctx.fn.TypeOf(d.Callee))
	}
	if len(d.Args) != len(fnTy.Params) {
		return mcv.MCValue{}, errors.Errorf("call passes %d arguments to %s", len(d.Args), fnTy)
	}
	cc, err := abi.Resolve(fnTy, ctx.target)
	if err != nil {
		return mcv.MCValue{}, errors.Wrapf(err, "call of %s", fnTy)
	}
	ctx.frames.ReserveCallFrame(cc.StackBytes)

	if err := ctx.spillCallerSaved(); err != nil {
		return mcv.MCValue{}, err
	}

	ret := cc.Return
	claims := cc.Params
	if ret.Kind == abi.LocIndirect {
		claims = append([]abi.Location{ret}, claims...)
	}
	for _, loc := range claims {
		if loc.Kind != abi.LocRegisters && loc.Kind != abi.LocIndirect {
			continue
		}
		for _, r := range loc.Regs {
			if r = canonicalArg(r); lo.Contains(ctx.temps, r) {
				continue
			}
			if err := ctx.claimArg(r); err != nil {
				return mcv.MCValue{}, err
			}
		}
	}

	var copies []frame.Index
	defer func() {
		for _, slot := range copies {
			ctx.frames.Free(slot)
		}
	}()

	// stacked arguments first: they may need scratch registers while the
	// argument registers are still empty
	for _, pass := range []abi.LocKind{abi.LocStack, abi.LocRegisters} {
		for i, loc := range cc.Params {
			if loc.Kind != pass {
				continue
			}
			ty := fnTy.Params[i]
			v, err := ctx.operand(d.Args[i])
			if err != nil {
				return mcv.MCValue{}, err
			}
			if loc.ByRef {
				slot, err := ctx.byRefCopy(ty, v)
				if err != nil {
					return mcv.MCValue{}, errors.Wrapf(err, "argument %d", i)
				}
				copies = append(copies, slot)
				v, ty = mcv.FrameAddress(slot, 0), types.Usize()
			}
			if pass == abi.LocStack {
				err = ctx.genStore(mcv.BaseMem(a64.SP, int64(loc.StackOffset)), ty, v)
			} else {
				err = ctx.setResult(loc, ty, v)
			}
			if err != nil {
				return mcv.MCValue{}, errors.Wrapf(err, "argument %d", i)
			}
		}
	}

	var result mcv.MCValue
	if ret.Kind == abi.LocIndirect {
		slot := ctx.allocFrame(idx, fnTy.Return)
		ctx.emit(mir.AddrFrame, mir.FrameRef{Reg: ret.Regs[0].ToX(), Frame: slot})
		result = mcv.Frame(slot, 0)
	}

	if c := d.Callee; c.IsConst() && ctx.fn.Const(c).Kind == air.ConstNav {
		ctx.emit(mir.Bl, mir.Call{Symbol: ctx.fn.Const(c).Name})
	} else {
		callee, err := ctx.resolve(c)
		if err != nil {
			return mcv.MCValue{}, err
		}
		if err := ctx.genSetReg(a64.IP0, types.Usize(), callee); err != nil {
			return mcv.MCValue{}, err
		}
		ctx.emit(mir.Blr, mir.R{Rn: a64.IP0})
	}
	ctx.log.WithFields(logrus.Fields{"inst": idx, "args": cc.ArgCount, "stack": cc.StackBytes}).Trace("lowered call")

	// the argument registers are released before the result claims x0
	ctx.endInst()

	switch ret.Kind {
	case abi.LocNone:
		return mcv.NoneValue(), nil
	case abi.LocUnreachable:
		return mcv.UnreachValue(), nil
	case abi.LocIndirect:
		return result, nil
	}
	return ctx.bindResult(idx, fnTy.Return, ret)
}

// bindResult takes ownership of the registers a callee returned in
func (ctx *genContext) bindResult(idx air.Index, ty types.Type, loc abi.Location) (mcv.MCValue, error) {
	owner := regs.Owner(idx)
	switch kindOf(ty) {
	case kindInt:
		r := loc.Regs[0].ToX()
		ctx.regs.AssumeFreeAndBind(r, owner)
		ctx.canonicalize(r, ty)
		return mcv.Reg(r), nil
	case kindFloat:
		r := loc.Regs[0].ToQ()
		ctx.regs.AssumeFreeAndBind(r, owner)
		return mcv.Reg(r), nil
	case kindPair:
		lo, hi := loc.Regs[0].ToX(), loc.Regs[1].ToX()
		ctx.regs.AssumeFreeAndBind(lo, owner)
		ctx.regs.AssumeFreeAndBind(hi, owner)
		ctx.canonicalize(lo, pairPieces(ty)[0].ty)
		ctx.canonicalize(hi, pairPieces(ty)[1].ty)
		return mcv.Pair(lo, hi), nil
	}
	slot := ctx.allocFrame(idx, ty)
	size := sizeOf(ty)
	for k, r := range loc.Regs {
		off := uint64(k) * loc.ElemSize
		ctx.genStoreReg(r, mcv.Frame(slot, int64(off)), min(loc.ElemSize, size-off))
	}
	return mcv.Frame(slot, 0), nil
}
