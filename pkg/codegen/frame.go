package codegen

import (
	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/abi"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// incomingArgs is the distance from the frame pointer to the first stacked
// argument: the saved frame record.
const incomingArgs = 16

// genPrologue saves the frame record, reserves the callee-saved push and the
// frame adjustment for patchFrame, and binds every incoming parameter.
func (ctx *genContext) genPrologue() error {
	ctx.emit(mir.Stp, mir.LoadStorePair{Rt: a64.FP, Rt2: a64.LR, Rn: a64.SP, Offset: -16, Mode: mir.AddrPreIndex})
	ctx.emit(mir.Mov, mir.RR{Rd: a64.FP, Rn: a64.SP})
	ctx.pushIdx = ctx.emit(mir.PushRegs, mir.RegList{})
	ctx.subIdx = ctx.emit(mir.Sub, mir.RRImm12{Rd: a64.SP, Rn: a64.SP})

	if ret := ctx.cc.Return; ret.Kind == abi.LocIndirect {
		ctx.retPtr = ctx.frames.Allocate(8, 8)
		ctx.hasRetPtr = true
		ctx.emit(mir.StrFrame, mir.FrameRef{Reg: ret.Regs[0].ToX(), Frame: ctx.retPtr, Size: 8})
	}

	args := make(map[int]air.Index)
	for i, inst := range ctx.fn.Insts {
		if inst.Tag == air.Arg {
			args[inst.Data.(air.ArgData).Index] = air.Index(i)
		}
	}
	// register parameters are bound first so loading stacked ones cannot
	// allocate an argument register that still holds a value
	for _, pass := range []bool{true, false} {
		for i, loc := range ctx.cc.Params {
			idx, ok := args[i]
			if !ok || ctx.live.IsUnused(idx) || (loc.Kind == abi.LocRegisters) != pass {
				continue
			}
			v, err := ctx.bindParam(idx, ctx.fn.Type.Params[i], loc)
			if err != nil {
				return errors.Wrapf(err, "parameter %d", i)
			}
			ctx.values[idx] = v
		}
	}
	ctx.endInst()

	ctx.emit(mir.DbgPrologueEnd, mir.NoData{})
	return nil
}

// bindParam claims the registers or stack location of one parameter for
// its arg instruction
func (ctx *genContext) bindParam(idx air.Index, ty types.Type, loc abi.Location) (mcv.MCValue, error) {
	owner := regs.Owner(idx)
	switch loc.Kind {
	case abi.LocNone:
		return mcv.NoneValue(), nil

	case abi.LocStack:
		disp := int64(incomingArgs + loc.StackOffset)
		if !loc.ByRef {
			return mcv.BaseMem(a64.FP, disp), nil
		}
		r, err := ctx.allocReg(idx, a64.GeneralPurpose)
		if err != nil {
			return mcv.MCValue{}, err
		}
		ctx.genLoad(r, mcv.Address{Kind: mcv.AddrBase, Base: a64.FP, Disp: disp}, 8, false)
		return mcv.BaseMem(r, 0), nil

	case abi.LocRegisters:
		if loc.ByRef {
			r := loc.Regs[0].ToX()
			ctx.regs.AssumeFreeAndBind(r, owner)
			return mcv.BaseMem(r, 0), nil
		}
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
			ctx.canonicalize(hi, pairPieces(ty)[1].ty)
			return mcv.Pair(lo, hi), nil
		}
		// small aggregates arrive split over registers and live in a slot
		slot := ctx.allocFrame(idx, ty)
		size := sizeOf(ty)
		for k, r := range loc.Regs {
			off := uint64(k) * loc.ElemSize
			ctx.genStoreReg(r, mcv.Frame(slot, int64(off)), min(loc.ElemSize, size-off))
		}
		return mcv.Frame(slot, 0), nil
	}
	return mcv.MCValue{}, errors.Errorf("parameter location %s", loc)
}

// airArg hands out the location bound in the prologue
func (ctx *genContext) airArg(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	if v, ok := ctx.values[idx]; ok {
		return v, nil
	}
	d := inst.Data.(air.ArgData)
	if d.Index >= len(ctx.cc.Params) {
		return mcv.MCValue{}, errors.Errorf("arg %d out of range", d.Index)
	}
	return mcv.NoneValue(), nil
}

// genEpilogue emits the exitlude every ret branches to
func (ctx *genContext) genEpilogue() error {
	// a final ret falls through instead of branching over nothing
	if n := len(ctx.exitRelocs); n > 0 && ctx.exitRelocs[n-1] == len(ctx.insts)-1 {
		ctx.exitRelocs = ctx.exitRelocs[:n-1]
		ctx.removeInst(len(ctx.insts) - 1)
	}
	exit := ctx.emit(mir.DbgEpilogueBegin, mir.NoData{})
	for _, at := range ctx.exitRelocs {
		ctx.patch(at, exit)
	}
	ctx.addIdx = ctx.emit(mir.Add, mir.RRImm12{Rd: a64.SP, Rn: a64.SP})
	ctx.popIdx = ctx.emit(mir.PopRegs, mir.RegList{})
	ctx.emit(mir.Ldp, mir.LoadStorePair{Rt: a64.FP, Rt2: a64.LR, Rn: a64.SP, Offset: 16, Mode: mir.AddrPostIndex})
	ctx.emit(mir.Ret, mir.R{Rn: a64.LR})
	return nil
}

// patchFrame fills in the callee-saved lists and the final sp adjustment.
// Frames above 4095 bytes take a shifted and an unshifted immediate.
func (ctx *genContext) patchFrame(size uint32, saved []a64.Register) {
	ctx.insts[ctx.pushIdx] = mir.New(mir.PushRegs, mir.RegList{Regs: saved})
	ctx.insts[ctx.popIdx] = mir.New(mir.PopRegs, mir.RegList{Regs: saved})

	// the epilogue comes later in the stream, so patch it first
	for _, at := range []struct {
		idx int
		tag mir.Tag
	}{{ctx.addIdx, mir.Add}, {ctx.subIdx, mir.Sub}} {
		switch {
		case size == 0:
			ctx.removeInst(at.idx)
		case size <= 0xfff:
			ctx.insts[at.idx] = mir.New(at.tag, mir.RRImm12{Rd: a64.SP, Rn: a64.SP, Imm: uint16(size)})
		default:
			ctx.insts[at.idx] = mir.New(at.tag, mir.RRImm12{Rd: a64.SP, Rn: a64.SP, Imm: uint16(size >> 12), Shift12: true})
			if lo := size & 0xfff; lo != 0 {
				ctx.insertInst(at.idx+1, mir.New(at.tag, mir.RRImm12{Rd: a64.SP, Rn: a64.SP, Imm: uint16(lo)}))
			}
		}
	}
}

// insertInst inserts inst before position at, moving branch targets
func (ctx *genContext) insertInst(at int, inst mir.Inst) {
	ctx.insts = append(ctx.insts, mir.Inst{})
	copy(ctx.insts[at+1:], ctx.insts[at:])
	ctx.insts[at] = inst
	ctx.retarget(func(t uint32) uint32 {
		if t >= uint32(at) {
			return t + 1
		}
		return t
	})
}

// removeInst deletes the instruction at position at, moving branch targets
func (ctx *genContext) removeInst(at int) {
	ctx.insts = append(ctx.insts[:at], ctx.insts[at+1:]...)
	ctx.retarget(func(t uint32) uint32 {
		if t > uint32(at) {
			return t - 1
		}
		return t
	})
}

func (ctx *genContext) retarget(f func(uint32) uint32) {
	for i, inst := range ctx.insts {
		if t, ok := inst.Target(); ok && t != mir.PlaceholderTarget {
			ctx.insts[i] = inst.WithTarget(f(t))
		}
	}
}
