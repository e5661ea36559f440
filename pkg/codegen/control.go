package codegen

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/abi"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// savedState is the allocation state at a control-flow join point
type savedState struct {
	values map[air.Index]mcv.MCValue
	owners map[frame.Index]air.Index
	regs   regs.State
	free   []frame.Index
	slots  int
}

// blockState tracks a block or loop while its body is lowered
type blockState struct {
	state  savedState
	result mcv.MCValue // slot every br stores into
	relocs []int
	// dead are values live on entry that died before some br
	dead []air.Index
	loop bool
	head int
}

func (ctx *genContext) saveState() savedState {
	return savedState{
		values: maps.Clone(ctx.values),
		owners: maps.Clone(ctx.frameOwners),
		regs:   ctx.regs.Snapshot(),
		free:   ctx.frames.FreeList(),
		slots:  ctx.frames.Len(),
	}
}

// restoreState rewinds to s. Slots created since s become free again,
// except stack allocations.
func (ctx *genContext) restoreState(s savedState) {
	ctx.values = maps.Clone(s.values)
	ctx.frameOwners = maps.Clone(s.owners)
	ctx.regs.Restore(s.regs)
	free := slices.Clone(s.free)
	for i := s.slots; i < ctx.frames.Len(); i++ {
		if !ctx.allocs[frame.Index(i)] {
			free = append(free, frame.Index(i))
		}
	}
	ctx.frames.SetFreeList(free)
}

// reconcile moves every value that is still live back to where s expects
// it. Values only ever move from registers to frame slots, so this reloads
// spilled registers.
func (ctx *genContext) reconcile(s savedState) error {
	keys := lo.Keys(s.values)
	slices.Sort(keys)
	for _, idx := range keys {
		want, cur := s.values[idx], ctx.values[idx]
		if cur.Kind == mcv.Dead || cur == want {
			continue
		}
		if cur.Kind != mcv.LoadFrame {
			return errors.Errorf("cannot move %%%d from %s to %s", idx, cur, want)
		}
		for _, r := range want.Registers() {
			if err := ctx.regs.GetReg(r, regs.Owner(idx)); err != nil {
				return err
			}
			ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
		}
		ty := ctx.fn.Inst(idx).Type
		switch want.Kind {
		case mcv.Register:
			r := want.Reg()
			size := uint8(8)
			if r.Class() == a64.Vector {
				size = 16
			}
			ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: r, Frame: cur.Frame, Size: size})
		case mcv.RegisterOffset:
			ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: want.Reg(), Frame: cur.Frame, Size: 8})
			ctx.emitAddImm(want.Reg(), want.Reg(), -want.Off)
		case mcv.RegisterPair:
			if err := ctx.genSetPair(want.Regs[0], want.Regs[1], ty, cur); err != nil {
				return err
			}
		case mcv.Memory:
			// the spill copied the pointee; point the base register at the copy
			base := want.Addr.Base
			ctx.emit(mir.AddrFrame, mir.FrameRef{Reg: base, Frame: cur.Frame})
			ctx.emitAddImm(base, base, -want.Addr.Disp)
			delete(ctx.frameOwners, cur.Frame)
			ctx.values[idx] = want
			continue
		default:
			return errors.Errorf("cannot move %%%d from %s to %s", idx, cur, want)
		}
		delete(ctx.frameOwners, cur.Frame)
		ctx.frames.Free(cur.Frame)
		ctx.values[idx] = want
	}
	return nil
}

func (ctx *genContext) airBlock(idx air.Index, inst air.Instruction) error {
	ctx.endInst()
	bs := &blockState{result: mcv.NoneValue()}
	if kindOf(inst.Type) != kindNone {
		bs.result = mcv.Frame(ctx.allocFrame(idx, inst.Type), 0)
	}
	bs.state = ctx.saveState()
	ctx.blocks[idx] = bs

	if err := ctx.genBody(inst.Data.(air.BodyData).Body); err != nil {
		return err
	}

	ctx.restoreState(bs.state)
	if len(bs.relocs) == 0 {
		ctx.values[idx] = mcv.UnreachValue()
		return nil
	}
	// a br at the very end falls through
	if last := bs.relocs[len(bs.relocs)-1]; last == len(ctx.insts)-1 {
		bs.relocs = bs.relocs[:len(bs.relocs)-1]
		ctx.removeInst(last)
	}
	for _, at := range bs.relocs {
		ctx.patch(at, ctx.here())
	}
	for _, d := range bs.dead {
		ctx.processDeath(d)
	}
	ctx.values[idx] = bs.result
	if ctx.live.IsUnused(idx) {
		ctx.processDeath(idx)
	}
	return nil
}

func (ctx *genContext) airLoop(idx air.Index, inst air.Instruction) error {
	ctx.endInst()
	bs := &blockState{loop: true, head: ctx.here(), state: ctx.saveState()}
	ctx.blocks[idx] = bs
	return ctx.genBody(inst.Data.(air.BodyData).Body)
}

func (ctx *genContext) airRepeat(d air.RepeatData) error {
	bs, ok := ctx.blocks[d.Loop]
	if !ok || !bs.loop {
		return errors.Errorf("repeat of %%%d outside its loop", d.Loop)
	}
	ctx.endInst()
	if err := ctx.reconcile(bs.state); err != nil {
		return err
	}
	ctx.emit(mir.B, mir.Branch{Target: uint32(bs.head)})
	return nil
}

func (ctx *genContext) airBr(idx air.Index, d air.BrData) error {
	bs, ok := ctx.blocks[d.Block]
	if !ok || bs.loop {
		return errors.Errorf("br to %%%d outside its block", d.Block)
	}
	v, err := ctx.operand(d.Operand)
	if err != nil {
		return err
	}
	if err := ctx.genSet(bs.result, ctx.fn.Inst(d.Block).Type, v); err != nil {
		return err
	}
	ctx.operandDeath(idx, 0, d.Operand)
	ctx.endInst()

	if err := ctx.reconcile(bs.state); err != nil {
		return err
	}
	for dead, v := range ctx.values {
		if v.Kind == mcv.Dead {
			if _, ok := bs.state.values[dead]; ok && !lo.Contains(bs.dead, dead) {
				bs.dead = append(bs.dead, dead)
			}
		}
	}
	slices.Sort(bs.dead)
	bs.relocs = append(bs.relocs, ctx.emit(mir.B, mir.Branch{Target: mir.PlaceholderTarget}))
	return nil
}

// operandDeath releases operand op of idx when liveness says it dies there
func (ctx *genContext) operandDeath(idx air.Index, op int, ref air.Ref) {
	if ref.IsInst() && ctx.live.OperandDies(idx, op) {
		ctx.processDeath(ref.Index())
	}
}

// armDeaths releases the values that are not live into arm i of a branch
func (ctx *genContext) armDeaths(idx air.Index, arm int) {
	deaths := ctx.live.BranchDeaths(idx)
	if arm >= len(deaths) {
		return
	}
	for _, d := range deaths[arm] {
		ctx.processDeath(d)
	}
}

func (ctx *genContext) airCondBr(idx air.Index, d air.CondBrData) error {
	cond, err := ctx.operand(d.Cond)
	if err != nil {
		return err
	}
	r, err := ctx.toReg(types.Bool(), cond)
	if err != nil {
		return err
	}
	toElse := ctx.emit(mir.Cbz, mir.CompareBranch{Rt: r, Target: mir.PlaceholderTarget})
	ctx.operandDeath(idx, 0, d.Cond)
	ctx.endInst()

	s := ctx.saveState()
	ctx.armDeaths(idx, 0)
	if err := ctx.genBody(d.Then); err != nil {
		return err
	}
	ctx.restoreState(s)
	ctx.armDeaths(idx, 1)
	ctx.patch(toElse, ctx.here())
	return ctx.genBody(d.Else)
}

func (ctx *genContext) airSwitch(idx air.Index, d air.SwitchData) error {
	v, err := ctx.operand(d.Operand)
	if err != nil {
		return err
	}
	ty := ctx.fn.TypeOf(d.Operand)
	if kindOf(ty) != kindInt {
		return notSupported("switch on %s", ty)
	}
	r, err := ctx.toReg(ty, v)
	if err != nil {
		return err
	}
	relocs := make([][]int, len(d.Cases))
	for i, c := range d.Cases {
		for _, item := range c.Items {
			iv, err := ctx.operand(item)
			if err != nil {
				return err
			}
			if iv.Kind == mcv.Immediate {
				ctx.cmpImm(r, int64(iv.Imm))
			} else {
				ir, err := ctx.toReg(ty, iv)
				if err != nil {
					return err
				}
				ctx.emit(mir.Subs, mir.RRShifted{Rd: a64.XZR, Rn: r, Rm: ir})
			}
			relocs[i] = append(relocs[i], ctx.emit(mir.BCond, mir.CondBranch{Cond: a64.EQ, Target: mir.PlaceholderTarget}))
		}
	}
	toElse := ctx.emit(mir.B, mir.Branch{Target: mir.PlaceholderTarget})
	ctx.operandDeath(idx, 0, d.Operand)
	ctx.endInst()

	s := ctx.saveState()
	for i, c := range d.Cases {
		ctx.restoreState(s)
		ctx.armDeaths(idx, i)
		for _, at := range relocs[i] {
			ctx.patch(at, ctx.here())
		}
		if err := ctx.genBody(c.Body); err != nil {
			return err
		}
	}
	ctx.restoreState(s)
	ctx.armDeaths(idx, len(d.Cases))
	ctx.patch(toElse, ctx.here())
	return ctx.genBody(d.Else)
}

func (ctx *genContext) airRet(idx air.Index, d air.UnOp) error {
	v, err := ctx.operand(d.Operand)
	if err != nil {
		return err
	}
	ty := ctx.fn.TypeOf(d.Operand)
	ret := ctx.cc.Return
	switch ret.Kind {
	case abi.LocIndirect:
		p, err := ctx.tempReg(a64.GeneralPurpose)
		if err != nil {
			return err
		}
		ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: p, Frame: ctx.retPtr, Size: 8})
		if err := ctx.genStore(mcv.BaseMem(p, 0), ty, v); err != nil {
			return err
		}
	case abi.LocRegisters:
		if err := ctx.setResult(ret, ty, v); err != nil {
			return err
		}
	}
	ctx.operandDeath(idx, 0, d.Operand)
	ctx.exitRelocs = append(ctx.exitRelocs, ctx.emit(mir.B, mir.Branch{Target: mir.PlaceholderTarget}))
	return nil
}

// setResult moves a value into the result registers of loc without
// allocating them; nothing else is live when a function returns.
func (ctx *genContext) setResult(loc abi.Location, ty types.Type, v mcv.MCValue) error {
	switch kindOf(ty) {
	case kindInt:
		return ctx.genSetReg(loc.Regs[0].ToX(), ty, v)
	case kindFloat:
		return ctx.genSetReg(loc.Regs[0].ToQ(), ty, v)
	case kindPair:
		return ctx.genSetPair(loc.Regs[0].ToX(), loc.Regs[1].ToX(), ty, v)
	}
	return ctx.loadChunks(loc, ty, v)
}

// loadChunks splits an aggregate over the registers of loc
func (ctx *genContext) loadChunks(loc abi.Location, ty types.Type, v mcv.MCValue) error {
	if !v.IsMemory() {
		return errors.Errorf("cannot pass %s in registers", v)
	}
	if base := v.Addr.Base; v.Kind == mcv.Memory && v.Addr.Kind == mcv.AddrBase &&
		lo.ContainsBy(loc.Regs, func(r a64.Register) bool { return r.ID() == base.ID() }) {
		ctx.mov(a64.IP1, base)
		v = mcv.BaseMem(a64.IP1, v.Addr.Disp)
	}
	size := sizeOf(ty)
	for k, r := range loc.Regs {
		off := uint64(k) * loc.ElemSize
		n := min(loc.ElemSize, size-off)
		part := v.Offset(int64(off))
		if part.Kind == mcv.LoadFrame {
			ctx.emit(mir.LdrFrame, mir.FrameRef{Reg: r, Frame: part.Frame, Off: int32(part.Off), Size: uint8(n)})
			continue
		}
		ctx.genLoad(r, part.Addr, n, false)
	}
	return nil
}
