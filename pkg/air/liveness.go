package air

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// MaxTrackedOperands bounds the per-instruction death mask. Operands beyond
// it never report a death and stay allocated until their function ends.
const MaxTrackedOperands = 64

// Liveness records, for every instruction, which operands see their last
// use there, whether the result is ever used, and which values die on
// entry to each arm of a branch.
type Liveness struct {
	deaths []uint64
	unused []bool
	branch map[Index][][]Index
}

// OperandDies reports whether operand op of inst is used for the last time
func (l *Liveness) OperandDies(inst Index, op int) bool {
	return op < MaxTrackedOperands && l.deaths[inst]&(1<<op) != 0
}

// Deaths returns the operand death mask of inst
func (l *Liveness) Deaths(inst Index) uint64 { return l.deaths[inst] }

// IsUnused reports whether the result of inst is never read
func (l *Liveness) IsUnused(inst Index) bool { return l.unused[inst] }

// BranchDeaths returns, per arm of a cond_br (then, else) or switch_br
// (cases..., else), the values that are live into the branch but not into
// that arm. The arm must release them before it starts.
func (l *Liveness) BranchDeaths(inst Index) [][]Index { return l.branch[inst] }

type liveSet = mapset.Set[Index]

type analyzer struct {
	fn        *Function
	l         *Liveness
	blockLive map[Index]liveSet
	loopLive  map[Index]liveSet
}

// Analyze computes liveness for fn with a backward pass over its structured
// bodies, iterating loops to a fixed point.
func Analyze(fn *Function) *Liveness {
	a := &analyzer{
		fn: fn,
		l: &Liveness{
			deaths: make([]uint64, len(fn.Insts)),
			unused: make([]bool, len(fn.Insts)),
			branch: make(map[Index][][]Index),
		},
		blockLive: make(map[Index]liveSet),
		loopLive:  make(map[Index]liveSet),
	}
	a.body(fn.Body, mapset.NewThreadUnsafeSet[Index]())
	return a.l
}

// body walks a body backwards starting from the values live after it and
// returns the values live on entry.
func (a *analyzer) body(body []Index, live liveSet) liveSet {
	for i := len(body) - 1; i >= 0; i-- {
		idx := body[i]
		inst := a.fn.Insts[idx]
		switch inst.Tag {
		case Block:
			a.def(idx, live)
			a.blockLive[idx] = live.Clone()
			live = a.body(inst.Data.(BodyData).Body, mapset.NewThreadUnsafeSet[Index]())

		case Loop:
			a.def(idx, live)
			a.loopLive[idx] = mapset.NewThreadUnsafeSet[Index]()
			for {
				in := a.body(inst.Data.(BodyData).Body, mapset.NewThreadUnsafeSet[Index]())
				if in.IsSubset(a.loopLive[idx]) {
					live = in
					break
				}
				a.loopLive[idx] = a.loopLive[idx].Union(in)
			}

		case CondBr:
			d := inst.Data.(CondBrData)
			live = a.branches(idx, [][]Index{d.Then, d.Else})
			a.uses(idx, inst, live)

		case SwitchBr:
			d := inst.Data.(SwitchData)
			arms := make([][]Index, 0, len(d.Cases)+1)
			for _, c := range d.Cases {
				arms = append(arms, c.Body)
			}
			live = a.branches(idx, append(arms, d.Else))
			a.uses(idx, inst, live)

		case Br:
			live = a.outer(a.blockLive, inst.Data.(BrData).Block)
			a.uses(idx, inst, live)

		case Repeat:
			live = a.outer(a.loopLive, inst.Data.(RepeatData).Loop)

		case Ret, Unreach, Trap:
			live = mapset.NewThreadUnsafeSet[Index]()
			a.uses(idx, inst, live)

		default:
			a.def(idx, live)
			if a.l.unused[idx] && !inst.Tag.MustLower() {
				a.l.deaths[idx] = 0
				continue
			}
			a.uses(idx, inst, live)
		}
	}
	return live
}

func (a *analyzer) branches(idx Index, arms [][]Index) liveSet {
	ins := make([]liveSet, len(arms))
	all := mapset.NewThreadUnsafeSet[Index]()
	for i, arm := range arms {
		ins[i] = a.body(arm, mapset.NewThreadUnsafeSet[Index]())
		all = all.Union(ins[i])
	}
	deaths := make([][]Index, len(arms))
	for i, in := range ins {
		dead := all.Difference(in).ToSlice()
		slices.Sort(dead)
		deaths[i] = dead
	}
	a.l.branch[idx] = deaths
	return all
}

// outer returns a copy of the values live at the target of a br or repeat.
// A target that does not enclose the jump is left for codegen to reject.
func (a *analyzer) outer(targets map[Index]liveSet, target Index) liveSet {
	if live, ok := targets[target]; ok {
		return live.Clone()
	}
	return mapset.NewThreadUnsafeSet[Index]()
}

func (a *analyzer) def(idx Index, live liveSet) {
	a.l.unused[idx] = !live.Contains(idx)
	live.Remove(idx)
}

func (a *analyzer) uses(idx Index, inst Instruction, live liveSet) {
	var mask uint64
	for i, op := range inst.Operands() {
		if !op.IsInst() {
			continue
		}
		if !live.Contains(op.Index()) {
			if i < MaxTrackedOperands {
				mask |= 1 << i
			}
			live.Add(op.Index())
		}
	}
	a.l.deaths[idx] = mask
}
