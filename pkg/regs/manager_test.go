package regs

import (
	"errors"
	"slices"
	"testing"

	"github.com/samber/lo"
	"gotest.tools/v3/assert"
	"pgregory.net/rapid"

	"github.com/raymyers/ralph-a64/pkg/a64"
)

type spill struct {
	Reg   a64.Register
	Owner Owner
}

// recordingSpiller frees the victim and remembers what it was asked to do
type recordingSpiller struct {
	m      *Manager
	spills []spill
}

func (s *recordingSpiller) Spill(reg a64.Register, owner Owner) error {
	s.spills = append(s.spills, spill{reg, owner})
	s.m.Free(reg)
	return nil
}

func newTestManager(regs ...a64.Register) (*Manager, *recordingSpiller) {
	sp := &recordingSpiller{}
	m := New(regs, sp)
	sp.m = m
	return m, sp
}

func TestAllocInOrder(t *testing.T) {
	m, _ := newTestManager(a64.X9, a64.X10, a64.D16)
	r, ok := m.TryAlloc(1, a64.GeneralPurpose)
	assert.Assert(t, ok)
	assert.Equal(t, r, a64.X9)
	r, ok = m.TryAlloc(2, a64.GeneralPurpose)
	assert.Assert(t, ok)
	assert.Equal(t, r, a64.X10)
	_, ok = m.TryAlloc(3, a64.GeneralPurpose)
	assert.Assert(t, !ok)

	v, ok := m.TryAlloc(4, a64.Vector)
	assert.Assert(t, ok)
	assert.Equal(t, v, a64.Q16)

	owner, ok := m.OwnerOf(a64.W10)
	assert.Assert(t, ok)
	assert.Equal(t, owner, Owner(2))
}

func TestFreeAndReuse(t *testing.T) {
	m, _ := newTestManager(a64.X9, a64.X10)
	r, _ := m.TryAlloc(1, a64.GeneralPurpose)
	m.Free(r)
	assert.Assert(t, m.IsFree(a64.X9))
	_, ok := m.OwnerOf(a64.X9)
	assert.Assert(t, !ok)
	r2, _ := m.TryAlloc(2, a64.GeneralPurpose)
	assert.Equal(t, r2, r)
}

func TestDoubleFreePanics(t *testing.T) {
	m, _ := newTestManager(a64.X9)
	defer func() {
		if recover() == nil {
			t.Errorf("Free of a free register did not panic")
		}
	}()
	m.Free(a64.X9)
}

// With zero free registers one more allocation spills exactly one owned
// register and then succeeds.
func TestAllocSpillsWhenExhausted(t *testing.T) {
	m, sp := newTestManager(a64.X9, a64.X10, a64.X11)
	for o := Owner(0); o < 3; o++ {
		_, err := m.Alloc(o, a64.GeneralPurpose)
		assert.NilError(t, err)
	}
	assert.Equal(t, m.FreeCount(a64.GeneralPurpose), 0)

	r, err := m.Alloc(7, a64.GeneralPurpose)
	assert.NilError(t, err)
	assert.DeepEqual(t, sp.spills, []spill{{a64.X9, 0}})
	assert.Equal(t, r, a64.X9)
	owner, _ := m.OwnerOf(r)
	assert.Equal(t, owner, Owner(7))
}

func TestSpillSkipsLockedAndScratch(t *testing.T) {
	m, sp := newTestManager(a64.X9, a64.X10, a64.X11)
	m.AssumeFreeAndBind(a64.X9, 1)
	_, _ = m.TryAlloc(NoOwner, a64.GeneralPurpose)
	m.AssumeFreeAndBind(a64.X11, 3)
	lock := m.Lock(a64.X9)

	r, err := m.Alloc(9, a64.GeneralPurpose)
	assert.NilError(t, err)
	assert.Equal(t, r, a64.X11)
	assert.DeepEqual(t, sp.spills, []spill{{a64.X11, 3}})
	m.Unlock(lock)
	assert.Assert(t, !m.IsLocked(a64.X9))
}

func TestAllocFailsWhenNothingSpillable(t *testing.T) {
	m, _ := newTestManager(a64.X9)
	m.AssumeFreeAndBind(a64.X9, 1)
	m.Lock(a64.X9)
	_, err := m.Alloc(2, a64.GeneralPurpose)
	assert.Assert(t, errors.Is(err, ErrOutOfRegisters))
}

func TestGetRegSpillsOwner(t *testing.T) {
	m, sp := newTestManager(a64.X0, a64.X1)
	m.AssumeFreeAndBind(a64.X0, 5)
	err := m.GetReg(a64.X0, 6)
	assert.NilError(t, err)
	assert.DeepEqual(t, sp.spills, []spill{{a64.X0, 5}})
	owner, _ := m.OwnerOf(a64.X0)
	assert.Equal(t, owner, Owner(6))
}

func TestAssumeFreeAndBindPanicsOnOwned(t *testing.T) {
	m, _ := newTestManager(a64.X0)
	m.AssumeFreeAndBind(a64.X0, 1)
	defer func() {
		if recover() == nil {
			t.Errorf("binding an owned register did not panic")
		}
	}()
	m.AssumeFreeAndBind(a64.X0, 2)
}

func TestNestedLockIsNoop(t *testing.T) {
	m, _ := newTestManager(a64.X9)
	outer := m.Lock(a64.X9)
	inner := m.Lock(a64.X9)
	m.Unlock(inner)
	assert.Assert(t, m.IsLocked(a64.X9))
	m.Unlock(outer)
	assert.Assert(t, !m.IsLocked(a64.X9))
}

func TestSnapshotRestore(t *testing.T) {
	m, _ := newTestManager(a64.X9, a64.X10)
	m.AssumeFreeAndBind(a64.X9, 1)
	s := m.Snapshot()
	m.Free(a64.X9)
	m.AssumeFreeAndBind(a64.X10, 2)
	m.Restore(s)
	owner, ok := m.OwnerOf(a64.X9)
	assert.Assert(t, ok)
	assert.Equal(t, owner, Owner(1))
	assert.Assert(t, m.IsFree(a64.X10))
	assert.DeepEqual(t, m.Used(), []a64.Register{a64.X9, a64.X10})
}

func TestCustomPolicy(t *testing.T) {
	sp := &recordingSpiller{}
	last := PolicyFunc(func(m *Manager, class a64.RegisterClass) (a64.Register, bool) {
		owned := m.Owned(class)
		return owned[len(owned)-1], true
	})
	m := New([]a64.Register{a64.X9, a64.X10}, sp, WithPolicy(last))
	sp.m = m
	m.AssumeFreeAndBind(a64.X9, 1)
	m.AssumeFreeAndBind(a64.X10, 2)
	r, err := m.Alloc(3, a64.GeneralPurpose)
	assert.NilError(t, err)
	assert.Equal(t, r, a64.X10)
}

func TestUsedCalleeSaved(t *testing.T) {
	m, _ := newTestManager(a64.X9, a64.X19, a64.X20)
	r1, _ := m.TryAlloc(1, a64.GeneralPurpose)
	r2, _ := m.TryAlloc(2, a64.GeneralPurpose)
	m.Free(r1)
	m.Free(r2)
	assert.DeepEqual(t, m.UsedCalleeSaved(), []a64.Register{a64.X19})
	m.MarkUsed(a64.X20)
	assert.DeepEqual(t, m.UsedCalleeSaved(), []a64.Register{a64.X19, a64.X20})
}

// Allocating, freeing and reloading in any order, every live owner is in
// exactly one place: its own register or the spill area. Spills only
// happen when the class is full and always evict the register's real owner.
func TestSpillReloadKeepsEveryOwner(t *testing.T) {
	all := []a64.Register{a64.X9, a64.X10, a64.X11, a64.X12, a64.X13}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, len(all)).Draw(t, "regs")
		m, sp := newTestManager(all[:n]...)
		inReg := make(map[Owner]a64.Register)
		spilled := make(map[Owner]bool)
		next := Owner(1)

		alloc := func(o Owner) {
			before := len(sp.spills)
			full := m.FreeCount(a64.GeneralPurpose) == 0
			r, err := m.Alloc(o, a64.GeneralPurpose)
			if err != nil {
				t.Fatalf("alloc %d: %v", o, err)
			}
			for _, s := range sp.spills[before:] {
				if !full {
					t.Fatalf("spilled %s with free registers", s.Reg)
				}
				if inReg[s.Owner] != s.Reg {
					t.Fatalf("spilled %s as %d, which lives in %s", s.Reg, s.Owner, inReg[s.Owner])
				}
				delete(inReg, s.Owner)
				spilled[s.Owner] = true
			}
			inReg[o] = r
		}

		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			switch op := rapid.IntRange(0, 2).Draw(t, "op"); {
			case op == 1 && len(spilled) > 0:
				k := lo.Keys(spilled)
				slices.Sort(k)
				o := rapid.SampledFrom(k).Draw(t, "reload")
				delete(spilled, o)
				alloc(o)
			case op == 2 && len(inReg) > 0:
				k := lo.Keys(inReg)
				slices.Sort(k)
				o := rapid.SampledFrom(k).Draw(t, "free")
				m.Free(inReg[o])
				delete(inReg, o)
			default:
				alloc(next)
				next++
			}

			if got := len(inReg) + m.FreeCount(a64.GeneralPurpose); got != n {
				t.Fatalf("%d owned plus free registers, want %d", got, n)
			}
			for o, r := range inReg {
				if owner, ok := m.OwnerOf(r); !ok || owner != o {
					t.Fatalf("%s should belong to %d", r, o)
				}
				if spilled[o] {
					t.Fatalf("%d is both spilled and in %s", o, r)
				}
			}
		}
	})
}
