// Package regs tracks which physical registers hold which pending values.
// Allocation is eager: a register is bound to its owner when the value is
// produced and released when the value dies or is spilled.
package regs

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/abi"
)

// ErrOutOfRegisters is returned when no register of a class can be freed
var ErrOutOfRegisters = errors.New("out of registers")

// Owner identifies the value held by a register
type Owner uint32

// NoOwner marks a scratch register not tied to any value; scratch
// registers are never chosen as spill candidates.
const NoOwner Owner = ^Owner(0)

// Spiller moves the value held in reg out of the register file. On return
// the register must have been freed.
type Spiller interface {
	Spill(reg a64.Register, owner Owner) error
}

// Set is a bitset over the manager's allocatable registers
type Set uint64

func (s Set) Has(i int) bool { return s&(1<<i) != 0 }
func (s Set) Count() int     { return bits.OnesCount64(uint64(s)) }

// Manager owns the allocatable part of the register file for one function
type Manager struct {
	regs      []a64.Register
	index     [a64.NumIDs]int8
	owners    []Owner
	allocated Set
	locked    Set
	used      Set
	classes   [2]Set

	spiller Spiller
	policy  SpillPolicy
	log     logrus.FieldLogger
}

// Option configures a Manager
type Option func(*Manager)

// WithPolicy replaces the spill candidate policy
func WithPolicy(p SpillPolicy) Option { return func(m *Manager) { m.policy = p } }

// WithLogger sets the debug logger
func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

// New creates a manager over the given registers, listed in allocation
// preference order. At most 64 registers are supported.
func New(allocatable []a64.Register, spiller Spiller, opts ...Option) *Manager {
	if len(allocatable) > 64 {
		panic("regs: more than 64 allocatable registers")
	}
	m := &Manager{
		regs:    allocatable,
		owners:  make([]Owner, len(allocatable)),
		spiller: spiller,
		policy:  FirstOwned{},
		log:     discard(),
	}
	for i := range m.index {
		m.index[i] = -1
	}
	for i, r := range allocatable {
		m.index[r.ID()] = int8(i)
		m.classes[r.Class()] |= 1 << i
		m.owners[i] = NoOwner
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// indexOf returns the position of reg in the allocatable list, or -1
func (m *Manager) indexOf(reg a64.Register) int {
	return int(m.index[reg.ID()])
}

// IsAllocatable reports whether reg is managed by m
func (m *Manager) IsAllocatable(reg a64.Register) bool { return m.indexOf(reg) >= 0 }

func (m *Manager) mustIndex(reg a64.Register) int {
	i := m.indexOf(reg)
	if i < 0 {
		panic(fmt.Sprintf("regs: %s is not allocatable", reg))
	}
	return i
}

// canonical returns the widest view of the i-th register
func (m *Manager) canonical(i int) a64.Register {
	return a64.ByID(m.regs[i].ID())
}

// IsFree reports whether reg is neither allocated nor locked
func (m *Manager) IsFree(reg a64.Register) bool {
	i := m.mustIndex(reg)
	return !m.allocated.Has(i) && !m.locked.Has(i)
}

// IsLocked reports whether reg is locked
func (m *Manager) IsLocked(reg a64.Register) bool {
	return m.locked.Has(m.mustIndex(reg))
}

// OwnerOf returns the value held by reg, if any
func (m *Manager) OwnerOf(reg a64.Register) (Owner, bool) {
	i := m.indexOf(reg)
	if i < 0 || !m.allocated.Has(i) || m.owners[i] == NoOwner {
		return NoOwner, false
	}
	return m.owners[i], true
}

// FreeCount returns how many registers of a class are available
func (m *Manager) FreeCount(class a64.RegisterClass) int {
	return (m.classes[class] &^ m.allocated &^ m.locked).Count()
}

// TryAlloc binds the first free register of class to owner
func (m *Manager) TryAlloc(owner Owner, class a64.RegisterClass) (a64.Register, bool) {
	free := m.classes[class] &^ m.allocated &^ m.locked
	if free == 0 {
		return 0, false
	}
	i := bits.TrailingZeros64(uint64(free))
	m.take(i, owner)
	return m.canonical(i), true
}

// Alloc binds a register of class to owner, spilling another value when the
// class is exhausted.
func (m *Manager) Alloc(owner Owner, class a64.RegisterClass) (a64.Register, error) {
	if reg, ok := m.TryAlloc(owner, class); ok {
		return reg, nil
	}
	victim, ok := m.policy.Choose(m, class)
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRegisters, "no spillable %s register", class)
	}
	if err := m.spillReg(victim); err != nil {
		return 0, err
	}
	reg, ok := m.TryAlloc(owner, class)
	if !ok {
		return 0, errors.Wrapf(ErrOutOfRegisters, "spilling %s freed nothing", victim)
	}
	return reg, nil
}

func (m *Manager) spillReg(reg a64.Register) error {
	i := m.mustIndex(reg)
	owner := m.owners[i]
	if !m.allocated.Has(i) || owner == NoOwner || m.locked.Has(i) {
		return errors.Wrapf(ErrOutOfRegisters, "%s is not spillable", reg)
	}
	m.log.WithFields(logrus.Fields{"reg": reg, "owner": owner}).Debug("spill")
	if err := m.spiller.Spill(m.canonical(i), owner); err != nil {
		return err
	}
	if m.allocated.Has(i) {
		panic(fmt.Sprintf("regs: spiller left %s allocated", reg))
	}
	return nil
}

// GetReg binds a specific register to owner, spilling its current owner
// first when it holds a value.
func (m *Manager) GetReg(reg a64.Register, owner Owner) error {
	i := m.mustIndex(reg)
	if m.locked.Has(i) {
		return errors.Wrapf(ErrOutOfRegisters, "%s is locked", reg)
	}
	if m.allocated.Has(i) {
		if m.owners[i] == NoOwner {
			return errors.Wrapf(ErrOutOfRegisters, "%s holds a scratch value", reg)
		}
		if err := m.spillReg(reg); err != nil {
			return err
		}
	}
	m.take(i, owner)
	return nil
}

// AssumeFreeAndBind binds reg to owner without searching. The register
// must be free; anything else is a programming error.
func (m *Manager) AssumeFreeAndBind(reg a64.Register, owner Owner) {
	i := m.mustIndex(reg)
	if m.allocated.Has(i) {
		panic(fmt.Sprintf("regs: %s is already owned", reg))
	}
	m.take(i, owner)
}

func (m *Manager) take(i int, owner Owner) {
	m.allocated |= 1 << i
	m.used |= 1 << i
	m.owners[i] = owner
}

// Rebind transfers an allocated register to a new owner
func (m *Manager) Rebind(reg a64.Register, owner Owner) {
	i := m.mustIndex(reg)
	if !m.allocated.Has(i) {
		panic(fmt.Sprintf("regs: rebind of free register %s", reg))
	}
	m.owners[i] = owner
}

// Free releases reg. Freeing a register that is not allocated is a
// programming error.
func (m *Manager) Free(reg a64.Register) {
	i := m.mustIndex(reg)
	if !m.allocated.Has(i) {
		panic(fmt.Sprintf("regs: double free of %s", reg))
	}
	m.allocated &^= 1 << i
	m.owners[i] = NoOwner
}

// Lock keeps a register from being allocated or spilled until unlocked
type Lock struct {
	reg a64.Register
	ok  bool
}

// Lock pins reg. Locking a register that is already locked yields an
// empty token, so nested handlers can lock operands unconditionally.
func (m *Manager) Lock(reg a64.Register) Lock {
	i := m.indexOf(reg)
	if i < 0 || m.locked.Has(i) {
		return Lock{}
	}
	m.locked |= 1 << i
	return Lock{reg: reg, ok: true}
}

// Unlock releases a lock token; empty tokens are ignored
func (m *Manager) Unlock(l Lock) {
	if !l.ok {
		return
	}
	m.locked &^= 1 << m.mustIndex(l.reg)
}

// UnlockAll releases a batch of lock tokens
func (m *Manager) UnlockAll(locks []Lock) {
	for _, l := range locks {
		m.Unlock(l)
	}
}

// Owned lists the allocated registers of a class that hold values, in
// allocation preference order.
func (m *Manager) Owned(class a64.RegisterClass) []a64.Register {
	var out []a64.Register
	for i := range m.regs {
		if m.classes[class].Has(i) && m.allocated.Has(i) && m.owners[i] != NoOwner {
			out = append(out, m.canonical(i))
		}
	}
	return out
}

// Used lists every register that has been allocated at least once
func (m *Manager) Used() []a64.Register {
	var out []a64.Register
	for i := range m.regs {
		if m.used.Has(i) {
			out = append(out, m.canonical(i))
		}
	}
	return out
}

// UsedCalleeSaved lists the used registers the prologue must preserve
func (m *Manager) UsedCalleeSaved() []a64.Register {
	return lo.Filter(m.Used(), func(r a64.Register, _ int) bool { return abi.IsCalleeSaved(r) })
}

// MarkUsed records reg as used without allocating it, for registers that
// generated code writes directly.
func (m *Manager) MarkUsed(reg a64.Register) {
	if i := m.indexOf(reg); i >= 0 {
		m.used |= 1 << i
	}
}

// State is a snapshot of register ownership
type State struct {
	allocated Set
	owners    []Owner
}

// Snapshot captures the current ownership
func (m *Manager) Snapshot() State {
	return State{allocated: m.allocated, owners: append([]Owner(nil), m.owners...)}
}

// Restore reinstates a snapshot. Locks and usage history are kept.
func (m *Manager) Restore(s State) {
	m.allocated = s.allocated
	copy(m.owners, s.owners)
}

// Reset frees every register
func (m *Manager) Reset() {
	m.allocated = 0
	for i := range m.owners {
		m.owners[i] = NoOwner
	}
}
