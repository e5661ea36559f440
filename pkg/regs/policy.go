package regs

import "github.com/raymyers/ralph-a64/pkg/a64"

// SpillPolicy chooses which owned register to evict when a class is full
type SpillPolicy interface {
	Choose(m *Manager, class a64.RegisterClass) (a64.Register, bool)
}

// FirstOwned picks the first unlocked register holding a value, in
// allocation order.
type FirstOwned struct{}

func (FirstOwned) Choose(m *Manager, class a64.RegisterClass) (a64.Register, bool) {
	for i := range m.regs {
		if !m.classes[class].Has(i) || !m.allocated.Has(i) || m.locked.Has(i) {
			continue
		}
		if m.owners[i] == NoOwner {
			continue
		}
		return m.canonical(i), true
	}
	return 0, false
}

// PolicyFunc adapts a function to SpillPolicy
type PolicyFunc func(m *Manager, class a64.RegisterClass) (a64.Register, bool)

func (f PolicyFunc) Choose(m *Manager, class a64.RegisterClass) (a64.Register, bool) {
	return f(m, class)
}
