// Package frame assigns abstract stack-frame slots to size/alignment
// requests and computes the final frame layout once a function is lowered.
package frame

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// StackAlignment is the AAPCS64 mandatory SP alignment
	StackAlignment = 16
	// MaxSize is the largest frame one shifted and one unshifted imm12 can adjust
	MaxSize = 1<<24 - StackAlignment
)

var (
	// ErrFrameTooLarge is returned when the frame cannot be adjusted in two instructions
	ErrFrameTooLarge = errors.New("stack frame too large")
	// ErrOverAligned is returned for slots that need more than the stack alignment
	ErrOverAligned = errors.New("frame slot alignment exceeds stack alignment")
)

// Index names a frame slot within one function
type Index uint32

// Reserved slots present in every function
const (
	// StackFrame stands for the whole spill-and-locals area; its alignment is
	// the maximum alignment of any slot allocated from it.
	StackFrame Index = iota
	// CallFrame is the outgoing call argument area at SP+0
	CallFrame
	firstSlot
)

func (i Index) String() string {
	switch i {
	case StackFrame:
		return "stack_frame"
	case CallFrame:
		return "call_frame"
	}
	return fmt.Sprintf("slot%d", uint32(i))
}

// Alloc is the size and alignment recorded for a slot
type Alloc struct {
	Size  uint32
	Align uint32
}

// Allocator hands out frame slots for one function
type Allocator struct {
	allocs []Alloc
	free   []Index
}

// New creates an allocator holding only the reserved slots
func New() *Allocator {
	return &Allocator{
		allocs: []Alloc{
			StackFrame: {Align: 1},
			CallFrame:  {Align: StackAlignment},
		},
	}
}

// Allocate returns a slot of the given size and alignment. A freed slot of
// exactly the same size is reused, widening its alignment if needed.
func (a *Allocator) Allocate(size, align uint32) Index {
	if align == 0 {
		align = 1
	}
	if align > a.allocs[StackFrame].Align {
		a.allocs[StackFrame].Align = align
	}
	for i, idx := range a.free {
		slot := &a.allocs[idx]
		if slot.Size != size {
			continue
		}
		slot.Align = max(slot.Align, align)
		last := len(a.free) - 1
		a.free[i] = a.free[last]
		a.free = a.free[:last]
		return idx
	}
	idx := Index(len(a.allocs))
	a.allocs = append(a.allocs, Alloc{Size: size, Align: align})
	return idx
}

// Free returns a slot to the free list. Freeing a reserved slot or a slot
// that is already free is a programming error.
func (a *Allocator) Free(idx Index) {
	if idx < firstSlot || int(idx) >= len(a.allocs) {
		panic(fmt.Sprintf("frame: free of reserved or unknown slot %s", idx))
	}
	for _, f := range a.free {
		if f == idx {
			panic(fmt.Sprintf("frame: double free of %s", idx))
		}
	}
	a.free = append(a.free, idx)
}

// ReserveCallFrame grows the outgoing argument area to at least size bytes
func (a *Allocator) ReserveCallFrame(size uint32) {
	if size > a.allocs[CallFrame].Size {
		a.allocs[CallFrame].Size = size
	}
}

// Get returns the recorded size and alignment of a slot
func (a *Allocator) Get(idx Index) Alloc { return a.allocs[idx] }

// Len returns the number of slots, reserved ones included
func (a *Allocator) Len() int { return len(a.allocs) }

// IsFree reports whether idx is currently on the free list
func (a *Allocator) IsFree(idx Index) bool {
	for _, f := range a.free {
		if f == idx {
			return true
		}
	}
	return false
}

// FreeList returns a copy of the free list
func (a *Allocator) FreeList() []Index {
	return append([]Index(nil), a.free...)
}

// SetFreeList replaces the free list, used when control flow rewinds to a
// saved state. Slots allocated since then stay allocated.
func (a *Allocator) SetFreeList(free []Index) {
	a.free = append(a.free[:0], free...)
}
