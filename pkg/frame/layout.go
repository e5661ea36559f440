package frame

import "github.com/pkg/errors"

// AArch64 frame layout (callee's view):
//
//	+---------------------------+  <- SP at entry
//	| LR                        |  FP+8
//	| old FP                    |  FP+0
//	+---------------------------+  <- FP
//	| callee-saved registers    |  push_regs
//	+---------------------------+
//	| spill and local slots     |  SP + CallFrame size + ...
//	| outgoing arguments        |  SP + 0
//	+---------------------------+  <- SP (16-byte aligned)
//
// Incoming stack arguments are at FP+16 and above.

// Slot is the final placement of one frame slot, relative to SP
type Slot struct {
	Index  Index
	Offset uint32
	Size   uint32
	Align  uint32
}

// Layout is the finished frame of one function
type Layout struct {
	Slots []Slot
	// Size is the SP adjustment below the callee-saved area, a multiple of 16
	Size uint32
}

// Offset returns the SP-relative offset of a slot
func (l Layout) Offset(idx Index) uint32 {
	return l.Slots[idx].Offset
}

// Layout places the call frame at SP+0 and every other slot above it in
// index order, freed slots included since their space was already used.
func (a *Allocator) Layout() (Layout, error) {
	if align := a.allocs[StackFrame].Align; align > StackAlignment {
		return Layout{}, errors.Wrapf(ErrOverAligned, "%d-byte alignment", align)
	}
	l := Layout{Slots: make([]Slot, len(a.allocs))}
	call := a.allocs[CallFrame]
	l.Slots[CallFrame] = Slot{Index: CallFrame, Offset: 0, Size: call.Size, Align: StackAlignment}

	base := alignUp(call.Size, StackAlignment)
	off := base
	for i := firstSlot; int(i) < len(a.allocs); i++ {
		s := a.allocs[i]
		off = alignUp(off, s.Align)
		l.Slots[i] = Slot{Index: i, Offset: off, Size: s.Size, Align: s.Align}
		off += s.Size
	}
	l.Slots[StackFrame] = Slot{Index: StackFrame, Offset: base, Size: off - base, Align: a.allocs[StackFrame].Align}

	l.Size = alignUp(off, StackAlignment)
	if l.Size > MaxSize {
		return Layout{}, errors.Wrapf(ErrFrameTooLarge, "%d bytes", l.Size)
	}
	return l, nil
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
