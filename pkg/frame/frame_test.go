package frame

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	"pgregory.net/rapid"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want uint32
	}{
		{0, 8, 0},
		{1, 8, 8},
		{7, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{15, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{24, 16, 32},
		{5, 1, 5},
	}
	for _, tt := range tests {
		got := alignUp(tt.n, tt.align)
		if got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}

func TestReservedSlots(t *testing.T) {
	a := New()
	assert.Equal(t, a.Len(), 2)
	idx := a.Allocate(8, 8)
	assert.Equal(t, idx, Index(2))
	assert.Equal(t, StackFrame.String(), "stack_frame")
	assert.Equal(t, CallFrame.String(), "call_frame")
}

func TestFreeReusesExactSize(t *testing.T) {
	a := New()
	x := a.Allocate(8, 8)
	y := a.Allocate(16, 16)
	a.Free(x)
	a.Free(y)

	z := a.Allocate(16, 8)
	assert.Equal(t, z, y, "16-byte request should reuse the 16-byte slot")
	assert.Equal(t, a.Get(z).Align, uint32(16))

	w := a.Allocate(4, 4)
	assert.Assert(t, w != x, "a 4-byte request must not reuse an 8-byte slot")

	v := a.Allocate(8, 4)
	assert.Equal(t, v, x)
	assert.Equal(t, a.Get(v).Align, uint32(8))
}

func TestReuseWidensAlignment(t *testing.T) {
	a := New()
	x := a.Allocate(16, 4)
	a.Free(x)
	y := a.Allocate(16, 16)
	assert.Equal(t, x, y)
	assert.Equal(t, a.Get(y).Align, uint32(16))
	assert.Equal(t, a.Get(StackFrame).Align, uint32(16))
}

func TestFreeReservedPanics(t *testing.T) {
	a := New()
	defer func() {
		if recover() == nil {
			t.Errorf("Free(CallFrame) did not panic")
		}
	}()
	a.Free(CallFrame)
}

func TestDoubleFreePanics(t *testing.T) {
	a := New()
	x := a.Allocate(8, 8)
	a.Free(x)
	defer func() {
		if recover() == nil {
			t.Errorf("double Free did not panic")
		}
	}()
	a.Free(x)
}

func TestLayout(t *testing.T) {
	a := New()
	a.ReserveCallFrame(24)
	x := a.Allocate(1, 1)
	y := a.Allocate(8, 8)
	z := a.Allocate(16, 16)

	l, err := a.Layout()
	assert.NilError(t, err)
	assert.Equal(t, l.Offset(CallFrame), uint32(0))
	assert.Equal(t, l.Offset(x), uint32(32))
	assert.Equal(t, l.Offset(y), uint32(40))
	assert.Equal(t, l.Offset(z), uint32(48))
	assert.Equal(t, l.Slots[StackFrame].Offset, uint32(32))
	assert.Equal(t, l.Slots[StackFrame].Size, uint32(32))
	assert.Equal(t, l.Size, uint32(64))
}

func TestLayoutEmpty(t *testing.T) {
	l, err := New().Layout()
	assert.NilError(t, err)
	assert.Equal(t, l.Size, uint32(0))
}

func TestLayoutErrors(t *testing.T) {
	a := New()
	a.Allocate(32, 32)
	_, err := a.Layout()
	assert.Assert(t, errors.Is(err, ErrOverAligned))

	a = New()
	a.Allocate(MaxSize+1, 8)
	_, err = a.Layout()
	assert.Assert(t, errors.Is(err, ErrFrameTooLarge))
}

func TestFreeListSnapshot(t *testing.T) {
	a := New()
	x := a.Allocate(8, 8)
	saved := a.FreeList()
	a.Free(x)
	assert.Assert(t, a.IsFree(x))
	a.SetFreeList(saved)
	assert.Assert(t, !a.IsFree(x))
}

// Live slots are never handed out twice.
func TestAllocateNeverReturnsLiveSlot(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := New()
		live := map[Index]bool{}
		var order []Index
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(order) > 0 && rapid.Bool().Draw(t, "free") {
				k := rapid.IntRange(0, len(order)-1).Draw(t, "victim")
				idx := order[k]
				order = append(order[:k], order[k+1:]...)
				delete(live, idx)
				a.Free(idx)
				continue
			}
			size := rapid.SampledFrom([]uint32{1, 2, 4, 8, 16}).Draw(t, "size")
			idx := a.Allocate(size, size)
			if live[idx] {
				t.Fatalf("Allocate returned live slot %s", idx)
			}
			if got := a.Get(idx).Size; got != size {
				t.Fatalf("slot %s has size %d, want %d", idx, got, size)
			}
			live[idx] = true
			order = append(order, idx)
		}
		l, err := a.Layout()
		if err != nil {
			t.Fatal(err)
		}
		if l.Size%StackAlignment != 0 {
			t.Fatalf("frame size %d not 16-aligned", l.Size)
		}
	})
}
