package emit

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

func layout(offsets ...uint32) frame.Layout {
	l := frame.Layout{Size: 32}
	for i, off := range offsets {
		l.Slots = append(l.Slots, frame.Slot{Index: frame.Index(i), Offset: off, Size: 8, Align: 8})
	}
	return l
}

func TestAssembleResolvesBranches(t *testing.T) {
	fn := &mir.Function{
		Name: "f",
		Insts: []mir.Inst{
			mir.New(mir.Cbz, mir.CompareBranch{Rt: a64.X0, Target: 3}),
			mir.New(mir.DbgLine, mir.DbgLineData{Line: 2}),
			mir.New(mir.Movz, mir.RImm16{Rd: a64.X0, Imm: 1}),
			mir.New(mir.DbgEpilogueBegin, mir.NoData{}),
			mir.New(mir.Ret, mir.R{Rn: a64.LR}),
			mir.New(mir.B, mir.Branch{Target: 0}),
		},
	}
	obj, err := Assemble(fn)
	assert.NilError(t, err)
	assert.DeepEqual(t, obj.Words, []uint32{
		0xb4000040, // cbz x0, +2 (debug markers take no space)
		0xd2800020,
		0xd65f03c0,
		0x17fffffd, // b -3
	})
	assert.DeepEqual(t, obj.Bytes()[:4], []byte{0x40, 0x00, 0x00, 0xb4})
}

func TestAssembleFramePseudos(t *testing.T) {
	fn := &mir.Function{
		Name:  "frames",
		Frame: layout(16, 0, 16, 24),
		Insts: []mir.Inst{
			mir.New(mir.StrFrame, mir.FrameRef{Reg: a64.X9, Frame: 2, Size: 8}),
			mir.New(mir.LdrFrame, mir.FrameRef{Reg: a64.X10, Frame: 3, Off: 4, Size: 4, Signed: true}),
			mir.New(mir.LdrFrame, mir.FrameRef{Reg: a64.X11, Frame: 3, Size: 1}),
			mir.New(mir.AddrFrame, mir.FrameRef{Reg: a64.X12, Frame: 2, Off: 8}),
		},
	}
	obj, err := Assemble(fn)
	assert.NilError(t, err)
	assert.DeepEqual(t, obj.Words, []uint32{
		0xf9000be9, // str x9, [sp, #16]
		0xb9801fea, // ldrsw x10, [sp, #28]
		0x394063eb, // ldrb w11, [sp, #24]
		0x910063ec, // add x12, sp, #24
	})
}

func TestAssembleLargeFrameOffset(t *testing.T) {
	fn := &mir.Function{
		Name:  "big",
		Frame: layout(0x10000, 0, 0x12340),
		Insts: []mir.Inst{
			mir.New(mir.LdrFrame, mir.FrameRef{Reg: a64.X9, Frame: 2, Size: 8}),
			mir.New(mir.AddrFrame, mir.FrameRef{Reg: a64.X10, Frame: 2}),
		},
	}
	obj, err := Assemble(fn)
	assert.NilError(t, err)
	assert.DeepEqual(t, obj.Words, []uint32{
		0xd2846810, // movz x16, #0x2340
		0xf2a00030, // movk x16, #0x1, lsl #16
		0xf8706be9, // ldr x9, [sp, x16]
		0x91404bea, // add x10, sp, #0x12, lsl #12
		0x910d014a, // add x10, x10, #0x340
	})
}

func TestAssemblePushPop(t *testing.T) {
	saved := []a64.Register{a64.X19, a64.X20, a64.X21}
	fn := &mir.Function{
		Name: "saves",
		Insts: []mir.Inst{
			mir.New(mir.PushRegs, mir.RegList{Regs: saved}),
			mir.New(mir.PopRegs, mir.RegList{Regs: saved}),
		},
	}
	obj, err := Assemble(fn)
	assert.NilError(t, err)
	assert.DeepEqual(t, obj.Words, []uint32{
		0xa9bf53f3, // stp x19, x20, [sp, #-16]!
		0xf81f0ff5, // str x21, [sp, #-16]!
		0xf84107f5, // ldr x21, [sp], #16
		0xa8c153f3, // ldp x19, x20, [sp], #16
	})
}

func TestAssembleRelocations(t *testing.T) {
	fn := &mir.Function{
		Name: "calls",
		Insts: []mir.Inst{
			mir.New(mir.LoadSymbolAddr, mir.Symbol{Rd: a64.X0, Name: "str.0", Offset: 4}),
			mir.New(mir.Bl, mir.Call{Symbol: "puts"}),
		},
	}
	obj, err := Assemble(fn)
	assert.NilError(t, err)
	assert.DeepEqual(t, obj.Words, []uint32{0x90000000, 0x91000000, 0x94000000})
	assert.DeepEqual(t, obj.Relocs, []Reloc{
		{Offset: 0, Kind: RelocAdrPage21, Symbol: "str.0", Addend: 4},
		{Offset: 4, Kind: RelocAddLo12, Symbol: "str.0", Addend: 4},
		{Offset: 8, Kind: RelocCall26, Symbol: "puts"},
	})
	assert.Equal(t, obj.Relocs[2].String(), "0x8 CALL26 puts")
}

func TestAssembleRejectsPlaceholder(t *testing.T) {
	fn := &mir.Function{
		Name:  "bad",
		Insts: []mir.Inst{mir.New(mir.B, mir.Branch{Target: mir.PlaceholderTarget})},
	}
	_, err := Assemble(fn)
	assert.Assert(t, errors.Is(err, ErrInvalidOperands))
	assert.ErrorContains(t, err, "bad: instruction 0")
}
