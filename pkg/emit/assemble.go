package emit

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

// RelocKind names the field a relocation patches
type RelocKind uint8

const (
	// RelocCall26 is the imm26 of a bl
	RelocCall26 RelocKind = iota
	// RelocAdrPage21 is the page address of an adrp
	RelocAdrPage21
	// RelocAddLo12 is the low 12 bits of the address in an add
	RelocAddLo12
)

func (k RelocKind) String() string {
	switch k {
	case RelocCall26:
		return "CALL26"
	case RelocAdrPage21:
		return "ADR_PREL_PG_HI21"
	}
	return "ADD_ABS_LO12_NC"
}

// Reloc is a reference the linker must resolve
type Reloc struct {
	// Offset is the byte offset of the instruction within the function
	Offset uint32
	Kind   RelocKind
	Symbol string
	Addend int64
}

func (r Reloc) String() string {
	if r.Addend != 0 {
		return fmt.Sprintf("%#x %s %s%+d", r.Offset, r.Kind, r.Symbol, r.Addend)
	}
	return fmt.Sprintf("%#x %s %s", r.Offset, r.Kind, r.Symbol)
}

// Object is the encoded form of one function
type Object struct {
	Name     string
	Words    []uint32
	Relocs   []Reloc
	Literals []mir.Literal
}

// Bytes returns the code in little-endian byte order
func (o *Object) Bytes() []byte {
	buf := make([]byte, 0, 4*len(o.Words))
	for _, w := range o.Words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return buf
}

// item is one machine instruction after pseudo expansion
type item struct {
	inst   mir.Inst
	reloc  *Reloc
	target uint32 // mir index, meaningful when isBranch
	branch bool
}

// Assemble expands pseudo instructions against the final frame layout,
// resolves branch targets to displacements and encodes every instruction.
func Assemble(fn *mir.Function) (*Object, error) {
	var items []item
	// start maps a mir index to the position of its first expanded
	// instruction; the extra entry is the end of the function.
	start := make([]uint32, len(fn.Insts)+1)
	for i, inst := range fn.Insts {
		start[i] = uint32(len(items))
		expanded, err := expand(fn, inst)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: instruction %d", fn.Name, i)
		}
		items = append(items, expanded...)
	}
	start[len(fn.Insts)] = uint32(len(items))

	obj := &Object{Name: fn.Name, Words: make([]uint32, len(items)), Literals: fn.Literals}
	for pos, it := range items {
		var word uint32
		var err error
		switch {
		case it.branch:
			if int(it.target) >= len(start) {
				return nil, errors.Wrapf(ErrInvalidOperands, "%s: branch to %d past the end", fn.Name, it.target)
			}
			word, err = EncodeBranch(it.inst, int64(start[it.target])-int64(pos))
		default:
			word, err = Encode(it.inst)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: word %d", fn.Name, pos)
		}
		obj.Words[pos] = word
		if it.reloc != nil {
			r := *it.reloc
			r.Offset = uint32(pos) * 4
			obj.Relocs = append(obj.Relocs, r)
		}
	}
	return obj, nil
}

func one(inst mir.Inst) []item { return []item{{inst: inst}} }

func expand(fn *mir.Function, inst mir.Inst) ([]item, error) {
	switch inst.Tag {
	case mir.DbgLine, mir.DbgPrologueEnd, mir.DbgEpilogueBegin:
		return nil, nil
	case mir.LdrFrame, mir.StrFrame:
		return frameAccess(fn, inst)
	case mir.AddrFrame:
		d := inst.Data.(mir.FrameRef)
		off, err := frameOffset(fn, d)
		if err != nil {
			return nil, err
		}
		return addSP(d.Reg.ToX(), off), nil
	case mir.PushRegs:
		return pushRegs(inst.Data.(mir.RegList).Regs), nil
	case mir.PopRegs:
		return popRegs(inst.Data.(mir.RegList).Regs), nil
	case mir.LoadSymbolAddr:
		d := inst.Data.(mir.Symbol)
		rd := d.Rd.ToX()
		return []item{
			{inst: mir.New(mir.Raw, mir.RawWord{Word: 0x90000000 | rd.Enc()}),
				reloc: &Reloc{Kind: RelocAdrPage21, Symbol: d.Name, Addend: d.Offset}},
			{inst: mir.New(mir.Add, mir.RRImm12{Rd: rd, Rn: rd}),
				reloc: &Reloc{Kind: RelocAddLo12, Symbol: d.Name, Addend: d.Offset}},
		}, nil
	case mir.Bl:
		d := inst.Data.(mir.Call)
		return []item{{inst: inst, reloc: &Reloc{Kind: RelocCall26, Symbol: d.Symbol}}}, nil
	}
	if target, ok := inst.Target(); ok {
		if target == mir.PlaceholderTarget {
			return nil, errors.Wrapf(ErrInvalidOperands, "%s has an unpatched target", inst.Tag)
		}
		return []item{{inst: inst, target: target, branch: true}}, nil
	}
	return one(inst), nil
}

func frameOffset(fn *mir.Function, d mir.FrameRef) (int64, error) {
	if int(d.Frame) >= len(fn.Frame.Slots) {
		return 0, errors.Wrapf(ErrInvalidOperands, "frame slot %s not in layout", d.Frame)
	}
	return int64(fn.Frame.Offset(d.Frame)) + int64(d.Off), nil
}

// addSP computes sp + off into rd with at most two adds
func addSP(rd a64.Register, off int64) []item {
	lo, hi := uint16(off&0xfff), uint16(off>>12)
	if hi == 0 {
		return one(mir.New(mir.Add, mir.RRImm12{Rd: rd, Rn: a64.SP, Imm: lo}))
	}
	items := one(mir.New(mir.Add, mir.RRImm12{Rd: rd, Rn: a64.SP, Imm: hi, Shift12: true}))
	if lo != 0 {
		items = append(items, one(mir.New(mir.Add, mir.RRImm12{Rd: rd, Rn: rd, Imm: lo}))...)
	}
	return items
}

// frameAccessTag picks the load or store and the register view for a frame
// access of d.Size bytes.
func frameAccessTag(load bool, d mir.FrameRef) (mir.Tag, a64.Register) {
	if d.Reg.Class() == a64.Vector {
		if load {
			return mir.Ldr, d.Reg.Alias(int(d.Size) * 8)
		}
		return mir.Str, d.Reg.Alias(int(d.Size) * 8)
	}
	if !load {
		switch d.Size {
		case 1:
			return mir.Strb, d.Reg.ToW()
		case 2:
			return mir.Strh, d.Reg.ToW()
		case 4:
			return mir.Str, d.Reg.ToW()
		}
		return mir.Str, d.Reg.ToX()
	}
	switch d.Size {
	case 1:
		if d.Signed {
			return mir.Ldrsb, d.Reg.ToX()
		}
		return mir.Ldrb, d.Reg.ToW()
	case 2:
		if d.Signed {
			return mir.Ldrsh, d.Reg.ToX()
		}
		return mir.Ldrh, d.Reg.ToW()
	case 4:
		if d.Signed {
			return mir.Ldrsw, d.Reg.ToX()
		}
		return mir.Ldr, d.Reg.ToW()
	}
	return mir.Ldr, d.Reg.ToX()
}

func frameAccess(fn *mir.Function, inst mir.Inst) ([]item, error) {
	d := inst.Data.(mir.FrameRef)
	off, err := frameOffset(fn, d)
	if err != nil {
		return nil, err
	}
	tag, rt := frameAccessTag(inst.Tag == mir.LdrFrame, d)
	scale := uint(mir.ScaleOf(tag, rt))
	if FitsUnsignedOffset(off, scale) {
		return one(mir.New(tag, mir.LoadStore{Rt: rt, Rn: a64.SP, Offset: int32(off)})), nil
	}
	var items []item
	for _, mov := range mir.MoveImmediate(a64.IP0, uint64(off)) {
		items = append(items, item{inst: mov})
	}
	return append(items, item{inst: mir.New(tag, mir.LoadStoreRegister{
		Rt: rt, Rn: a64.SP, Rm: a64.IP0, Extend: mir.ExtUXTX,
	})}), nil
}

func pushRegs(regs []a64.Register) []item {
	var items []item
	for i := 0; i < len(regs); i += 2 {
		if i+1 == len(regs) {
			items = append(items, one(mir.New(mir.Str, mir.LoadStore{
				Rt: regs[i], Rn: a64.SP, Offset: -16, Mode: mir.AddrPreIndex,
			}))...)
			break
		}
		items = append(items, one(mir.New(mir.Stp, mir.LoadStorePair{
			Rt: regs[i], Rt2: regs[i+1], Rn: a64.SP, Offset: -16, Mode: mir.AddrPreIndex,
		}))...)
	}
	return items
}

func popRegs(regs []a64.Register) []item {
	var items []item
	i := len(regs) &^ 1
	if len(regs)%2 == 1 {
		items = append(items, one(mir.New(mir.Ldr, mir.LoadStore{
			Rt: regs[i], Rn: a64.SP, Offset: 16, Mode: mir.AddrPostIndex,
		}))...)
	}
	for i -= 2; i >= 0; i -= 2 {
		items = append(items, one(mir.New(mir.Ldp, mir.LoadStorePair{
			Rt: regs[i], Rt2: regs[i+1], Rn: a64.SP, Offset: 16, Mode: mir.AddrPostIndex,
		}))...)
	}
	return items
}
