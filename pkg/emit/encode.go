// Package emit encodes machine IR into AArch64 instruction words. Encode is
// a pure function of one instruction; Assemble expands the pseudo
// instructions of a finished function and resolves its local branches.
package emit

import (
	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

var (
	// ErrInvalidImmediate is returned for an immediate outside its field
	ErrInvalidImmediate = errors.New("invalid immediate")
	// ErrInvalidOperands is returned when the payload does not fit the opcode
	ErrInvalidOperands = errors.New("invalid operands")
	// ErrPseudoInstruction is returned for instructions that have no encoding
	ErrPseudoInstruction = errors.New("pseudo instruction cannot be encoded")
)

func invalidImm(inst mir.Inst, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidImmediate, inst.Tag.String()+": "+format, args...)
}

func invalidOps(inst mir.Inst, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidOperands, inst.Tag.String()+": "+format, args...)
}

// Encode returns the instruction word for inst. Branch displacements are
// encoded as zero; see EncodeBranch.
func Encode(inst mir.Inst) (uint32, error) {
	if inst.Tag.IsPseudo() {
		return 0, errors.Wrap(ErrPseudoInstruction, inst.Tag.String())
	}
	if inst.Data == nil || inst.Data.Ops() != inst.Ops {
		return 0, invalidOps(inst, "payload does not match %s", inst.Ops)
	}
	switch inst.Tag {
	case mir.Add, mir.Adds, mir.Sub, mir.Subs:
		return addSub(inst)
	case mir.Adc, mir.Adcs, mir.Sbc, mir.Sbcs:
		return addSubCarry(inst)
	case mir.Neg:
		return neg(inst)
	case mir.Mul, mir.Madd, mir.Msub, mir.Smaddl, mir.Umaddl, mir.Smulh, mir.Umulh:
		return dataProc3(inst)
	case mir.Sdiv, mir.Udiv:
		return dataProc2(inst)
	case mir.And, mir.Ands, mir.Orr, mir.Orn, mir.Eor, mir.Bic:
		return logical(inst)
	case mir.Mvn:
		return mvn(inst)
	case mir.Lsl, mir.Lsr, mir.Asr, mir.Ror:
		return shift(inst)
	case mir.Ubfm, mir.Sbfm, mir.Bfm:
		return bitfield(inst)
	case mir.Clz, mir.Rbit, mir.Rev, mir.Rev16, mir.Rev32:
		return dataProc1(inst)
	case mir.Mov:
		return mov(inst)
	case mir.Movz, mir.Movk, mir.Movn:
		return moveWide(inst)
	case mir.Csel, mir.Csinc, mir.Csinv, mir.Csneg, mir.Cset, mir.Csetm:
		return condSelect(inst)
	case mir.Ldr, mir.Ldrb, mir.Ldrh, mir.Ldrsb, mir.Ldrsh, mir.Ldrsw, mir.Str, mir.Strb, mir.Strh:
		return loadStore(inst)
	case mir.Ldp, mir.Stp:
		return loadStorePair(inst)
	case mir.Ldxr, mir.Ldaxr, mir.Stxr, mir.Stlxr, mir.Ldar, mir.Stlr:
		return exclusive(inst)
	case mir.Swp, mir.Ldadd, mir.Ldclr, mir.Ldeor, mir.Ldset, mir.Ldsmax, mir.Ldsmin, mir.Ldumax, mir.Ldumin, mir.Cas:
		return atomic(inst)
	case mir.B, mir.BCond, mir.Cbz, mir.Cbnz, mir.Bl:
		return EncodeBranch(inst, 0)
	case mir.Br, mir.Blr, mir.Ret:
		return branchRegister(inst)
	case mir.Nop, mir.Brk, mir.Dmb, mir.Dsb, mir.Isb:
		return system(inst)
	case mir.Fadd, mir.Fsub, mir.Fmul, mir.Fdiv, mir.Fmax, mir.Fmin:
		return float2(inst)
	case mir.Fneg, mir.Fabs, mir.Fsqrt, mir.Fcvt:
		return float1(inst)
	case mir.Fmov:
		return fmov(inst)
	case mir.Scvtf, mir.Ucvtf, mir.Fcvtzs, mir.Fcvtzu:
		return floatConvert(inst)
	case mir.Fcmp:
		return fcmp(inst)
	case mir.Fcsel:
		return fcsel(inst)
	case mir.Raw:
		return inst.Data.(mir.RawWord).Word, nil
	}
	return 0, invalidOps(inst, "no encoding")
}

// --- register checks ---

func isGP(r a64.Register) bool { return r.Class() == a64.GeneralPurpose }

func sf(r a64.Register) uint32 {
	if r.Is64() {
		return 1
	}
	return 0
}

func rn(r a64.Register) uint32 { return r.Enc() }

// gpSame checks that every register is general purpose, of one width, and
// that none is the stack pointer.
func gpSame(inst mir.Inst, regs ...a64.Register) error {
	for _, r := range regs {
		if !isGP(r) || r.IsSP() {
			return invalidOps(inst, "%s is not a general-purpose register", r)
		}
		if r.Is64() != regs[0].Is64() {
			return invalidOps(inst, "mixed register widths %s and %s", regs[0], r)
		}
	}
	return nil
}

// spOrGP allows sp but not the zero register
func spOrGP(inst mir.Inst, regs ...a64.Register) error {
	for _, r := range regs {
		if !isGP(r) || r.IsZero() {
			return invalidOps(inst, "%s cannot be used here", r)
		}
		if r.Is64() != regs[0].Is64() {
			return invalidOps(inst, "mixed register widths %s and %s", regs[0], r)
		}
	}
	return nil
}

func baseReg(inst mir.Inst, r a64.Register) error {
	if !isGP(r) || r.IsZero() || !r.Is64() {
		return invalidOps(inst, "%s is not a 64-bit base register", r)
	}
	return nil
}

// --- arithmetic ---

func addSubBits(tag mir.Tag) (op, s uint32) {
	switch tag {
	case mir.Adds:
		return 0, 1
	case mir.Sub:
		return 1, 0
	case mir.Subs:
		return 1, 1
	}
	return 0, 0
}

func addSubImm(inst mir.Inst, rd, rnReg a64.Register, imm uint16, shift12 bool) (uint32, error) {
	op, s := addSubBits(inst.Tag)
	if imm > 0xfff {
		return 0, invalidImm(inst, "%d does not fit 12 bits", imm)
	}
	if s == 1 {
		// Flag-setting forms write the zero register, not sp.
		if err := spOrGP(inst, rnReg); err != nil {
			return 0, err
		}
		if !isGP(rd) || rd.IsSP() || rd.Is64() != rnReg.Is64() {
			return 0, invalidOps(inst, "bad destination %s", rd)
		}
	} else if err := spOrGP(inst, rd, rnReg); err != nil {
		return 0, err
	}
	var sh uint32
	if shift12 {
		sh = 1
	}
	return sf(rnReg)<<31 | op<<30 | s<<29 | 0b100010<<23 | sh<<22 | uint32(imm)<<10 | rn(rnReg)<<5 | rn(rd), nil
}

func addSubExtended(inst mir.Inst, rd, rnReg, rm a64.Register, ext mir.Extend, amount uint8) (uint32, error) {
	op, s := addSubBits(inst.Tag)
	if amount > 4 {
		return 0, invalidImm(inst, "extend shift %d exceeds 4", amount)
	}
	if !isGP(rm) || rm.IsSP() {
		return 0, invalidOps(inst, "%s cannot be an index", rm)
	}
	if err := spOrGP(inst, rnReg); err != nil {
		return 0, err
	}
	if !isGP(rd) || (s == 1 && rd.IsSP()) || (s == 0 && rd.IsZero()) {
		return 0, invalidOps(inst, "bad destination %s", rd)
	}
	return sf(rd)<<31 | op<<30 | s<<29 | 0b01011<<24 | 1<<21 | rn(rm)<<16 | uint32(ext)<<13 |
		uint32(amount)<<10 | rn(rnReg)<<5 | rn(rd), nil
}

func addSub(inst mir.Inst) (uint32, error) {
	switch d := inst.Data.(type) {
	case mir.RRImm12:
		return addSubImm(inst, d.Rd, d.Rn, d.Imm, d.Shift12)
	case mir.RImm12:
		if inst.Tag != mir.Adds && inst.Tag != mir.Subs {
			return 0, invalidOps(inst, "compare form requires adds or subs")
		}
		zr := a64.XZR
		if !d.Rn.Is64() {
			zr = a64.WZR
		}
		return addSubImm(inst, zr, d.Rn, d.Imm, d.Shift12)
	case mir.RRShifted:
		if d.Rd.IsSP() || d.Rn.IsSP() {
			if d.Amount != 0 || d.Shift != mir.ShiftLSL {
				return 0, invalidOps(inst, "shifted operand with sp")
			}
			ext := mir.ExtUXTX
			if !d.Rd.Is64() {
				ext = mir.ExtUXTW
			}
			return addSubExtended(inst, d.Rd, d.Rn, d.Rm, ext, 0)
		}
		if err := gpSame(inst, d.Rd, d.Rn, d.Rm); err != nil {
			return 0, err
		}
		if d.Shift == mir.ShiftROR {
			return 0, invalidOps(inst, "ror is not allowed")
		}
		if int(d.Amount) >= d.Rd.Size() {
			return 0, invalidImm(inst, "shift %d out of range", d.Amount)
		}
		op, s := addSubBits(inst.Tag)
		return sf(d.Rd)<<31 | op<<30 | s<<29 | 0b01011<<24 | uint32(d.Shift)<<22 | rn(d.Rm)<<16 |
			uint32(d.Amount)<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
	case mir.RRExtend:
		return addSubExtended(inst, d.Rd, d.Rn, d.Rm, d.Extend, d.Amount)
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

func addSubCarry(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RRR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn, d.Rm); err != nil {
		return 0, err
	}
	var op, s uint32
	switch inst.Tag {
	case mir.Adcs:
		s = 1
	case mir.Sbc:
		op = 1
	case mir.Sbcs:
		op, s = 1, 1
	}
	return sf(d.Rd)<<31 | op<<30 | s<<29 | 0b11010000<<21 | rn(d.Rm)<<16 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func neg(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn); err != nil {
		return 0, err
	}
	return sf(d.Rd)<<31 | 1<<30 | 0b01011<<24 | rn(d.Rn)<<16 | 31<<5 | rn(d.Rd), nil
}

func dataProc3(inst mir.Inst) (uint32, error) {
	var rd, rnReg, rm, ra a64.Register
	switch d := inst.Data.(type) {
	case mir.RRR:
		if inst.Tag != mir.Mul && inst.Tag != mir.Smulh && inst.Tag != mir.Umulh {
			return 0, invalidOps(inst, "missing addend")
		}
		rd, rnReg, rm = d.Rd, d.Rn, d.Rm
		ra = a64.XZR
		if !rd.Is64() {
			ra = a64.WZR
		}
	case mir.RRRR:
		if inst.Tag == mir.Mul || inst.Tag == mir.Smulh || inst.Tag == mir.Umulh {
			return 0, invalidOps(inst, "unexpected addend")
		}
		rd, rnReg, rm, ra = d.Rd, d.Rn, d.Rm, d.Ra
	default:
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}

	var op31, o0 uint32
	switch inst.Tag {
	case mir.Msub:
		o0 = 1
	case mir.Smaddl:
		op31 = 0b001
	case mir.Umaddl:
		op31 = 0b101
	case mir.Smulh:
		op31 = 0b010
	case mir.Umulh:
		op31 = 0b110
	}
	switch inst.Tag {
	case mir.Smaddl, mir.Umaddl:
		if err := gpSame(inst, rd, ra); err != nil {
			return 0, err
		}
		if err := gpSame(inst, rnReg, rm); err != nil {
			return 0, err
		}
		if !rd.Is64() || rnReg.Is64() {
			return 0, invalidOps(inst, "widening multiply takes w sources and an x destination")
		}
		return 1<<31 | 0b11011<<24 | op31<<21 | rn(rm)<<16 | o0<<15 | rn(ra)<<10 | rn(rnReg)<<5 | rn(rd), nil
	case mir.Smulh, mir.Umulh:
		if err := gpSame(inst, rd, rnReg, rm); err != nil {
			return 0, err
		}
		if !rd.Is64() {
			return 0, invalidOps(inst, "high multiply is 64-bit only")
		}
		return 1<<31 | 0b11011<<24 | op31<<21 | rn(rm)<<16 | 31<<10 | rn(rnReg)<<5 | rn(rd), nil
	}
	if err := gpSame(inst, rd, rnReg, rm, ra); err != nil {
		return 0, err
	}
	return sf(rd)<<31 | 0b11011<<24 | op31<<21 | rn(rm)<<16 | o0<<15 | rn(ra)<<10 | rn(rnReg)<<5 | rn(rd), nil
}

func dataProc2(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RRR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn, d.Rm); err != nil {
		return 0, err
	}
	var opcode uint32
	switch inst.Tag {
	case mir.Udiv:
		opcode = 0b000010
	case mir.Sdiv:
		opcode = 0b000011
	case mir.Lsl:
		opcode = 0b001000
	case mir.Lsr:
		opcode = 0b001001
	case mir.Asr:
		opcode = 0b001010
	case mir.Ror:
		opcode = 0b001011
	}
	return sf(d.Rd)<<31 | 0x1ac00000 | rn(d.Rm)<<16 | opcode<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func dataProc1(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn); err != nil {
		return 0, err
	}
	var opcode uint32
	switch inst.Tag {
	case mir.Rbit:
		opcode = 0
	case mir.Rev16:
		opcode = 1
	case mir.Rev32:
		if !d.Rd.Is64() {
			return 0, invalidOps(inst, "rev32 is 64-bit only")
		}
		opcode = 2
	case mir.Rev:
		opcode = 2 + sf(d.Rd)
	case mir.Clz:
		opcode = 4
	}
	return sf(d.Rd)<<31 | 0x5ac00000 | opcode<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

// --- logical ---

func logicalBits(tag mir.Tag) (opc, n uint32) {
	switch tag {
	case mir.Ands:
		return 0b11, 0
	case mir.Orr:
		return 0b01, 0
	case mir.Orn:
		return 0b01, 1
	case mir.Eor:
		return 0b10, 0
	case mir.Bic:
		return 0b00, 1
	}
	return 0b00, 0
}

func logical(inst mir.Inst) (uint32, error) {
	opc, n := logicalBits(inst.Tag)
	switch d := inst.Data.(type) {
	case mir.RRShifted:
		if err := gpSame(inst, d.Rd, d.Rn, d.Rm); err != nil {
			return 0, err
		}
		if int(d.Amount) >= d.Rd.Size() {
			return 0, invalidImm(inst, "shift %d out of range", d.Amount)
		}
		return sf(d.Rd)<<31 | opc<<29 | 0b01010<<24 | uint32(d.Shift)<<22 | n<<21 | rn(d.Rm)<<16 |
			uint32(d.Amount)<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
	case mir.RRBitmask:
		if n == 1 {
			return 0, invalidOps(inst, "no immediate form")
		}
		if err := gpSame(inst, d.Rn); err != nil {
			return 0, err
		}
		if !isGP(d.Rd) || d.Rd.Is64() != d.Rn.Is64() || (inst.Tag == mir.Ands && d.Rd.IsSP()) || (inst.Tag != mir.Ands && d.Rd.IsZero()) {
			return 0, invalidOps(inst, "bad destination %s", d.Rd)
		}
		bits := d.Rn.Size()
		if bits == 32 && d.Imm>>32 != 0 {
			return 0, invalidImm(inst, "%#x does not fit 32 bits", d.Imm)
		}
		bm, ok := a64.EncodeBitmask(d.Imm, bits)
		if !ok {
			return 0, invalidImm(inst, "%#x is not a logical immediate", d.Imm)
		}
		return sf(d.Rn)<<31 | opc<<29 | 0b100100<<23 | bm.N<<22 | bm.Immr<<16 | bm.Imms<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

func mvn(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn); err != nil {
		return 0, err
	}
	return sf(d.Rd)<<31 | 0b01<<29 | 0b01010<<24 | 1<<21 | rn(d.Rn)<<16 | 31<<5 | rn(d.Rd), nil
}

// --- shifts and bitfields ---

func bitfieldWord(opc uint32, rd, rnReg a64.Register, immr, imms uint32) uint32 {
	s := sf(rd)
	return s<<31 | opc<<29 | 0b100110<<23 | s<<22 | immr<<16 | imms<<10 | rn(rnReg)<<5 | rn(rd)
}

func shift(inst mir.Inst) (uint32, error) {
	switch d := inst.Data.(type) {
	case mir.RRR:
		return dataProc2(inst)
	case mir.RRImm6:
		if err := gpSame(inst, d.Rd, d.Rn); err != nil {
			return 0, err
		}
		w := uint32(d.Rd.Size())
		s := uint32(d.Amount)
		if s >= w {
			return 0, invalidImm(inst, "shift %d out of range", s)
		}
		switch inst.Tag {
		case mir.Lsl:
			return bitfieldWord(0b10, d.Rd, d.Rn, (w-s)%w, w-1-s), nil
		case mir.Lsr:
			return bitfieldWord(0b10, d.Rd, d.Rn, s, w-1), nil
		case mir.Asr:
			return bitfieldWord(0b00, d.Rd, d.Rn, s, w-1), nil
		}
		// ror is extr with both sources equal
		f := sf(d.Rd)
		return f<<31 | 0b00100111<<23 | f<<22 | rn(d.Rn)<<16 | s<<10 | rn(d.Rn)<<5 | rn(d.Rd), nil
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

func bitfield(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RRBitfield)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd, d.Rn); err != nil {
		return 0, err
	}
	w := uint8(d.Rd.Size())
	if d.Immr >= w || d.Imms >= w {
		return 0, invalidImm(inst, "immr %d imms %d out of range", d.Immr, d.Imms)
	}
	opc := uint32(0b10)
	switch inst.Tag {
	case mir.Sbfm:
		opc = 0b00
	case mir.Bfm:
		opc = 0b01
	}
	return bitfieldWord(opc, d.Rd, d.Rn, uint32(d.Immr), uint32(d.Imms)), nil
}

// --- moves ---

func mov(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	switch {
	case isGP(d.Rd) && isGP(d.Rn):
		if d.Rd.IsSP() || d.Rn.IsSP() {
			add := mir.New(mir.Add, mir.RRImm12{Rd: d.Rd, Rn: d.Rn})
			return addSubImm(add, d.Rd, d.Rn, 0, false)
		}
		if err := gpSame(inst, d.Rd, d.Rn); err != nil {
			return 0, err
		}
		return sf(d.Rd)<<31 | 0b01<<29 | 0b01010<<24 | rn(d.Rn)<<16 | 31<<5 | rn(d.Rd), nil
	case !isGP(d.Rd) && !isGP(d.Rn):
		if d.Rd.Size() == 128 && d.Rn.Size() == 128 {
			// orr vd.16b, vn.16b, vn.16b
			return 0x4ea01c00 | rn(d.Rn)<<16 | rn(d.Rn)<<5 | rn(d.Rd), nil
		}
	}
	return fmov(inst)
}

func moveWide(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RImm16)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, d.Rd); err != nil {
		return 0, err
	}
	if int(d.Hw)*16 >= d.Rd.Size() {
		return 0, invalidImm(inst, "lane %d out of range", d.Hw)
	}
	opc := uint32(0b10)
	switch inst.Tag {
	case mir.Movn:
		opc = 0b00
	case mir.Movk:
		opc = 0b11
	}
	return sf(d.Rd)<<31 | opc<<29 | 0b100101<<23 | uint32(d.Hw)<<21 | uint32(d.Imm)<<5 | rn(d.Rd), nil
}

// --- conditional select ---

func condSelect(inst mir.Inst) (uint32, error) {
	var rd, rnReg, rm a64.Register
	var cond a64.Condition
	switch d := inst.Data.(type) {
	case mir.RCond:
		if inst.Tag != mir.Cset && inst.Tag != mir.Csetm {
			return 0, invalidOps(inst, "missing sources")
		}
		if d.Cond >= a64.AL {
			return 0, invalidOps(inst, "condition %s cannot be materialized", d.Cond)
		}
		rd = d.Rd
		rnReg = a64.XZR
		if !rd.Is64() {
			rnReg = a64.WZR
		}
		rm, cond = rnReg, d.Cond.Negate()
	case mir.RRRCond:
		if inst.Tag == mir.Cset || inst.Tag == mir.Csetm {
			return 0, invalidOps(inst, "unexpected sources")
		}
		rd, rnReg, rm, cond = d.Rd, d.Rn, d.Rm, d.Cond
	default:
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := gpSame(inst, rd, rnReg, rm); err != nil {
		return 0, err
	}
	var op, op2 uint32
	switch inst.Tag {
	case mir.Csinc, mir.Cset:
		op2 = 0b01
	case mir.Csinv, mir.Csetm:
		op = 1
	case mir.Csneg:
		op, op2 = 1, 0b01
	}
	return sf(rd)<<31 | op<<30 | 0b11010100<<21 | rn(rm)<<16 | uint32(cond)<<12 | op2<<10 | rn(rnReg)<<5 | rn(rd), nil
}

// --- branches ---

func checkDisp(inst mir.Inst, disp int64, bits uint) (uint32, error) {
	limit := int64(1) << (bits - 1)
	if disp < -limit || disp >= limit {
		return 0, invalidImm(inst, "branch displacement %d out of range", disp)
	}
	return uint32(disp) & (1<<bits - 1), nil
}

// EncodeBranch encodes a pc-relative branch with a displacement counted in
// instructions from the branch itself.
func EncodeBranch(inst mir.Inst, disp int64) (uint32, error) {
	if inst.Data == nil || inst.Data.Ops() != inst.Ops {
		return 0, invalidOps(inst, "payload does not match %s", inst.Ops)
	}
	switch d := inst.Data.(type) {
	case mir.Branch:
		if inst.Tag != mir.B {
			break
		}
		imm, err := checkDisp(inst, disp, 26)
		return 0x14000000 | imm, err
	case mir.Call:
		if inst.Tag != mir.Bl {
			break
		}
		imm, err := checkDisp(inst, disp, 26)
		return 0x94000000 | imm, err
	case mir.CondBranch:
		if inst.Tag != mir.BCond {
			break
		}
		imm, err := checkDisp(inst, disp, 19)
		return 0x54000000 | imm<<5 | uint32(d.Cond), err
	case mir.CompareBranch:
		if inst.Tag != mir.Cbz && inst.Tag != mir.Cbnz {
			break
		}
		if err := gpSame(inst, d.Rt); err != nil {
			return 0, err
		}
		imm, err := checkDisp(inst, disp, 19)
		var op uint32
		if inst.Tag == mir.Cbnz {
			op = 1
		}
		return sf(d.Rt)<<31 | 0b011010<<25 | op<<24 | imm<<5 | rn(d.Rt), err
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

func branchRegister(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.R)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if !isGP(d.Rn) || !d.Rn.Is64() || d.Rn.IsSP() || d.Rn.IsZero() {
		return 0, invalidOps(inst, "%s is not a branch register", d.Rn)
	}
	base := uint32(0xd61f0000)
	switch inst.Tag {
	case mir.Blr:
		base = 0xd63f0000
	case mir.Ret:
		base = 0xd65f0000
	}
	return base | rn(d.Rn)<<5, nil
}

// --- system ---

func system(inst mir.Inst) (uint32, error) {
	switch d := inst.Data.(type) {
	case mir.NoData:
		switch inst.Tag {
		case mir.Nop:
			return 0xd503201f, nil
		case mir.Isb:
			return 0xd5033fdf, nil
		}
	case mir.Imm16:
		if inst.Tag == mir.Brk {
			return 0xd4200000 | uint32(d.Imm)<<5, nil
		}
	case mir.Barrier:
		if d.Option > 0xf {
			return 0, invalidImm(inst, "barrier option %d", d.Option)
		}
		switch inst.Tag {
		case mir.Dmb:
			return 0xd50330bf | uint32(d.Option)<<8, nil
		case mir.Dsb:
			return 0xd503309f | uint32(d.Option)<<8, nil
		}
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

// --- loads and stores ---

type access struct {
	size, opc, v uint32
	scale        uint
}

func accessOf(inst mir.Inst, rt a64.Register) (access, error) {
	load := inst.Tag != mir.Str && inst.Tag != mir.Strb && inst.Tag != mir.Strh
	var ldOpc uint32
	if load {
		ldOpc = 0b01
	}
	switch inst.Tag {
	case mir.Ldr, mir.Str:
		if isGP(rt) {
			if rt.IsSP() {
				return access{}, invalidOps(inst, "sp cannot be transferred")
			}
			if rt.Is64() {
				return access{size: 3, opc: ldOpc, scale: 3}, nil
			}
			return access{size: 2, opc: ldOpc, scale: 2}, nil
		}
		switch rt.Size() {
		case 128:
			return access{size: 0, opc: 0b10 | ldOpc, v: 1, scale: 4}, nil
		case 64:
			return access{size: 3, opc: ldOpc, v: 1, scale: 3}, nil
		case 32:
			return access{size: 2, opc: ldOpc, v: 1, scale: 2}, nil
		case 16:
			return access{size: 1, opc: ldOpc, v: 1, scale: 1}, nil
		}
		return access{size: 0, opc: ldOpc, v: 1}, nil
	}

	if !isGP(rt) || rt.IsSP() {
		return access{}, invalidOps(inst, "%s is not a general-purpose register", rt)
	}
	switch inst.Tag {
	case mir.Ldrb, mir.Strb, mir.Ldrh, mir.Strh:
		if rt.Is64() {
			return access{}, invalidOps(inst, "narrow access takes a w register")
		}
		if inst.Tag == mir.Ldrb || inst.Tag == mir.Strb {
			return access{size: 0, opc: ldOpc}, nil
		}
		return access{size: 1, opc: ldOpc, scale: 1}, nil
	case mir.Ldrsb, mir.Ldrsh:
		opc := uint32(0b11)
		if rt.Is64() {
			opc = 0b10
		}
		if inst.Tag == mir.Ldrsb {
			return access{size: 0, opc: opc}, nil
		}
		return access{size: 1, opc: opc, scale: 1}, nil
	case mir.Ldrsw:
		if !rt.Is64() {
			return access{}, invalidOps(inst, "ldrsw takes an x register")
		}
		return access{size: 2, opc: 0b10, scale: 2}, nil
	}
	return access{}, invalidOps(inst, "not a load or store")
}

func (a access) word() uint32 {
	return a.size<<30 | 0b111<<27 | a.v<<26 | a.opc<<22
}

func imm9(inst mir.Inst, off int32) (uint32, error) {
	if off < -256 || off > 255 {
		return 0, invalidImm(inst, "offset %d does not fit 9 bits", off)
	}
	return uint32(off) & 0x1ff, nil
}

// FitsUnsignedOffset reports whether off can be encoded directly by a load
// or store of 1<<scale bytes.
func FitsUnsignedOffset(off int64, scale uint) bool {
	if off >= -256 && off <= 255 {
		return true
	}
	return off >= 0 && off&(1<<scale-1) == 0 && off>>scale <= 0xfff
}

func loadStore(inst mir.Inst) (uint32, error) {
	switch d := inst.Data.(type) {
	case mir.LoadStore:
		if err := baseReg(inst, d.Rn); err != nil {
			return 0, err
		}
		a, err := accessOf(inst, d.Rt)
		if err != nil {
			return 0, err
		}
		base := a.word() | rn(d.Rn)<<5 | rn(d.Rt)
		switch d.Mode {
		case mir.AddrOffset:
			off := d.Offset
			if off >= 0 && off&(1<<a.scale-1) == 0 && off>>a.scale <= 0xfff {
				return base | 1<<24 | uint32(off>>a.scale)<<10, nil
			}
			imm, err := imm9(inst, off)
			return base | imm<<12, err
		case mir.AddrPreIndex, mir.AddrPostIndex:
			if d.Rt.ID() == d.Rn.ID() && isGP(d.Rt) {
				return 0, invalidOps(inst, "writeback base %s is also transferred", d.Rn)
			}
			imm, err := imm9(inst, d.Offset)
			mode := uint32(0b11)
			if d.Mode == mir.AddrPostIndex {
				mode = 0b01
			}
			return base | imm<<12 | mode<<10, err
		}
	case mir.LoadStoreRegister:
		if err := baseReg(inst, d.Rn); err != nil {
			return 0, err
		}
		a, err := accessOf(inst, d.Rt)
		if err != nil {
			return 0, err
		}
		if !isGP(d.Rm) || d.Rm.IsSP() {
			return 0, invalidOps(inst, "%s cannot be an index", d.Rm)
		}
		switch d.Extend {
		case mir.ExtUXTW, mir.ExtSXTW:
			if d.Rm.Is64() {
				return 0, invalidOps(inst, "%s extend takes a w index", d.Extend)
			}
		case mir.ExtUXTX, mir.ExtSXTX:
			if !d.Rm.Is64() {
				return 0, invalidOps(inst, "%s extend takes an x index", d.Extend)
			}
		default:
			return 0, invalidOps(inst, "extend %s not allowed for addressing", d.Extend)
		}
		var s uint32
		if d.Scaled {
			s = 1
		}
		return a.word() | 1<<21 | rn(d.Rm)<<16 | uint32(d.Extend)<<13 | s<<12 | 0b10<<10 | rn(d.Rn)<<5 | rn(d.Rt), nil
	}
	return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
}

func loadStorePair(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.LoadStorePair)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if err := baseReg(inst, d.Rn); err != nil {
		return 0, err
	}
	if d.Rt.Class() != d.Rt2.Class() || d.Rt.Size() != d.Rt2.Size() {
		return 0, invalidOps(inst, "pair %s, %s differ in width", d.Rt, d.Rt2)
	}
	var opc, v uint32
	var scale uint
	if isGP(d.Rt) {
		if d.Rt.IsSP() || d.Rt2.IsSP() {
			return 0, invalidOps(inst, "sp cannot be transferred")
		}
		if d.Rt.Is64() {
			opc, scale = 0b10, 3
		} else {
			scale = 2
		}
		if d.Mode != mir.AddrOffset && (d.Rt.ID() == d.Rn.ID() || d.Rt2.ID() == d.Rn.ID()) {
			return 0, invalidOps(inst, "writeback base %s is also transferred", d.Rn)
		}
	} else {
		v = 1
		switch d.Rt.Size() {
		case 32:
			opc, scale = 0b00, 2
		case 64:
			opc, scale = 0b01, 3
		case 128:
			opc, scale = 0b10, 4
		default:
			return 0, invalidOps(inst, "%s cannot be paired", d.Rt)
		}
	}
	if inst.Tag == mir.Ldp && d.Rt.ID() == d.Rt2.ID() {
		return 0, invalidOps(inst, "ldp loads %s twice", d.Rt)
	}
	if d.Offset&(1<<scale-1) != 0 {
		return 0, invalidImm(inst, "offset %d is not a multiple of %d", d.Offset, 1<<scale)
	}
	scaled := d.Offset >> scale
	if scaled < -64 || scaled > 63 {
		return 0, invalidImm(inst, "offset %d does not fit 7 bits", d.Offset)
	}
	mode := uint32(0b010)
	switch d.Mode {
	case mir.AddrPreIndex:
		mode = 0b011
	case mir.AddrPostIndex:
		mode = 0b001
	}
	var l uint32
	if inst.Tag == mir.Ldp {
		l = 1
	}
	return opc<<30 | 0b101<<27 | v<<26 | mode<<23 | l<<22 | (uint32(scaled)&0x7f)<<15 |
		rn(d.Rt2)<<10 | rn(d.Rn)<<5 | rn(d.Rt), nil
}

func sizeField(inst mir.Inst, bytes uint8) (uint32, error) {
	switch bytes {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, invalidOps(inst, "access size %d", bytes)
}

func exclusive(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.Exclusive)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	size, err := sizeField(inst, d.Size)
	if err != nil {
		return 0, err
	}
	if err := baseReg(inst, d.Rn); err != nil {
		return 0, err
	}
	if !isGP(d.Rt) || d.Rt.IsSP() {
		return 0, invalidOps(inst, "%s is not a general-purpose register", d.Rt)
	}
	var o2, l, o0 uint32
	rs := uint32(31)
	switch inst.Tag {
	case mir.Ldxr:
		l = 1
	case mir.Ldaxr:
		l, o0 = 1, 1
	case mir.Stxr, mir.Stlxr:
		if !isGP(d.Rs) || d.Rs.IsSP() || d.Rs.ID() == d.Rt.ID() || d.Rs.ID() == d.Rn.ID() {
			return 0, invalidOps(inst, "bad status register %s", d.Rs)
		}
		rs = rn(d.Rs)
		if inst.Tag == mir.Stlxr {
			o0 = 1
		}
	case mir.Ldar:
		o2, l, o0 = 1, 1, 1
	case mir.Stlr:
		o2, o0 = 1, 1
	}
	return size<<30 | 0b001000<<24 | o2<<23 | l<<22 | rs<<16 | o0<<15 | 0x1f<<10 | rn(d.Rn)<<5 | rn(d.Rt), nil
}

func atomic(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.Atomic)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	size, err := sizeField(inst, d.Size)
	if err != nil {
		return 0, err
	}
	if err := baseReg(inst, d.Rn); err != nil {
		return 0, err
	}
	for _, r := range []a64.Register{d.Rs, d.Rt} {
		if !isGP(r) || r.IsSP() {
			return 0, invalidOps(inst, "%s is not a general-purpose register", r)
		}
	}
	var acq, rel uint32
	if d.Acquire {
		acq = 1
	}
	if d.Release {
		rel = 1
	}
	if inst.Tag == mir.Cas {
		return size<<30 | 0b001000<<24 | 1<<23 | acq<<22 | 1<<21 | rn(d.Rs)<<16 | rel<<15 | 0x1f<<10 |
			rn(d.Rn)<<5 | rn(d.Rt), nil
	}
	var o3, opc uint32
	switch inst.Tag {
	case mir.Swp:
		o3 = 1
	case mir.Ldclr:
		opc = 1
	case mir.Ldeor:
		opc = 2
	case mir.Ldset:
		opc = 3
	case mir.Ldsmax:
		opc = 4
	case mir.Ldsmin:
		opc = 5
	case mir.Ldumax:
		opc = 6
	case mir.Ldumin:
		opc = 7
	}
	return size<<30 | 0b111<<27 | acq<<23 | rel<<22 | 1<<21 | rn(d.Rs)<<16 | o3<<15 | opc<<12 |
		rn(d.Rn)<<5 | rn(d.Rt), nil
}

// --- floating point ---

func ftype(inst mir.Inst, r a64.Register) (uint32, error) {
	if isGP(r) {
		return 0, invalidOps(inst, "%s is not a floating-point register", r)
	}
	switch r.Size() {
	case 32:
		return 0b00, nil
	case 64:
		return 0b01, nil
	case 16:
		return 0b11, nil
	}
	return 0, invalidOps(inst, "%s is not a scalar float register", r)
}

func sameFloat(inst mir.Inst, regs ...a64.Register) (uint32, error) {
	ft, err := ftype(inst, regs[0])
	if err != nil {
		return 0, err
	}
	for _, r := range regs[1:] {
		if isGP(r) || r.Size() != regs[0].Size() {
			return 0, invalidOps(inst, "mixed float widths %s and %s", regs[0], r)
		}
	}
	return ft, nil
}

func float2(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RRR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	ft, err := sameFloat(inst, d.Rd, d.Rn, d.Rm)
	if err != nil {
		return 0, err
	}
	var opc uint32
	switch inst.Tag {
	case mir.Fdiv:
		opc = 1
	case mir.Fadd:
		opc = 2
	case mir.Fsub:
		opc = 3
	case mir.Fmax:
		opc = 4
	case mir.Fmin:
		opc = 5
	}
	return 0x1e200800 | ft<<22 | rn(d.Rm)<<16 | opc<<12 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func float1(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	if inst.Tag == mir.Fcvt {
		src, err := ftype(inst, d.Rn)
		if err != nil {
			return 0, err
		}
		var opc uint32
		switch d.Rd.Size() {
		case 32:
			opc = 4
		case 64:
			opc = 5
		case 16:
			opc = 7
		default:
			return 0, invalidOps(inst, "%s is not a scalar float register", d.Rd)
		}
		if isGP(d.Rd) || d.Rd.Size() == d.Rn.Size() {
			return 0, invalidOps(inst, "cannot convert %s to %s", d.Rn, d.Rd)
		}
		return 0x1e204000 | src<<22 | opc<<15 | rn(d.Rn)<<5 | rn(d.Rd), nil
	}
	ft, err := sameFloat(inst, d.Rd, d.Rn)
	if err != nil {
		return 0, err
	}
	opc := uint32(2)
	switch inst.Tag {
	case mir.Fabs:
		opc = 1
	case mir.Fsqrt:
		opc = 3
	}
	return 0x1e204000 | ft<<22 | opc<<15 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func gpFloatMove(inst mir.Inst, gp, fp a64.Register, opc uint32, rd, rnReg a64.Register) (uint32, error) {
	if gp.IsSP() {
		return 0, invalidOps(inst, "sp cannot be moved to a float register")
	}
	ft, err := ftype(inst, fp)
	if err != nil {
		return 0, err
	}
	if (fp.Size() == 64) != gp.Is64() && fp.Size() != 16 {
		return 0, invalidOps(inst, "width mismatch between %s and %s", rd, rnReg)
	}
	return sf(gp)<<31 | 0x1e200000 | ft<<22 | opc<<16 | rn(rnReg)<<5 | rn(rd), nil
}

func fmov(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	switch {
	case isGP(d.Rd) && !isGP(d.Rn):
		return gpFloatMove(inst, d.Rd, d.Rn, 0b110, d.Rd, d.Rn)
	case !isGP(d.Rd) && isGP(d.Rn):
		return gpFloatMove(inst, d.Rn, d.Rd, 0b111, d.Rd, d.Rn)
	case isGP(d.Rd) && isGP(d.Rn):
		return 0, invalidOps(inst, "fmov needs a float register")
	}
	ft, err := sameFloat(inst, d.Rd, d.Rn)
	if err != nil {
		return 0, err
	}
	return 0x1e204000 | ft<<22 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func floatConvert(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	var gp, fp a64.Register
	var rmode, opc uint32
	switch inst.Tag {
	case mir.Scvtf, mir.Ucvtf:
		gp, fp = d.Rn, d.Rd
		opc = 0b010
		if inst.Tag == mir.Ucvtf {
			opc = 0b011
		}
	default:
		gp, fp = d.Rd, d.Rn
		rmode = 0b11
		if inst.Tag == mir.Fcvtzu {
			opc = 0b001
		}
	}
	if !isGP(gp) || gp.IsSP() {
		return 0, invalidOps(inst, "%s is not a general-purpose register", gp)
	}
	ft, err := ftype(inst, fp)
	if err != nil {
		return 0, err
	}
	return sf(gp)<<31 | 0x1e200000 | ft<<22 | rmode<<19 | opc<<16 | rn(d.Rn)<<5 | rn(d.Rd), nil
}

func fcmp(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RR)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	ft, err := sameFloat(inst, d.Rd, d.Rn)
	if err != nil {
		return 0, err
	}
	return 0x1e202000 | ft<<22 | rn(d.Rn)<<16 | rn(d.Rd)<<5, nil
}

func fcsel(inst mir.Inst) (uint32, error) {
	d, ok := inst.Data.(mir.RRRCond)
	if !ok {
		return 0, invalidOps(inst, "unsupported shape %s", inst.Ops)
	}
	ft, err := sameFloat(inst, d.Rd, d.Rn, d.Rm)
	if err != nil {
		return 0, err
	}
	return 0x1e200c00 | ft<<22 | rn(d.Rm)<<16 | uint32(d.Cond)<<12 | rn(d.Rn)<<5 | rn(d.Rd), nil
}
