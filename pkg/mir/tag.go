package mir

// Tag is a machine instruction opcode. Register widths come from the
// operands, so one tag covers both the 32-bit and 64-bit forms.
type Tag uint8

const (
	// Arithmetic
	Add Tag = iota
	Adds
	Sub
	Subs
	Adc
	Adcs
	Sbc
	Sbcs
	Neg
	Mul
	Madd
	Msub
	Smaddl
	Umaddl
	Smulh
	Umulh
	Sdiv
	Udiv

	// Logical
	And
	Ands
	Orr
	Orn
	Eor
	Bic
	Mvn

	// Shifts and bitfields
	Lsl
	Lsr
	Asr
	Ror
	Ubfm
	Sbfm
	Bfm
	Clz
	Rbit
	Rev
	Rev16
	Rev32

	// Moves
	Mov
	Movz
	Movk
	Movn

	// Conditional
	Csel
	Csinc
	Csinv
	Csneg
	Cset
	Csetm

	// Loads and stores
	Ldr
	Ldrb
	Ldrh
	Ldrsb
	Ldrsh
	Ldrsw
	Str
	Strb
	Strh
	Ldp
	Stp

	// Exclusive and ordered accesses
	Ldxr
	Ldaxr
	Stxr
	Stlxr
	Ldar
	Stlr

	// Large system extension atomics
	Swp
	Ldadd
	Ldclr
	Ldeor
	Ldset
	Ldsmax
	Ldsmin
	Ldumax
	Ldumin
	Cas

	// Branches
	B
	BCond
	Bl
	Br
	Blr
	Ret
	Cbz
	Cbnz

	// System
	Nop
	Brk
	Dmb
	Dsb
	Isb

	// Floating point
	Fadd
	Fsub
	Fmul
	Fdiv
	Fmax
	Fmin
	Fneg
	Fabs
	Fsqrt
	Fmov
	Fcvt
	Scvtf
	Ucvtf
	Fcvtzs
	Fcvtzu
	Fcmp
	Fcsel

	// Raw is a pre-encoded instruction word
	Raw

	// Pseudo instructions, expanded or dropped before encoding
	DbgLine
	DbgPrologueEnd
	DbgEpilogueBegin
	LdrFrame
	StrFrame
	AddrFrame
	PushRegs
	PopRegs
	LoadSymbolAddr

	numTags
)

var tagNames = [numTags]string{
	Add: "add", Adds: "adds", Sub: "sub", Subs: "subs", Adc: "adc", Adcs: "adcs", Sbc: "sbc", Sbcs: "sbcs",
	Neg: "neg", Mul: "mul", Madd: "madd", Msub: "msub", Smaddl: "smaddl", Umaddl: "umaddl",
	Smulh: "smulh", Umulh: "umulh", Sdiv: "sdiv", Udiv: "udiv",

	And: "and", Ands: "ands", Orr: "orr", Orn: "orn", Eor: "eor", Bic: "bic", Mvn: "mvn",

	Lsl: "lsl", Lsr: "lsr", Asr: "asr", Ror: "ror", Ubfm: "ubfm", Sbfm: "sbfm", Bfm: "bfm",
	Clz: "clz", Rbit: "rbit", Rev: "rev", Rev16: "rev16", Rev32: "rev32",

	Mov: "mov", Movz: "movz", Movk: "movk", Movn: "movn",

	Csel: "csel", Csinc: "csinc", Csinv: "csinv", Csneg: "csneg", Cset: "cset", Csetm: "csetm",

	Ldr: "ldr", Ldrb: "ldrb", Ldrh: "ldrh", Ldrsb: "ldrsb", Ldrsh: "ldrsh", Ldrsw: "ldrsw",
	Str: "str", Strb: "strb", Strh: "strh", Ldp: "ldp", Stp: "stp",

	Ldxr: "ldxr", Ldaxr: "ldaxr", Stxr: "stxr", Stlxr: "stlxr", Ldar: "ldar", Stlr: "stlr",

	Swp: "swp", Ldadd: "ldadd", Ldclr: "ldclr", Ldeor: "ldeor", Ldset: "ldset",
	Ldsmax: "ldsmax", Ldsmin: "ldsmin", Ldumax: "ldumax", Ldumin: "ldumin", Cas: "cas",

	B: "b", BCond: "b.cond", Bl: "bl", Br: "br", Blr: "blr", Ret: "ret", Cbz: "cbz", Cbnz: "cbnz",

	Nop: "nop", Brk: "brk", Dmb: "dmb", Dsb: "dsb", Isb: "isb",

	Fadd: "fadd", Fsub: "fsub", Fmul: "fmul", Fdiv: "fdiv", Fmax: "fmax", Fmin: "fmin",
	Fneg: "fneg", Fabs: "fabs", Fsqrt: "fsqrt", Fmov: "fmov", Fcvt: "fcvt",
	Scvtf: "scvtf", Ucvtf: "ucvtf", Fcvtzs: "fcvtzs", Fcvtzu: "fcvtzu", Fcmp: "fcmp", Fcsel: "fcsel",

	Raw: ".inst",

	DbgLine: "dbg_line", DbgPrologueEnd: "dbg_prologue_end", DbgEpilogueBegin: "dbg_epilogue_begin",
	LdrFrame: "ldr_frame", StrFrame: "str_frame", AddrFrame: "addr_frame",
	PushRegs: "push_regs", PopRegs: "pop_regs", LoadSymbolAddr: "load_symbol_addr",
}

func (t Tag) String() string {
	if t < numTags {
		return tagNames[t]
	}
	return "tag(?)"
}

// IsPseudo reports whether t must be expanded or dropped before encoding
func (t Tag) IsPseudo() bool { return t >= DbgLine && t < numTags }

// IsBranch reports whether t carries an instruction-index target
func (t Tag) IsBranch() bool {
	switch t {
	case B, BCond, Cbz, Cbnz:
		return true
	}
	return false
}
