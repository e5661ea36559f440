package mir

import (
	"fmt"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/frame"
)

// Ops names the operand shape of an instruction
type Ops uint8

const (
	OpsNone Ops = iota
	OpsR
	OpsRR
	OpsRRR
	OpsRRRR
	OpsRImm12
	OpsRRImm12
	OpsRRBitmask
	OpsRRShifted
	OpsRRExtend
	OpsRRImm6
	OpsRImm16
	OpsRRBitfield
	OpsRCond
	OpsRRRCond
	OpsLoadStore
	OpsLoadStoreRegister
	OpsLoadStorePair
	OpsExclusive
	OpsAtomic
	OpsBranch
	OpsCondBranch
	OpsCompareBranch
	OpsCall
	OpsBarrier
	OpsImm16
	OpsFrame
	OpsRegList
	OpsDbgLine
	OpsRaw
	OpsSymbol
)

var opsNames = [...]string{
	"none", "r", "rr", "rrr", "rrrr", "r_imm12", "rr_imm12", "rr_bitmask", "rr_shifted", "rr_extend",
	"rr_imm6", "r_imm16", "rr_bitfield", "r_cond", "rrr_cond", "load_store", "load_store_register",
	"load_store_pair", "exclusive", "atomic", "branch", "cond_branch", "compare_branch", "call",
	"barrier", "imm16", "frame", "reg_list", "dbg_line", "raw", "symbol",
}

func (o Ops) String() string { return opsNames[o] }

// PlaceholderTarget marks a branch whose destination is not known yet
const PlaceholderTarget = ^uint32(0)

// Data is an operand payload. Its Ops must match the instruction's.
type Data interface {
	Ops() Ops
}

// ShiftType selects the shift applied to a register operand
type ShiftType uint8

const (
	ShiftLSL ShiftType = iota
	ShiftLSR
	ShiftASR
	ShiftROR
)

func (s ShiftType) String() string { return [...]string{"lsl", "lsr", "asr", "ror"}[s] }

// Extend selects the extension applied to a register operand
type Extend uint8

const (
	ExtUXTB Extend = iota
	ExtUXTH
	ExtUXTW
	ExtUXTX
	ExtSXTB
	ExtSXTH
	ExtSXTW
	ExtSXTX
)

func (e Extend) String() string {
	return [...]string{"uxtb", "uxth", "uxtw", "uxtx", "sxtb", "sxth", "sxtw", "sxtx"}[e]
}

// AddrMode selects offset, pre-index or post-index addressing
type AddrMode uint8

const (
	AddrOffset AddrMode = iota
	AddrPreIndex
	AddrPostIndex
)

// BarrierOption is the domain/type field of dmb and dsb
type BarrierOption uint8

const (
	BarrierISHLD BarrierOption = 0b1001
	BarrierISH   BarrierOption = 0b1011
	BarrierSY    BarrierOption = 0b1111
)

func (b BarrierOption) String() string {
	switch b {
	case BarrierISHLD:
		return "ishld"
	case BarrierISH:
		return "ish"
	case BarrierSY:
		return "sy"
	}
	return fmt.Sprintf("#%d", uint8(b))
}

// NoData carries nothing (nop, isb, markers)
type NoData struct{}

// R carries one register (br, blr, ret)
type R struct {
	Rn a64.Register
}

// RR carries a destination and a source. For fcmp Rd is the left operand.
type RR struct {
	Rd, Rn a64.Register
}

// RRR carries a destination and two sources
type RRR struct {
	Rd, Rn, Rm a64.Register
}

// RRRR carries a destination, two multiplicands and an addend
type RRRR struct {
	Rd, Rn, Rm, Ra a64.Register
}

// RImm12 compares a register with an immediate (cmp/cmn via subs/adds)
type RImm12 struct {
	Rn      a64.Register
	Imm     uint16
	Shift12 bool
}

// RRImm12 is the add/sub immediate form
type RRImm12 struct {
	Rd, Rn  a64.Register
	Imm     uint16
	Shift12 bool
}

// RRBitmask is the logical immediate form; Imm must be a valid bitmask
type RRBitmask struct {
	Rd, Rn a64.Register
	Imm    uint64
}

// RRShifted is a register operand with an optional shift
type RRShifted struct {
	Rd, Rn, Rm a64.Register
	Shift      ShiftType
	Amount     uint8
}

// RRExtend is a register operand with an extension and left shift of 0-4
type RRExtend struct {
	Rd, Rn, Rm a64.Register
	Extend     Extend
	Amount     uint8
}

// RRImm6 is a shift by a constant amount
type RRImm6 struct {
	Rd, Rn a64.Register
	Amount uint8
}

// RImm16 is a move-wide immediate; Hw selects the 16-bit lane
type RImm16 struct {
	Rd  a64.Register
	Imm uint16
	Hw  uint8
}

// RRBitfield is the raw ubfm/sbfm/bfm form
type RRBitfield struct {
	Rd, Rn     a64.Register
	Immr, Imms uint8
}

// RCond materializes a condition (cset, csetm)
type RCond struct {
	Rd   a64.Register
	Cond a64.Condition
}

// RRRCond is the conditional select family
type RRRCond struct {
	Rd, Rn, Rm a64.Register
	Cond       a64.Condition
}

// LoadStore is a base register plus immediate access. The access width is
// taken from Rt for ldr/str and from the tag otherwise.
type LoadStore struct {
	Rt, Rn a64.Register
	Offset int32
	Mode   AddrMode
}

// LoadStoreRegister is a base plus index register access
type LoadStoreRegister struct {
	Rt, Rn, Rm a64.Register
	Extend     Extend
	Scaled     bool
}

// LoadStorePair accesses two registers at consecutive addresses
type LoadStorePair struct {
	Rt, Rt2, Rn a64.Register
	Offset      int32
	Mode        AddrMode
}

// Exclusive is a load-exclusive, store-exclusive or ordered access. Rs
// receives the store status; Size is the access width in bytes.
type Exclusive struct {
	Rs, Rt, Rn a64.Register
	Size       uint8
}

// Atomic is an LSE read-modify-write or compare-and-swap
type Atomic struct {
	Rs, Rt, Rn       a64.Register
	Acquire, Release bool
	Size             uint8
}

// Branch jumps to an instruction index
type Branch struct {
	Target uint32
}

// CondBranch jumps when Cond holds
type CondBranch struct {
	Cond   a64.Condition
	Target uint32
}

// CompareBranch jumps when Rt is (cbz) or is not (cbnz) zero
type CompareBranch struct {
	Rt     a64.Register
	Target uint32
}

// Call is a direct call to a symbol resolved by the linker
type Call struct {
	Symbol string
}

// Barrier is a dmb or dsb option
type Barrier struct {
	Option BarrierOption
}

// Imm16 is the immediate of brk
type Imm16 struct {
	Imm uint16
}

// FrameRef addresses a frame slot before the layout is final
type FrameRef struct {
	Reg    a64.Register
	Frame  frame.Index
	Off    int32
	Size   uint8
	Signed bool
}

// RegList names callee-saved registers to push or pop
type RegList struct {
	Regs []a64.Register
}

// DbgLineData marks a source position
type DbgLineData struct {
	Line, Column uint32
}

// RawWord is an already encoded instruction
type RawWord struct {
	Word uint32
}

// Symbol loads the address of a symbol plus offset into Rd
type Symbol struct {
	Rd     a64.Register
	Name   string
	Offset int64
}

func (NoData) Ops() Ops            { return OpsNone }
func (R) Ops() Ops                 { return OpsR }
func (RR) Ops() Ops                { return OpsRR }
func (RRR) Ops() Ops               { return OpsRRR }
func (RRRR) Ops() Ops              { return OpsRRRR }
func (RImm12) Ops() Ops            { return OpsRImm12 }
func (RRImm12) Ops() Ops           { return OpsRRImm12 }
func (RRBitmask) Ops() Ops         { return OpsRRBitmask }
func (RRShifted) Ops() Ops         { return OpsRRShifted }
func (RRExtend) Ops() Ops          { return OpsRRExtend }
func (RRImm6) Ops() Ops            { return OpsRRImm6 }
func (RImm16) Ops() Ops            { return OpsRImm16 }
func (RRBitfield) Ops() Ops        { return OpsRRBitfield }
func (RCond) Ops() Ops             { return OpsRCond }
func (RRRCond) Ops() Ops           { return OpsRRRCond }
func (LoadStore) Ops() Ops         { return OpsLoadStore }
func (LoadStoreRegister) Ops() Ops { return OpsLoadStoreRegister }
func (LoadStorePair) Ops() Ops     { return OpsLoadStorePair }
func (Exclusive) Ops() Ops         { return OpsExclusive }
func (Atomic) Ops() Ops            { return OpsAtomic }
func (Branch) Ops() Ops            { return OpsBranch }
func (CondBranch) Ops() Ops        { return OpsCondBranch }
func (CompareBranch) Ops() Ops     { return OpsCompareBranch }
func (Call) Ops() Ops              { return OpsCall }
func (Barrier) Ops() Ops           { return OpsBarrier }
func (Imm16) Ops() Ops             { return OpsImm16 }
func (FrameRef) Ops() Ops          { return OpsFrame }
func (RegList) Ops() Ops           { return OpsRegList }
func (DbgLineData) Ops() Ops       { return OpsDbgLine }
func (RawWord) Ops() Ops           { return OpsRaw }
func (Symbol) Ops() Ops            { return OpsSymbol }

// Inst is one machine instruction
type Inst struct {
	Tag  Tag
	Ops  Ops
	Data Data
}

// New builds an instruction whose shape matches its payload
func New(tag Tag, data Data) Inst {
	return Inst{Tag: tag, Ops: data.Ops(), Data: data}
}

// Target returns the branch target of a branch instruction
func (i Inst) Target() (uint32, bool) {
	switch d := i.Data.(type) {
	case Branch:
		return d.Target, true
	case CondBranch:
		return d.Target, true
	case CompareBranch:
		return d.Target, true
	}
	return 0, false
}

// WithTarget returns a copy of a branch instruction pointing at target
func (i Inst) WithTarget(target uint32) Inst {
	switch d := i.Data.(type) {
	case Branch:
		d.Target = target
		i.Data = d
	case CondBranch:
		d.Target = target
		i.Data = d
	case CompareBranch:
		d.Target = target
		i.Data = d
	default:
		panic("mir: " + i.Tag.String() + " has no branch target")
	}
	return i
}
