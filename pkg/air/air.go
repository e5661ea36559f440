// Package air defines the typed, architecture-independent instruction
// stream consumed by the ARM64 back end, together with its liveness
// analysis. Bodies are structured: blocks, loops and branches own nested
// instruction lists instead of jumping to labels.
package air

import (
	"fmt"

	"github.com/raymyers/ralph-a64/pkg/types"
)

// Index identifies an instruction within its function
type Index uint32

// Ref is an operand: either an instruction result or a constant
type Ref uint32

const constBit Ref = 1 << 31

// NoRef is the absent operand (void return, break without value)
const NoRef Ref = ^Ref(0)

// InstRef refers to the result of instruction i
func InstRef(i Index) Ref { return Ref(i) }

// ConstRef refers to constant i of the function's constant table
func ConstRef(i int) Ref { return Ref(i) | constBit }

// IsNone reports whether r is NoRef
func (r Ref) IsNone() bool { return r == NoRef }

// IsConst reports whether r names a constant
func (r Ref) IsConst() bool { return r != NoRef && r&constBit != 0 }

// IsInst reports whether r names an instruction result
func (r Ref) IsInst() bool { return r != NoRef && r&constBit == 0 }

// Index returns the instruction index of an instruction ref
func (r Ref) Index() Index { return Index(r) }

// ConstIndex returns the constant table index of a constant ref
func (r Ref) ConstIndex() int { return int(r &^ constBit) }

func (r Ref) String() string {
	switch {
	case r.IsNone():
		return "none"
	case r.IsConst():
		return fmt.Sprintf("c%d", r.ConstIndex())
	}
	return fmt.Sprintf("%%%d", r.Index())
}

// Ordering is an atomic memory ordering
type Ordering uint8

const (
	Unordered Ordering = iota
	Monotonic
	Acquire
	Release
	AcqRel
	SeqCst
)

var orderingNames = [...]string{"unordered", "monotonic", "acquire", "release", "acq_rel", "seq_cst"}

func (o Ordering) String() string { return orderingNames[o] }

// ParseOrdering maps an ordering name back to its value
func ParseOrdering(s string) (Ordering, bool) {
	for i, name := range orderingNames {
		if name == s {
			return Ordering(i), true
		}
	}
	return Unordered, false
}

// RmwOp is the operation of an atomic read-modify-write
type RmwOp uint8

const (
	RmwXchg RmwOp = iota
	RmwAdd
	RmwSub
	RmwAnd
	RmwNand
	RmwOr
	RmwXor
	RmwMax
	RmwMin
)

var rmwNames = [...]string{"xchg", "add", "sub", "and", "nand", "or", "xor", "max", "min"}

func (op RmwOp) String() string { return rmwNames[op] }

// ParseRmwOp maps an operation name back to its value
func ParseRmwOp(s string) (RmwOp, bool) {
	for i, name := range rmwNames {
		if name == s {
			return RmwOp(i), true
		}
	}
	return RmwXchg, false
}

// Data is the payload of an instruction. The concrete type depends on the tag.
type Data interface {
	implData()
}

// NoOp carries nothing (alloc, unreach, trap, ret_addr, ...)
type NoOp struct{}

// BinOp has two operands. For memset/memcpy Lhs is the destination.
type BinOp struct {
	Lhs, Rhs Ref
}

// UnOp has one operand. Casts take their destination type from the instruction.
type UnOp struct {
	Operand Ref
}

// ArgData binds the next incoming parameter
type ArgData struct {
	Index int
	Name  string
}

// StructField selects a field by position
type StructField struct {
	Operand Ref
	Field   int
}

// BodyData is the nested body of a block or loop
type BodyData struct {
	Body []Index
}

// BrData leaves Block, delivering Operand as its result
type BrData struct {
	Block   Index
	Operand Ref
}

// RepeatData jumps back to the start of Loop
type RepeatData struct {
	Loop Index
}

// CondBrData runs Then when Cond is true and Else otherwise
type CondBrData struct {
	Cond Ref
	Then []Index
	Else []Index
}

// SwitchCase matches any of Items
type SwitchCase struct {
	Items []Ref
	Body  []Index
}

// SwitchData branches on an integer operand
type SwitchData struct {
	Operand Ref
	Cases   []SwitchCase
	Else    []Index
}

// CallData calls Callee, a function constant or a function pointer
type CallData struct {
	Callee Ref
	Args   []Ref
}

// AtomicLoadData reads Ptr with the given ordering
type AtomicLoadData struct {
	Ptr   Ref
	Order Ordering
}

// AtomicStoreData writes Value to Ptr with the given ordering
type AtomicStoreData struct {
	Ptr, Value Ref
	Order      Ordering
}

// AtomicRmwData applies Op to *Ptr and Operand, returning the old value
type AtomicRmwData struct {
	Ptr, Operand Ref
	Op           RmwOp
	Order        Ordering
}

// CmpxchgData stores New if *Ptr equals Expected. The result is an optional
// holding the observed value on failure and null on success.
type CmpxchgData struct {
	Ptr, Expected, New Ref
	Success, Failure   Ordering
	Weak               bool
}

// FenceData is a standalone memory barrier
type FenceData struct {
	Order Ordering
}

// AggregateData initializes a struct or array element-wise
type AggregateData struct {
	Elems []Ref
}

// UnionInitData creates a union with the given active field
type UnionInitData struct {
	Field int
	Init  Ref
}

// DbgStmtData records the source position of the following instructions
type DbgStmtData struct {
	Line, Column uint32
}

// DbgVarData names a local variable
type DbgVarData struct {
	Operand Ref
	Name    string
}

// AsmOutput binds the result of an asm instruction to a register constraint
// such as "={x0}" or "=r".
type AsmOutput struct {
	Name       string
	Constraint string
}

// AsmInput binds an operand to a register constraint such as "{x1}" or "r"
type AsmInput struct {
	Name       string
	Constraint string
	Operand    Ref
}

// AsmData is an inline assembly snippet
type AsmData struct {
	Source   string
	Outputs  []AsmOutput
	Inputs   []AsmInput
	Clobbers []string
	Volatile bool
}

func (NoOp) implData()            {}
func (BinOp) implData()           {}
func (UnOp) implData()            {}
func (ArgData) implData()         {}
func (StructField) implData()     {}
func (BodyData) implData()        {}
func (BrData) implData()          {}
func (RepeatData) implData()      {}
func (CondBrData) implData()      {}
func (SwitchData) implData()      {}
func (CallData) implData()        {}
func (AtomicLoadData) implData()  {}
func (AtomicStoreData) implData() {}
func (AtomicRmwData) implData()   {}
func (CmpxchgData) implData()     {}
func (FenceData) implData()       {}
func (AggregateData) implData()   {}
func (UnionInitData) implData()   {}
func (DbgStmtData) implData()     {}
func (DbgVarData) implData()      {}
func (AsmData) implData()         {}

// Instruction is one entry of a function's instruction table
type Instruction struct {
	Tag  Tag
	Type types.Type
	Data Data
}

// Operands lists the operands of an instruction in a fixed order. Liveness
// death bits are numbered by position in this list.
func (inst Instruction) Operands() []Ref {
	switch d := inst.Data.(type) {
	case BinOp:
		return []Ref{d.Lhs, d.Rhs}
	case UnOp:
		return []Ref{d.Operand}
	case StructField:
		return []Ref{d.Operand}
	case BrData:
		return []Ref{d.Operand}
	case CondBrData:
		return []Ref{d.Cond}
	case SwitchData:
		return []Ref{d.Operand}
	case CallData:
		return append([]Ref{d.Callee}, d.Args...)
	case AtomicLoadData:
		return []Ref{d.Ptr}
	case AtomicStoreData:
		return []Ref{d.Ptr, d.Value}
	case AtomicRmwData:
		return []Ref{d.Ptr, d.Operand}
	case CmpxchgData:
		return []Ref{d.Ptr, d.Expected, d.New}
	case AggregateData:
		return d.Elems
	case UnionInitData:
		return []Ref{d.Init}
	case DbgVarData:
		return []Ref{d.Operand}
	case AsmData:
		refs := make([]Ref, len(d.Inputs))
		for i, in := range d.Inputs {
			refs[i] = in.Operand
		}
		return refs
	}
	return nil
}

// ConstKind selects the form of a Constant
type ConstKind uint8

const (
	ConstInt   ConstKind = iota // integers, bools, error codes and enum tags
	ConstFloat                  // f32 or f64
	ConstUndef                  // any bit pattern
	ConstNav                    // address of a named function or global
	ConstBytes                  // pointer to read-only literal data
	ConstNull                   // null optional or pointer
)

// Constant is a compile-time value
type Constant struct {
	Kind  ConstKind
	Type  types.Type
	Int   uint64 // low 64 bits for ConstInt
	Hi    uint64 // high 64 bits of 128-bit integers
	Float float64
	Name  string
	Bytes []byte
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		if c.Hi != 0 {
			return fmt.Sprintf("%#x%016x", c.Hi, c.Int)
		}
		if types.IsSigned(c.Type) {
			return fmt.Sprint(int64(c.Int))
		}
		return fmt.Sprint(c.Int)
	case ConstFloat:
		return fmt.Sprint(c.Float)
	case ConstUndef:
		return "undef"
	case ConstNav:
		return "@" + c.Name
	case ConstBytes:
		return fmt.Sprintf("%q", c.Bytes)
	}
	return "null"
}

// Function is one function body ready for lowering
type Function struct {
	Name   string
	Type   types.Tfunction
	Insts  []Instruction
	Consts []Constant
	Body   []Index
}

// Inst returns instruction i
func (f *Function) Inst(i Index) Instruction { return f.Insts[i] }

// Const returns the constant behind a constant ref
func (f *Function) Const(r Ref) Constant { return f.Consts[r.ConstIndex()] }

// TypeOf returns the type of an operand
func (f *Function) TypeOf(r Ref) types.Type {
	switch {
	case r.IsNone():
		return types.Void()
	case r.IsConst():
		return f.Consts[r.ConstIndex()].Type
	}
	return f.Insts[r.Index()].Type
}
