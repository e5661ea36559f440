// Package mcv defines where a value computed by the instruction selector
// currently lives. It is pure data.
package mcv

import (
	"fmt"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/frame"
)

// Kind selects the active variant of an MCValue
type Kind uint8

const (
	None Kind = iota // no runtime bits
	Unreach          // control never observes the value
	Dead             // last use has passed
	Undef
	Immediate
	Register
	RegisterPair
	Memory
	LoadFrame      // value stored in a frame slot
	FrameAddr      // address of a frame slot
	RegisterOffset // register plus constant displacement
	SymbolAddr     // address of a linker symbol plus displacement
)

var kindNames = [...]string{"none", "unreach", "dead", "undef", "immediate", "register",
	"register_pair", "memory", "load_frame", "frame_addr", "register_offset", "symbol_addr"}

func (k Kind) String() string { return kindNames[k] }

// AddrKind selects the form of an Address
type AddrKind uint8

const (
	AddrBase     AddrKind = iota // [Base + Disp]
	AddrSymbol                   // Symbol + Disp, resolved by the linker
	AddrAbsolute                 // fixed numeric address + Disp
)

// Address describes a memory location that is not a frame slot
type Address struct {
	Kind   AddrKind
	Base   a64.Register
	Symbol string
	Abs    uint64
	Disp   int64
}

// Offset returns the address moved by n bytes
func (a Address) Offset(n int64) Address {
	a.Disp += n
	return a
}

func (a Address) String() string {
	switch a.Kind {
	case AddrSymbol:
		if a.Disp != 0 {
			return fmt.Sprintf("%s%+d", a.Symbol, a.Disp)
		}
		return a.Symbol
	case AddrAbsolute:
		return fmt.Sprintf("%#x", a.Abs+uint64(a.Disp))
	}
	return fmt.Sprintf("[%s, #%d]", a.Base, a.Disp)
}

// MCValue is a tagged location. Only the fields belonging to Kind are
// meaningful.
type MCValue struct {
	Kind  Kind
	Imm   uint64
	Regs  [2]a64.Register
	Frame frame.Index
	Off   int64
	Addr  Address
	Gen   uint32
}

func NoneValue() MCValue    { return MCValue{Kind: None} }
func UnreachValue() MCValue { return MCValue{Kind: Unreach} }
func UndefValue() MCValue   { return MCValue{Kind: Undef} }

// DeadValue marks a value whose lifetime ended in generation gen
func DeadValue(gen uint32) MCValue { return MCValue{Kind: Dead, Gen: gen} }

// Imm is an immediate value
func Imm(v uint64) MCValue { return MCValue{Kind: Immediate, Imm: v} }

// Reg is a value held in one register
func Reg(r a64.Register) MCValue { return MCValue{Kind: Register, Regs: [2]a64.Register{r}} }

// Pair is a value split across two registers, low word first
func Pair(lo, hi a64.Register) MCValue {
	return MCValue{Kind: RegisterPair, Regs: [2]a64.Register{lo, hi}}
}

// Mem is a value stored at addr
func Mem(addr Address) MCValue { return MCValue{Kind: Memory, Addr: addr} }

// BaseMem is a value stored at [base + disp]
func BaseMem(base a64.Register, disp int64) MCValue {
	return Mem(Address{Kind: AddrBase, Base: base, Disp: disp})
}

// Frame is a value stored in a frame slot
func Frame(idx frame.Index, off int64) MCValue {
	return MCValue{Kind: LoadFrame, Frame: idx, Off: off}
}

// FrameAddress is the address of a frame slot
func FrameAddress(idx frame.Index, off int64) MCValue {
	return MCValue{Kind: FrameAddr, Frame: idx, Off: off}
}

// RegOffset is the value reg + off
func RegOffset(r a64.Register, off int64) MCValue {
	return MCValue{Kind: RegisterOffset, Regs: [2]a64.Register{r}, Off: off}
}

// Symbol is the address of a linker symbol plus off
func Symbol(name string, off int64) MCValue {
	return MCValue{Kind: SymbolAddr, Addr: Address{Kind: AddrSymbol, Symbol: name}, Off: off}
}

// Reg returns the single register of a Register value
func (v MCValue) Reg() a64.Register { return v.Regs[0] }

// Registers lists the registers this value occupies
func (v MCValue) Registers() []a64.Register {
	switch v.Kind {
	case Register, RegisterOffset:
		return v.Regs[:1]
	case RegisterPair:
		return v.Regs[:]
	case Memory:
		if v.Addr.Kind == AddrBase {
			return []a64.Register{v.Addr.Base}
		}
	}
	return nil
}

// IsRegister reports whether the value lives in one or two registers
func (v MCValue) IsRegister() bool { return v.Kind == Register || v.Kind == RegisterPair }

// IsMemory reports whether the value must be read from memory
func (v MCValue) IsMemory() bool { return v.Kind == Memory || v.Kind == LoadFrame }

// HasBits reports whether the value is observable at runtime
func (v MCValue) HasBits() bool {
	switch v.Kind {
	case None, Unreach, Dead:
		return false
	}
	return true
}

// Offset moves a memory, frame or register-offset location by n bytes
func (v MCValue) Offset(n int64) MCValue {
	switch v.Kind {
	case Memory:
		v.Addr = v.Addr.Offset(n)
	case LoadFrame, FrameAddr, RegisterOffset, SymbolAddr:
		v.Off += n
	case Immediate:
		v.Imm += uint64(n)
	default:
		panic(fmt.Sprintf("mcv: cannot offset %s", v.Kind))
	}
	return v
}

// Deref returns the location a pointer value points at, when that location
// can be described without emitting code.
func (v MCValue) Deref() (MCValue, bool) {
	switch v.Kind {
	case FrameAddr:
		return Frame(v.Frame, v.Off), true
	case Register:
		return BaseMem(v.Reg(), 0), true
	case RegisterOffset:
		return BaseMem(v.Reg(), v.Off), true
	case Immediate:
		return Mem(Address{Kind: AddrAbsolute, Abs: v.Imm}), true
	case SymbolAddr:
		return Mem(v.Addr.Offset(v.Off)), true
	}
	return MCValue{}, false
}

func (v MCValue) String() string {
	switch v.Kind {
	case Dead:
		return fmt.Sprintf("dead(%d)", v.Gen)
	case Immediate:
		return fmt.Sprintf("imm(%#x)", v.Imm)
	case Register:
		return v.Reg().String()
	case RegisterPair:
		return fmt.Sprintf("{%s, %s}", v.Regs[0], v.Regs[1])
	case Memory:
		return "mem" + v.Addr.String()
	case LoadFrame:
		return fmt.Sprintf("frame(%d)%+d", v.Frame, v.Off)
	case FrameAddr:
		return fmt.Sprintf("&frame(%d)%+d", v.Frame, v.Off)
	case RegisterOffset:
		return fmt.Sprintf("%s%+d", v.Reg(), v.Off)
	case SymbolAddr:
		return fmt.Sprintf("&%s%+d", v.Addr.Symbol, v.Off)
	}
	return v.Kind.String()
}
