// Package mir defines the AArch64 machine IR produced by the instruction
// selector: opcodes, operand shapes, per-function side tables and a GNU
// syntax printer.
package mir

import (
	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/frame"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// Literal is read-only data referenced by the function
type Literal struct {
	Symbol string
	Bytes  []byte
}

// Local describes where a named source variable lives
type Local struct {
	Name  string
	Type  types.Type
	Value mcv.MCValue
}

// Function is the lowered form of one function
type Function struct {
	Name  string
	Insts []Inst
	// Frame is the final slot layout; Frame.Size bytes sit between sp and
	// the saved frame record after the prologue.
	Frame frame.Layout
	// SavedRegs are the callee-saved registers pushed by push_regs
	SavedRegs []a64.Register
	Literals  []Literal
	Locals    []Local
	// Indirections are the external symbols the function references
	Indirections []string
}

// SavedRegsSize is the bytes occupied by the callee-saved register area
func (f *Function) SavedRegsSize() uint32 {
	return uint32(len(f.SavedRegs)+1) / 2 * 16
}
