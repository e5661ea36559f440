package abi

import "github.com/raymyers/ralph-a64/pkg/a64"

// Argument and result registers
var (
	IntParamRegs   = []a64.Register{a64.X0, a64.X1, a64.X2, a64.X3, a64.X4, a64.X5, a64.X6, a64.X7}
	FloatParamRegs = []a64.Register{a64.Q0, a64.Q1, a64.Q2, a64.Q3, a64.Q4, a64.Q5, a64.Q6, a64.Q7}
	// IndirectResultReg carries the result address under the C convention
	IndirectResultReg = a64.X8
)

// CalleeSavedRegs are preserved across calls and saved by push_regs
var CalleeSavedRegs = []a64.Register{
	a64.X19, a64.X20, a64.X21, a64.X22, a64.X23,
	a64.X24, a64.X25, a64.X26, a64.X27, a64.X28,
}

// AllocatableRegs lists the registers the instruction selector may hand
// out, in preference order: caller-saved temporaries, callee-saved, then the
// argument registers. x8, x16-x18, x29, x30 and sp are never allocated;
// x16/x17 are scratch for the selector itself.
var AllocatableRegs = []a64.Register{
	a64.X9, a64.X10, a64.X11, a64.X12, a64.X13, a64.X14, a64.X15,
	a64.X19, a64.X20, a64.X21, a64.X22, a64.X23, a64.X24, a64.X25, a64.X26, a64.X27, a64.X28,
	a64.X0, a64.X1, a64.X2, a64.X3, a64.X4, a64.X5, a64.X6, a64.X7,

	a64.Q16, a64.Q17, a64.Q18, a64.Q19, a64.Q20, a64.Q21, a64.Q22, a64.Q23,
	a64.Q24, a64.Q25, a64.Q26, a64.Q27, a64.Q28, a64.Q29, a64.Q30, a64.Q31,
	a64.Q0, a64.Q1, a64.Q2, a64.Q3, a64.Q4, a64.Q5, a64.Q6, a64.Q7,
}

// IsCalleeSaved returns true if the register survives calls
func IsCalleeSaved(reg a64.Register) bool {
	if reg.Class() != a64.GeneralPurpose || reg.IsSP() || reg.IsZero() {
		return false
	}
	n := reg.Num()
	return n >= 19 && n <= 28
}
