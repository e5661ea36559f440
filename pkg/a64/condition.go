package a64

// Condition is a 4-bit AArch64 condition code
type Condition uint8

const (
	EQ Condition = iota // equal
	NE                  // not equal
	CS                  // carry set / unsigned higher or same
	CC                  // carry clear / unsigned lower
	MI                  // negative
	PL                  // positive or zero
	VS                  // overflow
	VC                  // no overflow
	HI                  // unsigned higher
	LS                  // unsigned lower or same
	GE                  // signed greater or equal
	LT                  // signed less than
	GT                  // signed greater than
	LE                  // signed less or equal
	AL                  // always
	NV                  // always (reserved encoding)
)

// HS and LO are the unsigned-comparison names for CS and CC
const (
	HS = CS
	LO = CC
)

var conditionNames = [...]string{"eq", "ne", "hs", "lo", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al", "nv"}

func (c Condition) String() string {
	if int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return "?"
}

// Negate returns the condition that holds exactly when c does not
func (c Condition) Negate() Condition {
	if c >= AL {
		return c
	}
	return c ^ 1
}

// CompareOp is a source-level comparison operator
type CompareOp int

const (
	CmpLt CompareOp = iota
	CmpLte
	CmpEq
	CmpGte
	CmpGt
	CmpNeq
)

func (op CompareOp) String() string {
	return [...]string{"lt", "lte", "eq", "gte", "gt", "neq"}[op]
}

// Reverse returns the operator to use when the operands are swapped
func (op CompareOp) Reverse() CompareOp {
	switch op {
	case CmpLt:
		return CmpGt
	case CmpLte:
		return CmpGte
	case CmpGte:
		return CmpLte
	case CmpGt:
		return CmpLt
	}
	return op
}

// ConditionFor maps an integer comparison to the condition code that holds
// after `cmp lhs, rhs`.
func ConditionFor(op CompareOp, signed bool) Condition {
	switch op {
	case CmpEq:
		return EQ
	case CmpNeq:
		return NE
	case CmpLt:
		if signed {
			return LT
		}
		return LO
	case CmpLte:
		if signed {
			return LE
		}
		return LS
	case CmpGte:
		if signed {
			return GE
		}
		return HS
	}
	if signed {
		return GT
	}
	return HI
}

// FloatConditionFor maps a float comparison to the condition code that holds
// after `fcmp lhs, rhs`; every ordered condition is false for NaN operands.
func FloatConditionFor(op CompareOp) Condition {
	switch op {
	case CmpLt:
		return MI
	case CmpLte:
		return LS
	case CmpEq:
		return EQ
	case CmpGte:
		return GE
	case CmpGt:
		return GT
	}
	return NE
}
