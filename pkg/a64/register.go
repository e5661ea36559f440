// Package a64 describes the AArch64 register file, condition codes and the
// target features the back end cares about.
package a64

import (
	"fmt"

	"github.com/pkg/errors"
)

// Register is a physical register at a specific access width. X5 and W5
// name the same architectural register; ID reports that identity.
type Register uint8

const (
	X0 Register = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	XZR
	W0
	W1
	W2
	W3
	W4
	W5
	W6
	W7
	W8
	W9
	W10
	W11
	W12
	W13
	W14
	W15
	W16
	W17
	W18
	W19
	W20
	W21
	W22
	W23
	W24
	W25
	W26
	W27
	W28
	W29
	W30
	WZR
	SP
	WSP
	Q0
	Q1
	Q2
	Q3
	Q4
	Q5
	Q6
	Q7
	Q8
	Q9
	Q10
	Q11
	Q12
	Q13
	Q14
	Q15
	Q16
	Q17
	Q18
	Q19
	Q20
	Q21
	Q22
	Q23
	Q24
	Q25
	Q26
	Q27
	Q28
	Q29
	Q30
	Q31
	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
	D16
	D17
	D18
	D19
	D20
	D21
	D22
	D23
	D24
	D25
	D26
	D27
	D28
	D29
	D30
	D31
	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	S12
	S13
	S14
	S15
	S16
	S17
	S18
	S19
	S20
	S21
	S22
	S23
	S24
	S25
	S26
	S27
	S28
	S29
	S30
	S31
	H0
	H1
	H2
	H3
	H4
	H5
	H6
	H7
	H8
	H9
	H10
	H11
	H12
	H13
	H14
	H15
	H16
	H17
	H18
	H19
	H20
	H21
	H22
	H23
	H24
	H25
	H26
	H27
	H28
	H29
	H30
	H31
	B0
	B1
	B2
	B3
	B4
	B5
	B6
	B7
	B8
	B9
	B10
	B11
	B12
	B13
	B14
	B15
	B16
	B17
	B18
	B19
	B20
	B21
	B22
	B23
	B24
	B25
	B26
	B27
	B28
	B29
	B30
	B31
)

// Common aliases
const (
	FP  = X29
	LR  = X30
	IP0 = X16
	IP1 = X17
)

const numVectorBase = Q0

// RegisterClass separates general-purpose from SIMD&FP registers
type RegisterClass int

const (
	GeneralPurpose RegisterClass = iota
	Vector
)

func (c RegisterClass) String() string {
	if c == GeneralPurpose {
		return "gp"
	}
	return "vector"
}

// NumIDs is the number of distinct architectural registers (x0-x30, zr, sp, v0-v31)
const NumIDs = 65

// Class returns the register file this register belongs to
func (r Register) Class() RegisterClass {
	if r < numVectorBase {
		return GeneralPurpose
	}
	return Vector
}

// IsZero reports whether r is xzr or wzr
func (r Register) IsZero() bool { return r == XZR || r == WZR }

// IsSP reports whether r is sp or wsp
func (r Register) IsSP() bool { return r == SP || r == WSP }

// Num returns the register number within its file (sp and zr are 31)
func (r Register) Num() int {
	switch {
	case r <= XZR:
		return int(r)
	case r <= WZR:
		return int(r - W0)
	case r.IsSP():
		return 31
	}
	return int(r-numVectorBase) % 32
}

// Enc returns the 5-bit field value used in instruction words
func (r Register) Enc() uint32 { return uint32(r.Num()) }

// ID identifies the architectural register regardless of access width
func (r Register) ID() int {
	switch {
	case r.IsSP():
		return 32
	case r.Class() == Vector:
		return 33 + r.Num()
	}
	return r.Num()
}

// Size returns the access width in bits
func (r Register) Size() int {
	switch {
	case r <= XZR, r == SP:
		return 64
	case r <= WZR, r == WSP:
		return 32
	}
	switch (r - numVectorBase) / 32 {
	case 0:
		return 128
	case 1:
		return 64
	case 2:
		return 32
	case 3:
		return 16
	}
	return 8
}

// Is64 reports whether a general-purpose register is accessed as 64 bits
func (r Register) Is64() bool { return r.Size() == 64 }

// ToX returns the 64-bit view of a general-purpose register
func (r Register) ToX() Register {
	switch {
	case r.IsSP():
		return SP
	case r.Class() == Vector:
		panic(fmt.Sprintf("a64: %s is not a general-purpose register", r))
	}
	return Register(r.Num())
}

// ToW returns the 32-bit view of a general-purpose register
func (r Register) ToW() Register {
	switch {
	case r.IsSP():
		return WSP
	case r.Class() == Vector:
		panic(fmt.Sprintf("a64: %s is not a general-purpose register", r))
	}
	return W0 + Register(r.Num())
}

func (r Register) vec(base Register) Register {
	if r.Class() != Vector {
		panic(fmt.Sprintf("a64: %s is not a vector register", r))
	}
	return base + Register(r.Num())
}

func (r Register) ToQ() Register { return r.vec(Q0) }
func (r Register) ToD() Register { return r.vec(D0) }
func (r Register) ToS() Register { return r.vec(S0) }
func (r Register) ToH() Register { return r.vec(H0) }
func (r Register) ToB() Register { return r.vec(B0) }

// Alias returns the view of r wide enough for a value of the given bit size
func (r Register) Alias(bits int) Register {
	if r.Class() == GeneralPurpose {
		if bits > 32 {
			return r.ToX()
		}
		return r.ToW()
	}
	switch {
	case bits > 64:
		return r.ToQ()
	case bits > 32:
		return r.ToD()
	case bits > 16:
		return r.ToS()
	case bits > 8:
		return r.ToH()
	}
	return r.ToB()
}

// ByID returns the canonical (widest) register for an architectural ID
func ByID(id int) Register {
	switch {
	case id < 32:
		return Register(id)
	case id == 32:
		return SP
	}
	return Q0 + Register(id-33)
}

func (r Register) String() string {
	switch {
	case r == XZR:
		return "xzr"
	case r == WZR:
		return "wzr"
	case r == SP:
		return "sp"
	case r == WSP:
		return "wsp"
	case r < XZR:
		return fmt.Sprintf("x%d", r.Num())
	case r < WZR:
		return fmt.Sprintf("w%d", r.Num())
	}
	prefix := "qdshb"[(r-numVectorBase)/32]
	return fmt.Sprintf("%c%d", prefix, r.Num())
}

var registersByName = func() map[string]Register {
	m := map[string]Register{"fp": FP, "lr": LR, "ip0": IP0, "ip1": IP1}
	for r := X0; r <= B31; r++ {
		m[r.String()] = r
	}
	return m
}()

// ParseRegister looks a register up by its assembly name
func ParseRegister(name string) (Register, error) {
	r, ok := registersByName[name]
	if !ok {
		return 0, errors.Errorf("unknown register %q", name)
	}
	return r, nil
}
