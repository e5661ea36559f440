package a64

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestRegisterNames(t *testing.T) {
	tests := []struct {
		reg  Register
		want string
		enc  uint32
		size int
	}{
		{X0, "x0", 0, 64},
		{X30, "x30", 30, 64},
		{XZR, "xzr", 31, 64},
		{W7, "w7", 7, 32},
		{WZR, "wzr", 31, 32},
		{SP, "sp", 31, 64},
		{Q3, "q3", 3, 128},
		{D31, "d31", 31, 64},
		{S0, "s0", 0, 32},
		{H9, "h9", 9, 16},
		{B2, "b2", 2, 8},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.reg.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.reg.Enc(); got != tt.enc {
				t.Errorf("Enc() = %d, want %d", got, tt.enc)
			}
			if got := tt.reg.Size(); got != tt.size {
				t.Errorf("Size() = %d, want %d", got, tt.size)
			}
		})
	}
}

func TestRegisterAliases(t *testing.T) {
	assert.Equal(t, W5.ToX(), X5)
	assert.Equal(t, X5.ToW(), W5)
	assert.Equal(t, X5.ID(), W5.ID())
	assert.Assert(t, SP.ID() != XZR.ID())
	assert.Equal(t, D4.ToS(), S4)
	assert.Equal(t, S4.Alias(64), D4)
	assert.Equal(t, X9.Alias(8), W9)
	assert.Equal(t, ByID(D12.ID()), Q12)
	assert.Equal(t, ByID(X3.ID()), X3)
	assert.Equal(t, Q1.Class(), Vector)
	assert.Equal(t, WSP.Class(), GeneralPurpose)
}

func TestParseRegister(t *testing.T) {
	for _, r := range []Register{X0, W17, XZR, SP, Q31, D8, S2} {
		got, err := ParseRegister(r.String())
		assert.NilError(t, err)
		assert.Equal(t, got, r)
	}
	got, err := ParseRegister("lr")
	assert.NilError(t, err)
	assert.Equal(t, got, X30)
	_, err = ParseRegister("x32")
	assert.ErrorContains(t, err, "unknown register")
}

func TestConditionNegate(t *testing.T) {
	pairs := [][2]Condition{{EQ, NE}, {HS, LO}, {MI, PL}, {VS, VC}, {HI, LS}, {GE, LT}, {GT, LE}}
	for _, p := range pairs {
		if got := p[0].Negate(); got != p[1] {
			t.Errorf("%s.Negate() = %s, want %s", p[0], got, p[1])
		}
		if got := p[1].Negate(); got != p[0] {
			t.Errorf("%s.Negate() = %s, want %s", p[1], got, p[0])
		}
	}
	assert.Equal(t, ConditionFor(CmpLt, true), LT)
	assert.Equal(t, ConditionFor(CmpLt, false), LO)
	assert.Equal(t, ConditionFor(CmpGte, false), HS)
	assert.Equal(t, FloatConditionFor(CmpLt), MI)
	assert.Equal(t, CmpLte.Reverse(), CmpGte)
}
