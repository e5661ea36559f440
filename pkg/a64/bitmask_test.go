package a64

import (
	"testing"

	"pgregory.net/rapid"
)

func TestEncodeBitmask(t *testing.T) {
	tests := []struct {
		imm  uint64
		bits int
		ok   bool
		want Bitmask
	}{
		{0xff, 64, true, Bitmask{N: 1, Immr: 0, Imms: 7}},
		{0x1, 64, true, Bitmask{N: 1, Immr: 0, Imms: 0}},
		{0x8000000000000000, 64, true, Bitmask{N: 1, Immr: 1, Imms: 0}},
		{0x5555555555555555, 64, true, Bitmask{N: 0, Immr: 0, Imms: 0x3c}},
		{0xff, 32, true, Bitmask{N: 0, Immr: 0, Imms: 7}},
		{0xffff0000, 32, true, Bitmask{N: 0, Immr: 16, Imms: 15}},
		{0, 64, false, Bitmask{}},
		{^uint64(0), 64, false, Bitmask{}},
		{0xffffffff, 32, false, Bitmask{}},
		{0x1234, 64, false, Bitmask{}},
	}
	for _, tt := range tests {
		got, ok := EncodeBitmask(tt.imm, tt.bits)
		if ok != tt.ok {
			t.Errorf("EncodeBitmask(%#x, %d) ok = %v, want %v", tt.imm, tt.bits, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("EncodeBitmask(%#x, %d) = %+v, want %+v", tt.imm, tt.bits, got, tt.want)
		}
	}
}

func TestBitmaskRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.SampledFrom([]int{2, 4, 8, 16, 32, 64}).Draw(t, "size")
		ones := rapid.IntRange(1, size-1).Draw(t, "ones")
		rot := rapid.IntRange(0, size-1).Draw(t, "rot")
		mask := ^uint64(0) >> (64 - size)
		run := uint64(1)<<ones - 1
		elem := (run>>rot | run<<(size-rot)) & mask
		var imm uint64
		for i := 0; i < 64; i += size {
			imm |= elem << i
		}
		bm, ok := EncodeBitmask(imm, 64)
		if !ok {
			t.Fatalf("EncodeBitmask(%#x) rejected a valid pattern", imm)
		}
		if got := DecodeBitmask(bm, 64); got != imm {
			t.Fatalf("DecodeBitmask(%+v) = %#x, want %#x", bm, got, imm)
		}
	})
}
