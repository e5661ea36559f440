package a64

import "math/bits"

// Bitmask is the (N, immr, imms) triple of a logical immediate
type Bitmask struct {
	N    uint32
	Immr uint32
	Imms uint32
}

// EncodeBitmask returns the logical-immediate encoding of imm for a register
// of regBits (32 or 64), or false when imm is not a rotated run of ones
// replicated across equal-sized elements.
func EncodeBitmask(imm uint64, regBits int) (Bitmask, bool) {
	if regBits == 32 {
		imm &= 0xffffffff
		imm |= imm << 32
	}
	if imm == 0 || imm == ^uint64(0) {
		return Bitmask{}, false
	}

	size := 64
	for size > 2 {
		half := size / 2
		mask := uint64(1)<<half - 1
		if imm&mask != (imm>>half)&mask {
			break
		}
		size = half
	}

	mask := ^uint64(0) >> (64 - size)
	elem := imm & mask
	ones := bits.OnesCount64(elem)
	run := uint64(1)<<ones - 1
	for r := 0; r < size; r++ {
		rotated := (elem>>r | elem<<(size-r)) & mask
		if rotated != run {
			continue
		}
		bm := Bitmask{
			Immr: uint32((size - r) % size),
			Imms: (^uint32(size-1)<<1 | uint32(ones-1)) & 0x3f,
		}
		if size == 64 {
			bm.N = 1
		}
		return bm, true
	}
	return Bitmask{}, false
}

// DecodeBitmask expands a logical immediate back into its value
func DecodeBitmask(bm Bitmask, regBits int) uint64 {
	var size int
	if bm.N == 1 {
		size = 64
	} else {
		for size = 32; size >= 2; size /= 2 {
			if bm.Imms&uint32(size) == 0 {
				break
			}
		}
	}
	levels := uint32(size - 1)
	ones := int(bm.Imms&levels) + 1
	r := int(bm.Immr & levels)
	mask := ^uint64(0) >> (64 - size)
	run := uint64(1)<<ones - 1
	elem := (run>>r | run<<(size-r)) & mask
	var v uint64
	for i := 0; i < 64; i += size {
		v |= elem << i
	}
	if regBits == 32 {
		v &= 0xffffffff
	}
	return v
}
