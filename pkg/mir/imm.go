package mir

import "github.com/raymyers/ralph-a64/pkg/a64"

// MoveImmediate returns the shortest sequence setting rd to v: a single
// logical immediate when v is a bitmask, otherwise movz or movn followed by
// movk for each remaining lane.
func MoveImmediate(rd a64.Register, v uint64) []Inst {
	bits := rd.Size()
	if bits == 32 {
		v &= 0xffffffff
	}
	lanes := bits / 16

	var zeros, ones int
	for hw := 0; hw < lanes; hw++ {
		switch uint16(v >> (16 * hw)) {
		case 0:
			zeros++
		case 0xffff:
			ones++
		}
	}
	if zeros == lanes {
		return []Inst{New(Movz, RImm16{Rd: rd, Imm: 0})}
	}

	var seq []Inst
	if ones > zeros {
		for hw := 0; hw < lanes; hw++ {
			lane := uint16(v >> (16 * hw))
			if lane == 0xffff {
				continue
			}
			if seq == nil {
				seq = append(seq, New(Movn, RImm16{Rd: rd, Imm: ^lane, Hw: uint8(hw)}))
			} else {
				seq = append(seq, New(Movk, RImm16{Rd: rd, Imm: lane, Hw: uint8(hw)}))
			}
		}
		if seq == nil {
			seq = []Inst{New(Movn, RImm16{Rd: rd, Imm: 0})}
		}
	} else {
		for hw := 0; hw < lanes; hw++ {
			lane := uint16(v >> (16 * hw))
			if lane == 0 {
				continue
			}
			if seq == nil {
				seq = append(seq, New(Movz, RImm16{Rd: rd, Imm: lane, Hw: uint8(hw)}))
			} else {
				seq = append(seq, New(Movk, RImm16{Rd: rd, Imm: lane, Hw: uint8(hw)}))
			}
		}
	}

	if len(seq) > 1 {
		if _, ok := a64.EncodeBitmask(v, bits); ok {
			zr := a64.XZR
			if bits == 32 {
				zr = a64.WZR
			}
			return []Inst{New(Orr, RRBitmask{Rd: rd, Rn: zr, Imm: v})}
		}
	}
	return seq
}
