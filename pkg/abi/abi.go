// Package abi classifies function signatures according to AAPCS64: which
// registers or stack slots carry each parameter and the return value.
package abi

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// ErrUnsupportedCallConv is returned for conventions this back end cannot honor
var ErrUnsupportedCallConv = errors.New("unsupported calling convention")

const (
	wordSize = 8
	// StackAlignment is the mandatory alignment of the outgoing argument area
	StackAlignment = 16
	// maxFloatArray is the largest homogeneous float aggregate passed in registers
	maxFloatArray = 4
)

// ClassKind is the AAPCS64 classification of a type
type ClassKind int

const (
	ByVal         ClassKind = iota // scalar in one register, or a pair when two words wide
	Integer                        // aggregate of at most one word
	DoubleInteger                  // aggregate of two words, always a register pair
	FloatArray                     // homogeneous float aggregate, one float register per element
	Memory                         // passed by reference
)

var classNames = [...]string{"byval", "integer", "double_integer", "float_array", "memory"}

func (k ClassKind) String() string { return classNames[k] }

// Class is a classification plus, for float arrays, the element count and width
type Class struct {
	Kind      ClassKind
	Count     int
	FloatBits int
}

// ClassifyType classifies a type with runtime bits
func ClassifyType(t types.Type) Class {
	size := types.AbiSize(t)
	switch tt := t.(type) {
	case types.Tfloat:
		if tt.Bits > 64 {
			return Class{Kind: Memory}
		}
		return Class{Kind: FloatArray, Count: 1, FloatBits: tt.Bits}
	case types.Tint:
		if tt.Bits > 128 {
			return Class{Kind: Memory}
		}
		return Class{Kind: ByVal}
	case types.Tbool, types.Tpointer, types.Terrorset:
		return Class{Kind: ByVal}
	case types.Toptional:
		if types.IsPtrLikeOptional(tt) {
			return Class{Kind: ByVal}
		}
	case types.Terrorunion:
		if !types.HasRuntimeBits(tt.Payload) {
			return Class{Kind: ByVal}
		}
	case types.Tslice:
		return Class{Kind: DoubleInteger}
	}

	if n, bits := CountFloats(t); n > 0 && n <= maxFloatArray {
		return Class{Kind: FloatArray, Count: n, FloatBits: bits}
	}
	switch {
	case size > 2*wordSize:
		return Class{Kind: Memory}
	case size > wordSize:
		return Class{Kind: DoubleInteger}
	}
	return Class{Kind: Integer}
}

// CountFloats returns the number of float members of a homogeneous float
// aggregate and their width, or 0 when t is not one.
func CountFloats(t types.Type) (int, int) {
	bits := 0
	n := countFloats(t, &bits)
	if n < 0 {
		return 0, 0
	}
	return n, bits
}

func countFloats(t types.Type, bits *int) int {
	switch tt := t.(type) {
	case types.Tfloat:
		if *bits != 0 && *bits != tt.Bits {
			return -1
		}
		*bits = tt.Bits
		return 1
	case types.Tstruct:
		count := 0
		for _, f := range tt.Fields {
			if !types.HasRuntimeBits(f.Type) {
				continue
			}
			n := countFloats(f.Type, bits)
			if n < 0 {
				return -1
			}
			count += n
			if count > maxFloatArray {
				return -1
			}
		}
		return count
	case types.Tarray:
		n := countFloats(tt.Elem, bits)
		if n < 0 || uint64(n)*tt.Len > maxFloatArray {
			return -1
		}
		return n * int(tt.Len)
	case types.Tunion:
		if tt.Tagged {
			return -1
		}
		most := 0
		for _, f := range tt.Fields {
			n := countFloats(f.Type, bits)
			if n < 0 {
				return -1
			}
			most = max(most, n)
		}
		return most
	case types.Tvoid:
		return 0
	}
	return -1
}

// LocKind selects the form of a Location
type LocKind int

const (
	LocNone        LocKind = iota // zero-size
	LocUnreachable                // noreturn result
	LocRegisters                  // one or more registers
	LocStack                      // outgoing stack area at StackOffset
	LocIndirect                   // result written through a hidden pointer in Regs[0]
)

// Location is where one parameter or the return value travels
type Location struct {
	Kind LocKind
	Regs []a64.Register
	// ElemSize is the bytes carried by each register (float arrays use one
	// register per element; integer registers carry one word each)
	ElemSize uint64
	// ByRef means the register or stack slot holds the address of a copy
	ByRef       bool
	StackOffset uint32
	Class       Class
}

func (l Location) String() string {
	switch l.Kind {
	case LocNone:
		return "none"
	case LocUnreachable:
		return "unreachable"
	case LocStack:
		s := fmt.Sprintf("stack+%d", l.StackOffset)
		if l.ByRef {
			s = "&" + s
		}
		return s
	case LocIndirect:
		return fmt.Sprintf("indirect(%s)", l.Regs[0])
	}
	names := lo.Map(l.Regs, func(r a64.Register, _ int) string { return r.String() })
	s := fmt.Sprint(names)
	if l.ByRef {
		s = "&" + s
	}
	return s
}

// Result is the resolved calling convention of one signature
type Result struct {
	Params []Location
	Return Location
	// StackBytes is the outgoing stack area, a multiple of StackAlignment
	StackBytes uint32
	StackAlign uint32
	// ArgCount counts parameters with runtime bits
	ArgCount int
	GPUsed   int
	FPUsed   int
}

type state struct {
	ncrn   int    // next general-purpose argument register
	nsrn   int    // next SIMD&FP argument register
	nsaa   uint32 // next stacked argument offset
	darwin bool
}

// Resolve classifies every parameter and the return value of fn
func Resolve(fn types.Tfunction, target a64.Target) (Result, error) {
	switch fn.CallConv {
	case types.CallConvAuto, types.CallConvC:
	default:
		return Result{}, errors.Wrap(ErrUnsupportedCallConv, fn.CallConv.String())
	}

	var res Result
	st := &state{darwin: target.OS == a64.Darwin}

	ret := fn.Return
	switch {
	case types.IsNoReturn(ret):
		res.Return = Location{Kind: LocUnreachable}
	case !types.HasRuntimeBits(ret):
		res.Return = Location{Kind: LocNone}
	default:
		res.Return = returnLocation(ret)
		if res.Return.Kind == LocIndirect {
			if fn.CallConv == types.CallConvC {
				res.Return.Regs = []a64.Register{IndirectResultReg}
			} else {
				// The hidden result pointer takes the first argument register.
				res.Return.Regs = []a64.Register{IntParamRegs[0]}
				st.ncrn = 1
			}
		}
	}

	res.Params = make([]Location, len(fn.Params))
	for i, p := range fn.Params {
		if !types.HasRuntimeBits(p) {
			res.Params[i] = Location{Kind: LocNone}
			continue
		}
		res.ArgCount++
		res.Params[i] = st.param(p)
	}

	res.StackBytes = alignUp(st.nsaa, StackAlignment)
	res.StackAlign = StackAlignment
	res.GPUsed = st.ncrn
	res.FPUsed = st.nsrn
	return res, nil
}

func returnLocation(t types.Type) Location {
	class := ClassifyType(t)
	size := types.AbiSize(t)
	switch class.Kind {
	case FloatArray:
		return Location{Kind: LocRegisters, Regs: floatRegs(0, class.Count, class.FloatBits), ElemSize: uint64(class.FloatBits / 8), Class: class}
	case Memory:
		return Location{Kind: LocIndirect, Class: class}
	case DoubleInteger:
		return Location{Kind: LocRegisters, Regs: intRegs(0, 2, 2*wordSize), ElemSize: wordSize, Class: class}
	}
	return Location{Kind: LocRegisters, Regs: intRegs(0, words(size), size), ElemSize: wordSize, Class: class}
}

func (st *state) param(t types.Type) Location {
	class := ClassifyType(t)
	size := types.AbiSize(t)
	align := types.AbiAlign(t)

	switch class.Kind {
	case FloatArray:
		if st.nsrn+class.Count <= len(FloatParamRegs) {
			regs := floatRegs(st.nsrn, class.Count, class.FloatBits)
			st.nsrn += class.Count
			return Location{Kind: LocRegisters, Regs: regs, ElemSize: uint64(class.FloatBits / 8), Class: class}
		}
		st.nsrn = len(FloatParamRegs)
		return st.stack(size, align, class, false)

	case Memory:
		// The caller passes the address of a copy.
		if st.ncrn < len(IntParamRegs) {
			reg := IntParamRegs[st.ncrn]
			st.ncrn++
			return Location{Kind: LocRegisters, Regs: []a64.Register{reg}, ElemSize: wordSize, ByRef: true, Class: class}
		}
		return st.stack(wordSize, wordSize, class, true)
	}

	n := words(size)
	if align == 16 && !st.darwin {
		st.ncrn += st.ncrn % 2
	}
	if st.ncrn+n <= len(IntParamRegs) {
		regs := intRegs(st.ncrn, n, size)
		st.ncrn += n
		return Location{Kind: LocRegisters, Regs: regs, ElemSize: wordSize, Class: class}
	}
	st.ncrn = len(IntParamRegs)
	return st.stack(size, align, class, false)
}

func (st *state) stack(size, align uint64, class Class, byRef bool) Location {
	a := uint32(max(align, wordSize))
	if st.darwin && !byRef {
		a = uint32(max(align, 1))
	}
	st.nsaa = alignUp(st.nsaa, a)
	loc := Location{Kind: LocStack, StackOffset: st.nsaa, ByRef: byRef, Class: class}
	if st.darwin {
		st.nsaa += uint32(size)
	} else {
		st.nsaa += alignUp(uint32(size), wordSize)
	}
	return loc
}

func words(size uint64) int {
	return int((size + wordSize - 1) / wordSize)
}

// intRegs returns n argument registers starting at first, sized to the
// bytes they carry (the last one may be a w register).
func intRegs(first, n int, size uint64) []a64.Register {
	regs := make([]a64.Register, n)
	for i := range regs {
		chunk := min(size-uint64(i)*wordSize, wordSize)
		regs[i] = IntParamRegs[first+i].Alias(int(chunk * 8))
	}
	return regs
}

func floatRegs(first, n, bits int) []a64.Register {
	regs := make([]a64.Register, n)
	for i := range regs {
		regs[i] = FloatParamRegs[first+i].Alias(bits)
	}
	return regs
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
