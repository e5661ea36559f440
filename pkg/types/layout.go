package types

import "fmt"

// ErrorBits is the width of an error code
const ErrorBits = 16

// AlignUp rounds n up to a multiple of align (a power of two)
func AlignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// HasRuntimeBits reports whether values of t occupy storage
func HasRuntimeBits(t Type) bool {
	switch tt := t.(type) {
	case Tvoid, Tnoreturn, Tfunction:
		return false
	case Tint:
		return tt.Bits > 0
	case Tarray:
		return tt.Len > 0 && HasRuntimeBits(tt.Elem)
	case Tstruct:
		for _, f := range tt.Fields {
			if HasRuntimeBits(f.Type) {
				return true
			}
		}
		return false
	case Tunion:
		if tt.Tagged && len(tt.Fields) > 1 {
			return true
		}
		for _, f := range tt.Fields {
			if HasRuntimeBits(f.Type) {
				return true
			}
		}
		return false
	}
	return true
}

// IsNoReturn reports whether t is the noreturn type
func IsNoReturn(t Type) bool {
	_, ok := t.(Tnoreturn)
	return ok
}

// IsFloat reports whether t is a float type
func IsFloat(t Type) bool {
	_, ok := t.(Tfloat)
	return ok
}

// FloatBits returns the width of a float type, or 0
func FloatBits(t Type) int {
	if f, ok := t.(Tfloat); ok {
		return f.Bits
	}
	return 0
}

// IntInfo returns the bit width and signedness of integer-like types:
// integers, bools, pointers, error codes and pointer-like optionals.
func IntInfo(t Type) (bits int, sign Signedness, ok bool) {
	switch tt := t.(type) {
	case Tint:
		return tt.Bits, tt.Sign, true
	case Tbool:
		return 1, Unsigned, true
	case Tpointer:
		return 64, Unsigned, true
	case Terrorset:
		return ErrorBits, Unsigned, true
	case Toptional:
		if IsPtrLikeOptional(tt) {
			return 64, Unsigned, true
		}
	case Terrorunion:
		if !HasRuntimeBits(tt.Payload) {
			return ErrorBits, Unsigned, true
		}
	}
	return 0, Unsigned, false
}

// IsSigned reports whether t is a signed integer
func IsSigned(t Type) bool {
	_, sign, ok := IntInfo(t)
	return ok && sign == Signed
}

// IsAggregate reports whether values of t are kept in memory rather than a
// single register: structs, unions, arrays, slices and the non-scalar
// optional and error union representations.
func IsAggregate(t Type) bool {
	switch tt := t.(type) {
	case Tstruct, Tunion, Tarray, Tslice:
		return true
	case Toptional:
		return !IsPtrLikeOptional(tt) && HasRuntimeBits(tt.Payload)
	case Terrorunion:
		return HasRuntimeBits(tt.Payload)
	case Tint:
		return tt.Bits > 64
	}
	return false
}

// IsPtrLikeOptional reports whether null can be represented as address zero
func IsPtrLikeOptional(t Toptional) bool {
	_, ok := t.Payload.(Tpointer)
	return ok
}

// AbiSize returns the size in bytes of t
func AbiSize(t Type) uint64 {
	switch tt := t.(type) {
	case Tvoid, Tnoreturn, Tfunction:
		return 0
	case Tbool:
		return 1
	case Tint:
		return intBytes(tt.Bits)
	case Tfloat:
		switch {
		case tt.Bits <= 16:
			return 2
		case tt.Bits <= 32:
			return 4
		case tt.Bits <= 64:
			return 8
		}
		return 16
	case Tpointer:
		return 8
	case Tslice:
		return 16
	case Terrorset:
		return 2
	case Tarray:
		return tt.Len * AbiSize(tt.Elem)
	case Tstruct:
		return StructLayoutOf(tt).Size
	case Tunion:
		return UnionLayoutOf(tt).Size
	case Toptional:
		return OptionalLayoutOf(tt).Size
	case Terrorunion:
		return ErrorUnionLayoutOf(tt).Size
	}
	panic(fmt.Sprintf("types: no size for %T", t))
}

// AbiAlign returns the alignment in bytes of t
func AbiAlign(t Type) uint64 {
	switch tt := t.(type) {
	case Tvoid, Tnoreturn, Tfunction:
		return 1
	case Tbool:
		return 1
	case Tint:
		return intBytes(tt.Bits)
	case Tfloat:
		return AbiSize(tt)
	case Tpointer, Tslice:
		return 8
	case Terrorset:
		return 2
	case Tarray:
		return AbiAlign(tt.Elem)
	case Tstruct:
		return StructLayoutOf(tt).Align
	case Tunion:
		return UnionLayoutOf(tt).Align
	case Toptional:
		return OptionalLayoutOf(tt).Align
	case Terrorunion:
		return ErrorUnionLayoutOf(tt).Align
	}
	panic(fmt.Sprintf("types: no alignment for %T", t))
}

func intBytes(bits int) uint64 {
	switch {
	case bits == 0:
		return 0
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	case bits <= 32:
		return 4
	case bits <= 64:
		return 8
	}
	return 16
}

// StructLayout holds computed field offsets
type StructLayout struct {
	Offsets []uint64
	Size    uint64
	Align   uint64
}

// StructLayoutOf lays out fields in order, each at its natural alignment
func StructLayoutOf(t Tstruct) StructLayout {
	l := StructLayout{Offsets: make([]uint64, len(t.Fields)), Align: 1}
	var off uint64
	for i, f := range t.Fields {
		a := AbiAlign(f.Type)
		off = AlignUp(off, a)
		l.Offsets[i] = off
		off += AbiSize(f.Type)
		if a > l.Align {
			l.Align = a
		}
	}
	l.Size = AlignUp(off, l.Align)
	return l
}

// FieldOffset returns the byte offset of field i of a struct
func FieldOffset(t Type, i int) uint64 {
	return StructLayoutOf(t.(Tstruct)).Offsets[i]
}

// FieldType returns the type of field i of a struct, tuple or union
func FieldType(t Type, i int) Type {
	switch tt := t.(type) {
	case Tstruct:
		return tt.Fields[i].Type
	case Tunion:
		return tt.Fields[i].Type
	}
	panic(fmt.Sprintf("types: %s has no fields", t))
}

// UnionLayout places the payload and the optional tag
type UnionLayout struct {
	PayloadOffset uint64
	PayloadSize   uint64
	TagOffset     uint64
	TagType       Type // nil for untagged unions
	Size          uint64
	Align         uint64
}

// UnionLayoutOf computes the layout of a union. The member with the larger
// alignment goes first.
func UnionLayoutOf(t Tunion) UnionLayout {
	var l UnionLayout
	payloadAlign := uint64(1)
	for _, f := range t.Fields {
		if s := AbiSize(f.Type); s > l.PayloadSize {
			l.PayloadSize = s
		}
		if a := AbiAlign(f.Type); a > payloadAlign {
			payloadAlign = a
		}
	}
	l.Align = payloadAlign
	if !t.Tagged {
		l.Size = AlignUp(l.PayloadSize, l.Align)
		return l
	}
	l.TagType = TagTypeOf(t)
	tagSize := AbiSize(l.TagType)
	if tagSize > l.Align {
		l.Align = tagSize
	}
	if tagSize >= payloadAlign {
		l.TagOffset = 0
		l.PayloadOffset = AlignUp(tagSize, payloadAlign)
		l.Size = AlignUp(l.PayloadOffset+l.PayloadSize, l.Align)
	} else {
		l.PayloadOffset = 0
		l.TagOffset = l.PayloadSize
		l.Size = AlignUp(l.TagOffset+tagSize, l.Align)
	}
	return l
}

// TagTypeOf returns the smallest unsigned integer that can index the fields
func TagTypeOf(t Tunion) Type {
	bits := 1
	for (1 << bits) < len(t.Fields) {
		bits++
	}
	return Int(bits, Unsigned)
}

// OptionalLayout places the payload and the non-null flag
type OptionalLayout struct {
	FlagOffset uint64 // meaningless for pointer-like optionals
	Size       uint64
	Align      uint64
}

// OptionalLayoutOf: payload at zero, then a one-byte flag
func OptionalLayoutOf(t Toptional) OptionalLayout {
	if IsPtrLikeOptional(t) {
		return OptionalLayout{Size: 8, Align: 8}
	}
	if !HasRuntimeBits(t.Payload) {
		return OptionalLayout{Size: 1, Align: 1}
	}
	size := AbiSize(t.Payload)
	align := AbiAlign(t.Payload)
	return OptionalLayout{FlagOffset: size, Size: AlignUp(size+1, align), Align: align}
}

// ErrorUnionLayout places the payload and the error code
type ErrorUnionLayout struct {
	PayloadOffset uint64
	ErrOffset     uint64
	Size          uint64
	Align         uint64
}

// ErrorUnionLayoutOf puts the more strictly aligned member first
func ErrorUnionLayoutOf(t Terrorunion) ErrorUnionLayout {
	if !HasRuntimeBits(t.Payload) {
		return ErrorUnionLayout{Size: 2, Align: 2}
	}
	psize := AbiSize(t.Payload)
	palign := AbiAlign(t.Payload)
	l := ErrorUnionLayout{Align: max(palign, 2)}
	if palign > 2 {
		l.ErrOffset = AlignUp(psize, 2)
		l.Size = AlignUp(l.ErrOffset+2, l.Align)
	} else {
		l.PayloadOffset = AlignUp(2, palign)
		l.Size = AlignUp(l.PayloadOffset+psize, l.Align)
	}
	return l
}

// ElemType returns the element type of pointers, slices and arrays
func ElemType(t Type) Type {
	switch tt := t.(type) {
	case Tpointer:
		return tt.Elem
	case Tslice:
		return tt.Elem
	case Tarray:
		return tt.Elem
	}
	panic(fmt.Sprintf("types: %s has no element type", t))
}

// PointeeArray returns the array a pointer points at, if any
func PointeeArray(t Type) (Tarray, bool) {
	if p, ok := t.(Tpointer); ok {
		a, ok := p.Elem.(Tarray)
		return a, ok
	}
	return Tarray{}, false
}

// FnInfo returns the function signature of a function or function pointer type
func FnInfo(t Type) (Tfunction, bool) {
	switch tt := t.(type) {
	case Tfunction:
		return tt, true
	case Tpointer:
		fn, ok := tt.Elem.(Tfunction)
		return fn, ok
	}
	return Tfunction{}, false
}
