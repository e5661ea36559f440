// Package types is the type-system service queried by the ARM64 back end.
// Types are immutable values; layout queries live in layout.go.
package types

import (
	"fmt"
	"strings"
)

// Type is the interface for all source IR types
type Type interface {
	implType()
	String() string
}

// Signedness represents signed/unsigned for integer types
type Signedness int

const (
	Signed Signedness = iota
	Unsigned
)

func (s Signedness) String() string {
	if s == Signed {
		return "signed"
	}
	return "unsigned"
}

// CallConv names a function's calling convention
type CallConv int

const (
	CallConvAuto CallConv = iota
	CallConvC
	CallConvNaked
	CallConvInterrupt
	CallConvVectorcall
)

var callConvNames = []string{"auto", "c", "naked", "interrupt", "vectorcall"}

func (c CallConv) String() string {
	if int(c) < len(callConvNames) {
		return callConvNames[c]
	}
	return fmt.Sprintf("callconv(%d)", int(c))
}

// ParseCallConv maps a calling convention name back to its value
func ParseCallConv(s string) (CallConv, bool) {
	for i, name := range callConvNames {
		if name == s {
			return CallConv(i), true
		}
	}
	return CallConvAuto, false
}

// Tvoid has no runtime bits
type Tvoid struct{}

// Tnoreturn is the type of expressions that never produce a value
type Tnoreturn struct{}

// Tbool is a one-bit boolean stored in a byte
type Tbool struct{}

// Tint is an arbitrary-width integer (1 to 128 bits)
type Tint struct {
	Bits int
	Sign Signedness
}

// Tfloat is an IEEE floating-point type
type Tfloat struct {
	Bits int
}

// Tpointer is a single-item pointer
type Tpointer struct {
	Elem Type
}

// Tslice is a pointer plus a runtime length
type Tslice struct {
	Elem Type
}

// Tarray is a fixed-length array
type Tarray struct {
	Elem Type
	Len  uint64
}

// Field is a struct or union member
type Field struct {
	Name string
	Type Type
}

// Tstruct lays out its fields in declaration order with natural alignment
type Tstruct struct {
	Name   string
	Fields []Field
}

// Tunion overlays its fields; a tagged union also stores a field index
type Tunion struct {
	Name   string
	Fields []Field
	Tagged bool
}

// Toptional is either null or a payload
type Toptional struct {
	Payload Type
}

// Terrorset is a 16-bit error code where zero means "no error"
type Terrorset struct{}

// Terrorunion is either an error code or a payload
type Terrorunion struct {
	Payload Type
}

// Tfunction is a function signature
type Tfunction struct {
	Params   []Type
	Return   Type
	CallConv CallConv
}

func (Tvoid) implType()       {}
func (Tnoreturn) implType()   {}
func (Tbool) implType()       {}
func (Tint) implType()        {}
func (Tfloat) implType()      {}
func (Tpointer) implType()    {}
func (Tslice) implType()      {}
func (Tarray) implType()      {}
func (Tstruct) implType()     {}
func (Tunion) implType()      {}
func (Toptional) implType()   {}
func (Terrorset) implType()   {}
func (Terrorunion) implType() {}
func (Tfunction) implType()   {}

func (Tvoid) String() string     { return "void" }
func (Tnoreturn) String() string { return "noreturn" }
func (Tbool) String() string     { return "bool" }
func (Terrorset) String() string { return "anyerror" }

func (t Tint) String() string {
	if t.Sign == Signed {
		return fmt.Sprintf("i%d", t.Bits)
	}
	return fmt.Sprintf("u%d", t.Bits)
}

func (t Tfloat) String() string      { return fmt.Sprintf("f%d", t.Bits) }
func (t Tpointer) String() string    { return "*" + t.Elem.String() }
func (t Tslice) String() string      { return "[]" + t.Elem.String() }
func (t Tarray) String() string      { return fmt.Sprintf("[%d]%s", t.Len, t.Elem) }
func (t Toptional) String() string   { return "?" + t.Payload.String() }
func (t Terrorunion) String() string { return "!" + t.Payload.String() }

func (t Tstruct) String() string {
	if t.Name != "" {
		return t.Name
	}
	return "struct{" + fieldList(t.Fields) + "}"
}

func (t Tunion) String() string {
	if t.Name != "" {
		return t.Name
	}
	kw := "union"
	if t.Tagged {
		kw = "union(enum)"
	}
	return kw + "{" + fieldList(t.Fields) + "}"
}

func (t Tfunction) String() string {
	params := make([]string, len(t.Params))
	for i, p := range t.Params {
		params[i] = p.String()
	}
	s := "fn(" + strings.Join(params, ", ") + ") " + t.Return.String()
	if t.CallConv != CallConvAuto {
		s += " callconv(" + t.CallConv.String() + ")"
	}
	return s
}

func fieldList(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if f.Name != "" {
			parts[i] = f.Name + ": " + f.Type.String()
		} else {
			parts[i] = f.Type.String()
		}
	}
	return strings.Join(parts, ", ")
}

// Common type constructors

// Void returns the void type
func Void() Type { return Tvoid{} }

// NoReturn returns the noreturn type
func NoReturn() Type { return Tnoreturn{} }

// Bool returns the boolean type
func Bool() Type { return Tbool{} }

// Int returns an integer type of the given width
func Int(bits int, sign Signedness) Type { return Tint{Bits: bits, Sign: sign} }

func I8() Type    { return Tint{Bits: 8, Sign: Signed} }
func I16() Type   { return Tint{Bits: 16, Sign: Signed} }
func I32() Type   { return Tint{Bits: 32, Sign: Signed} }
func I64() Type   { return Tint{Bits: 64, Sign: Signed} }
func I128() Type  { return Tint{Bits: 128, Sign: Signed} }
func U1() Type    { return Tint{Bits: 1, Sign: Unsigned} }
func U8() Type    { return Tint{Bits: 8, Sign: Unsigned} }
func U16() Type   { return Tint{Bits: 16, Sign: Unsigned} }
func U32() Type   { return Tint{Bits: 32, Sign: Unsigned} }
func U64() Type   { return Tint{Bits: 64, Sign: Unsigned} }
func U128() Type  { return Tint{Bits: 128, Sign: Unsigned} }
func Usize() Type { return U64() }
func F32() Type   { return Tfloat{Bits: 32} }
func F64() Type   { return Tfloat{Bits: 64} }

// Pointer returns a pointer to the given type
func Pointer(elem Type) Type { return Tpointer{Elem: elem} }

// Slice returns a slice of the given element type
func Slice(elem Type) Type { return Tslice{Elem: elem} }

// Array returns an array type
func Array(elem Type, n uint64) Type { return Tarray{Elem: elem, Len: n} }

// Tuple returns an anonymous struct with unnamed fields
func Tuple(elems ...Type) Type {
	fields := make([]Field, len(elems))
	for i, e := range elems {
		fields[i] = Field{Type: e}
	}
	return Tstruct{Fields: fields}
}

// Optional returns ?payload
func Optional(payload Type) Type { return Toptional{Payload: payload} }

// ErrorSet returns the global error set type
func ErrorSet() Type { return Terrorset{} }

// ErrorUnion returns anyerror!payload
func ErrorUnion(payload Type) Type { return Terrorunion{Payload: payload} }

// Function returns a function type
func Function(params []Type, ret Type, cc CallConv) Type {
	return Tfunction{Params: params, Return: ret, CallConv: cc}
}

// OverflowTuple is the result type of the *_with_overflow instructions
func OverflowTuple(t Type) Type { return Tuple(t, U1()) }

// Equal checks if two types are equal
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch at := a.(type) {
	case Tvoid, Tnoreturn, Tbool, Terrorset:
		return a == b
	case Tint:
		bt, ok := b.(Tint)
		return ok && at == bt
	case Tfloat:
		bt, ok := b.(Tfloat)
		return ok && at == bt
	case Tpointer:
		bt, ok := b.(Tpointer)
		return ok && Equal(at.Elem, bt.Elem)
	case Tslice:
		bt, ok := b.(Tslice)
		return ok && Equal(at.Elem, bt.Elem)
	case Tarray:
		bt, ok := b.(Tarray)
		return ok && at.Len == bt.Len && Equal(at.Elem, bt.Elem)
	case Toptional:
		bt, ok := b.(Toptional)
		return ok && Equal(at.Payload, bt.Payload)
	case Terrorunion:
		bt, ok := b.(Terrorunion)
		return ok && Equal(at.Payload, bt.Payload)
	case Tstruct:
		bt, ok := b.(Tstruct)
		return ok && at.Name == bt.Name && fieldsEqual(at.Fields, bt.Fields)
	case Tunion:
		bt, ok := b.(Tunion)
		return ok && at.Name == bt.Name && at.Tagged == bt.Tagged && fieldsEqual(at.Fields, bt.Fields)
	case Tfunction:
		bt, ok := b.(Tfunction)
		if !ok || at.CallConv != bt.CallConv || len(at.Params) != len(bt.Params) || !Equal(at.Return, bt.Return) {
			return false
		}
		for i := range at.Params {
			if !Equal(at.Params[i], bt.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !Equal(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}
