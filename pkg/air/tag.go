package air

// Tag is the kind of an instruction
type Tag uint8

const (
	// Arithmetic
	Add Tag = iota
	AddWrap
	Sub
	SubWrap
	Mul
	MulWrap
	DivTrunc
	DivFloor
	DivExact
	DivFloat
	Rem
	Mod
	Neg
	Min
	Max
	Abs
	AddWithOverflow
	SubWithOverflow
	MulWithOverflow
	ShlWithOverflow
	AddSat
	SubSat
	MulSat
	ShlSat
	MulAdd

	// Bitwise
	BitAnd
	BitOr
	Xor
	Not
	Shl
	ShlExact
	Shr
	ShrExact
	Clz
	Ctz
	PopCount
	ByteSwap
	BitReverse

	// Comparisons
	CmpLt
	CmpLte
	CmpEq
	CmpGte
	CmpGt
	CmpNeq
	CmpVector
	BoolAnd
	BoolOr

	// Memory
	Alloc
	Load
	Store
	AtomicLoad
	AtomicStore
	AtomicRmw
	Cmpxchg
	Fence
	Memset
	Memcpy
	Prefetch

	// Control flow
	Block
	Loop
	Repeat
	Br
	CondBr
	SwitchBr
	Ret
	Unreach
	Trap
	Breakpoint

	// Calls
	Arg
	Call
	VaStart

	// Pointers and aggregates
	StructFieldPtr
	StructFieldVal
	PtrElemPtr
	PtrElemVal
	SliceElemPtr
	SliceElemVal
	ArrayElemVal
	Slice
	SlicePtr
	SliceLen
	ArrayToSlice
	PtrAdd
	PtrSub
	AggregateInit

	// Optionals
	IsNull
	IsNonNull
	IsNullPtr
	IsNonNullPtr
	OptionalPayload
	OptionalPayloadPtr
	WrapOptional

	// Error unions
	IsErr
	IsNonErr
	UnwrapErrUnionPayload
	UnwrapErrUnionErr
	WrapErrUnionPayload
	WrapErrUnionErr
	ErrorName

	// Unions
	UnionInit
	GetUnionTag
	SetUnionTag
	TagName

	// Conversions
	Intcast
	Trunc
	Bitcast
	FloatFromInt
	IntFromFloat
	FloatCast
	IntFromBool
	IntFromPtr

	// Vectors
	Splat
	Reduce
	Shuffle
	Select

	// Debug info
	DbgStmt
	DbgVar

	RetAddr
	FrameAddr
	Asm

	numTags
)

var tagNames = [numTags]string{
	Add: "add", AddWrap: "add_wrap", Sub: "sub", SubWrap: "sub_wrap",
	Mul: "mul", MulWrap: "mul_wrap", DivTrunc: "div_trunc", DivFloor: "div_floor",
	DivExact: "div_exact", DivFloat: "div_float", Rem: "rem", Mod: "mod",
	Neg: "neg", Min: "min", Max: "max", Abs: "abs",
	AddWithOverflow: "add_with_overflow", SubWithOverflow: "sub_with_overflow",
	MulWithOverflow: "mul_with_overflow", ShlWithOverflow: "shl_with_overflow",
	AddSat: "add_sat", SubSat: "sub_sat", MulSat: "mul_sat", ShlSat: "shl_sat", MulAdd: "mul_add",

	BitAnd: "bit_and", BitOr: "bit_or", Xor: "xor", Not: "not",
	Shl: "shl", ShlExact: "shl_exact", Shr: "shr", ShrExact: "shr_exact",
	Clz: "clz", Ctz: "ctz", PopCount: "popcount", ByteSwap: "byte_swap", BitReverse: "bit_reverse",

	CmpLt: "cmp_lt", CmpLte: "cmp_lte", CmpEq: "cmp_eq", CmpGte: "cmp_gte",
	CmpGt: "cmp_gt", CmpNeq: "cmp_neq", CmpVector: "cmp_vector",
	BoolAnd: "bool_and", BoolOr: "bool_or",

	Alloc: "alloc", Load: "load", Store: "store",
	AtomicLoad: "atomic_load", AtomicStore: "atomic_store", AtomicRmw: "atomic_rmw",
	Cmpxchg: "cmpxchg", Fence: "fence", Memset: "memset", Memcpy: "memcpy", Prefetch: "prefetch",

	Block: "block", Loop: "loop", Repeat: "repeat", Br: "br", CondBr: "cond_br",
	SwitchBr: "switch_br", Ret: "ret", Unreach: "unreach", Trap: "trap", Breakpoint: "breakpoint",

	Arg: "arg", Call: "call", VaStart: "va_start",

	StructFieldPtr: "struct_field_ptr", StructFieldVal: "struct_field_val",
	PtrElemPtr: "ptr_elem_ptr", PtrElemVal: "ptr_elem_val",
	SliceElemPtr: "slice_elem_ptr", SliceElemVal: "slice_elem_val", ArrayElemVal: "array_elem_val",
	Slice: "slice", SlicePtr: "slice_ptr", SliceLen: "slice_len", ArrayToSlice: "array_to_slice",
	PtrAdd: "ptr_add", PtrSub: "ptr_sub", AggregateInit: "aggregate_init",

	IsNull: "is_null", IsNonNull: "is_non_null", IsNullPtr: "is_null_ptr", IsNonNullPtr: "is_non_null_ptr",
	OptionalPayload: "optional_payload", OptionalPayloadPtr: "optional_payload_ptr", WrapOptional: "wrap_optional",

	IsErr: "is_err", IsNonErr: "is_non_err",
	UnwrapErrUnionPayload: "unwrap_errunion_payload", UnwrapErrUnionErr: "unwrap_errunion_err",
	WrapErrUnionPayload: "wrap_errunion_payload", WrapErrUnionErr: "wrap_errunion_err", ErrorName: "error_name",

	UnionInit: "union_init", GetUnionTag: "get_union_tag", SetUnionTag: "set_union_tag", TagName: "tag_name",

	Intcast: "intcast", Trunc: "trunc", Bitcast: "bitcast", FloatFromInt: "float_from_int",
	IntFromFloat: "int_from_float", FloatCast: "float_cast", IntFromBool: "int_from_bool", IntFromPtr: "int_from_ptr",

	Splat: "splat", Reduce: "reduce", Shuffle: "shuffle", Select: "select",

	DbgStmt: "dbg_stmt", DbgVar: "dbg_var",
	RetAddr: "ret_addr", FrameAddr: "frame_addr", Asm: "asm",
}

func (t Tag) String() string {
	if t < numTags && tagNames[t] != "" {
		return tagNames[t]
	}
	return "tag(?)"
}

// ParseTag maps an instruction name back to its tag
func ParseTag(s string) (Tag, bool) {
	for i, name := range tagNames {
		if name == s {
			return Tag(i), true
		}
	}
	return 0, false
}

// MustLower reports whether an instruction has effects beyond its result,
// so it is lowered even when the result is unused.
func (t Tag) MustLower() bool {
	switch t {
	case Arg, Store, AtomicStore, AtomicRmw, Cmpxchg, Fence, Memset, Memcpy,
		Block, Loop, Repeat, Br, CondBr, SwitchBr, Ret, Unreach, Trap, Breakpoint,
		Call, DbgStmt, DbgVar, Asm, SetUnionTag, AtomicLoad:
		return true
	}
	return false
}

// IsNoReturn reports whether control never falls through the instruction
func (t Tag) IsNoReturn() bool {
	switch t {
	case Repeat, Br, CondBr, SwitchBr, Ret, Unreach, Trap:
		return true
	}
	return false
}
