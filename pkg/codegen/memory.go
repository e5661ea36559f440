package codegen

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// pointee returns the memory a pointer operand points at
func (ctx *genContext) pointee(ref air.Ref) (mcv.MCValue, error) {
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	return ctx.derefValue(v)
}

// sliceParts returns the pointer and length of a slice operand
func (ctx *genContext) sliceParts(ref air.Ref) (ptr, n mcv.MCValue, err error) {
	v, err := ctx.operand(ref)
	if err != nil {
		return v, v, err
	}
	switch v.Kind {
	case mcv.RegisterPair:
		return mcv.Reg(v.Regs[0]), mcv.Reg(v.Regs[1]), nil
	case mcv.LoadFrame, mcv.Memory:
		return v, v.Offset(8), nil
	}
	return v, v, errors.Errorf("slice operand %s", v)
}

// baseAddress returns a value holding the address of element zero of a
// pointer, slice or array operand
func (ctx *genContext) baseAddress(ref air.Ref) (mcv.MCValue, error) {
	switch ctx.fn.TypeOf(ref).(type) {
	case types.Tslice:
		ptr, _, err := ctx.sliceParts(ref)
		return ptr, err
	case types.Tarray:
		v, err := ctx.operand(ref)
		if err != nil {
			return v, err
		}
		if !v.IsMemory() {
			return v, errors.Errorf("array operand %s", v)
		}
		return addressOf(v), nil
	}
	return ctx.operand(ref)
}

// elemOf is the element type indexed through ty
func elemOf(ty types.Type) types.Type {
	if arr, ok := types.PointeeArray(ty); ok {
		return arr.Elem
	}
	return types.ElemType(ty)
}

// scaleAdd sets dst = base +/- index*size
func (ctx *genContext) scaleAdd(tag mir.Tag, dst, base, index a64.Register, size uint64) {
	switch {
	case size == 0:
		ctx.mov(dst, base)
	case bits.OnesCount64(size) == 1:
		ctx.emit(tag, mir.RRShifted{Rd: dst, Rn: base, Rm: index, Shift: mir.ShiftLSL, Amount: uint8(bits.TrailingZeros64(size))})
	default:
		ctx.emitSeq(mir.MoveImmediate(a64.IP1, size))
		mul := mir.Madd
		if tag == mir.Sub {
			mul = mir.Msub
		}
		ctx.emit(mul, mir.RRRR{Rd: dst, Rn: index, Rm: a64.IP1, Ra: base})
	}
}

// elemAddr sets dst to the address of element index of lhs
func (ctx *genContext) elemAddr(dst a64.Register, lhs air.Ref, index mcv.MCValue, indexTy types.Type) error {
	size := sizeOf(elemOf(ctx.fn.TypeOf(lhs)))
	base, err := ctx.baseAddress(lhs)
	if err != nil {
		return err
	}
	if index.Kind == mcv.Immediate {
		if err := ctx.genSetReg(dst, types.Usize(), base); err != nil {
			return err
		}
		ctx.emitAddImm(dst, dst, int64(index.Imm*size))
		return nil
	}
	ir, err := ctx.toReg(indexTy, index)
	if err != nil {
		return err
	}
	if err := ctx.genSetReg(dst, types.Usize(), base); err != nil {
		return err
	}
	ctx.scaleAdd(mir.Add, dst, dst, ir, size)
	return nil
}

// elemLoc returns the memory holding element rhs of lhs
func (ctx *genContext) elemLoc(lhs, rhs air.Ref) (mcv.MCValue, error) {
	lty := ctx.fn.TypeOf(lhs)
	size := sizeOf(elemOf(lty))
	iv, err := ctx.operand(rhs)
	if err != nil {
		return iv, err
	}
	if iv.Kind == mcv.Immediate {
		var base mcv.MCValue
		switch lty.(type) {
		case types.Tarray:
			base, err = ctx.operand(lhs)
		case types.Tpointer:
			base, err = ctx.pointee(lhs)
		default:
			base, err = ctx.baseAddress(lhs)
			if err == nil {
				var r a64.Register
				if r, err = ctx.toReg(types.Usize(), base); err == nil {
					base = mcv.BaseMem(r, 0)
				}
			}
		}
		if err != nil {
			return base, err
		}
		return base.Offset(int64(iv.Imm * size)), nil
	}
	r, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if err := ctx.elemAddr(r, lhs, iv, ctx.fn.TypeOf(rhs)); err != nil {
		return mcv.MCValue{}, err
	}
	return mcv.BaseMem(r, 0), nil
}

// ptrOffset derives a pointer at a constant byte offset from operand ref
func (ctx *genContext) ptrOffset(idx air.Index, ref air.Ref, off int64) (mcv.MCValue, error) {
	v, err := ctx.reuseOperand(idx, 0, ref)
	if err != nil {
		return v, err
	}
	switch v.Kind {
	case mcv.Register:
		if off == 0 {
			return v, nil
		}
		return mcv.RegOffset(v.Reg(), off), nil
	case mcv.RegisterOffset, mcv.FrameAddr, mcv.SymbolAddr, mcv.Immediate:
		return v.Offset(off), nil
	case mcv.Undef:
		return v, nil
	}
	// a spilled pointer is reloaded; its slot is released if it was handed over
	r, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if err := ctx.genSetReg(r, types.Usize(), v); err != nil {
		return mcv.MCValue{}, err
	}
	if v.Kind == mcv.LoadFrame {
		if owner, ok := ctx.frameOwners[v.Frame]; ok && owner == idx {
			delete(ctx.frameOwners, v.Frame)
			ctx.frames.Free(v.Frame)
		}
	}
	return mcv.RegOffset(r, off), nil
}

func (ctx *genContext) airAlloc(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	elem := types.ElemType(inst.Type)
	if !types.HasRuntimeBits(elem) {
		return mcv.Imm(types.AbiAlign(elem)), nil
	}
	// stack allocations live until the function returns
	slot := ctx.frames.Allocate(uint32(sizeOf(elem)), uint32(types.AbiAlign(elem)))
	ctx.allocs[slot] = true
	return mcv.FrameAddress(slot, 0), nil
}

func (ctx *genContext) airLoad(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ty := inst.Type
	if kindOf(ty) == kindNone {
		return mcv.NoneValue(), nil
	}
	src, err := ctx.pointee(inst.Data.(air.UnOp).Operand)
	if err != nil {
		return src, err
	}
	return ctx.copyValue(idx, ty, src)
}

func (ctx *genContext) airStore(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := ctx.fn.TypeOf(d.Rhs)
	if kindOf(ty) == kindNone {
		return mcv.NoneValue(), nil
	}
	dst, err := ctx.pointee(d.Lhs)
	if err != nil {
		return dst, err
	}
	v, err := ctx.operand(d.Rhs)
	if err != nil {
		return v, err
	}
	return mcv.NoneValue(), ctx.genStore(dst, ty, v)
}

func (ctx *genContext) airFieldPtr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.StructField)
	var off uint64
	switch t := types.ElemType(ctx.fn.TypeOf(d.Operand)).(type) {
	case types.Tstruct:
		off = types.FieldOffset(t, d.Field)
	case types.Tunion:
		off = types.UnionLayoutOf(t).PayloadOffset
	default:
		return mcv.MCValue{}, notSupported("field pointer into %s", t)
	}
	return ctx.ptrOffset(idx, d.Operand, int64(off))
}

func (ctx *genContext) airFieldVal(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.StructField)
	ty := inst.Type
	if kindOf(ty) == kindNone {
		return mcv.NoneValue(), nil
	}
	aggTy := ctx.fn.TypeOf(d.Operand)
	v, err := ctx.operand(d.Operand)
	if err != nil {
		return v, err
	}
	var off uint64
	switch t := aggTy.(type) {
	case types.Tstruct:
		if v.Kind == mcv.RegisterPair {
			return ctx.copyValue(idx, ty, mcv.Reg(v.Regs[d.Field]))
		}
		off = types.FieldOffset(t, d.Field)
	case types.Tunion:
		off = types.UnionLayoutOf(t).PayloadOffset
	default:
		return mcv.MCValue{}, notSupported("field of %s", aggTy)
	}
	switch v.Kind {
	case mcv.Undef:
		return v, nil
	case mcv.LoadFrame, mcv.Memory:
		return ctx.copyValue(idx, ty, v.Offset(int64(off)))
	}
	return mcv.MCValue{}, errors.Errorf("field of %s", v)
}

func (ctx *genContext) airElemPtr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	lty := ctx.fn.TypeOf(d.Lhs)
	if _, ok := lty.(types.Tpointer); ok && d.Rhs.IsConst() {
		iv, err := ctx.resolve(d.Rhs)
		if err != nil {
			return iv, err
		}
		if iv.Kind == mcv.Immediate {
			return ctx.ptrOffset(idx, d.Lhs, int64(iv.Imm*sizeOf(elemOf(lty))))
		}
	}
	iv, err := ctx.operand(d.Rhs)
	if err != nil {
		return iv, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	return mcv.Reg(dst), ctx.elemAddr(dst, d.Lhs, iv, ctx.fn.TypeOf(d.Rhs))
}

func (ctx *genContext) airElemVal(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ty := inst.Type
	if kindOf(ty) == kindNone {
		return mcv.NoneValue(), nil
	}
	loc, err := ctx.elemLoc(d.Lhs, d.Rhs)
	if err != nil {
		return loc, err
	}
	return ctx.copyValue(idx, ty, loc)
}

func (ctx *genContext) airSlice(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	ptr, err := ctx.operand(d.Lhs)
	if err != nil {
		return ptr, err
	}
	n, err := ctx.operand(d.Rhs)
	if err != nil {
		return n, err
	}
	dst, err := ctx.allocPair(idx)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if err := ctx.genSetReg(dst[0], types.Usize(), ptr); err != nil {
		return mcv.MCValue{}, err
	}
	return mcv.Pair(dst[0], dst[1]), ctx.genSetReg(dst[1], types.Usize(), n)
}

func (ctx *genContext) airSliceField(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ptr, n, err := ctx.sliceParts(inst.Data.(air.UnOp).Operand)
	if err != nil {
		return ptr, err
	}
	if inst.Tag == air.SliceLen {
		return ctx.copyValue(idx, inst.Type, n)
	}
	return ctx.copyValue(idx, inst.Type, ptr)
}

func (ctx *genContext) airArrayToSlice(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	arr, ok := types.PointeeArray(ctx.fn.TypeOf(ref))
	if !ok {
		return mcv.MCValue{}, notSupported("array_to_slice of %s", ctx.fn.TypeOf(ref))
	}
	ptr, err := ctx.operand(ref)
	if err != nil {
		return ptr, err
	}
	dst, err := ctx.allocPair(idx)
	if err != nil {
		return mcv.MCValue{}, err
	}
	if err := ctx.genSetReg(dst[0], types.Usize(), ptr); err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emitSeq(mir.MoveImmediate(dst[1], arr.Len))
	return mcv.Pair(dst[0], dst[1]), nil
}

func (ctx *genContext) airPtrArith(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	size := sizeOf(types.ElemType(inst.Type))
	sign := int64(1)
	tag := mir.Add
	if inst.Tag == air.PtrSub {
		sign, tag = -1, mir.Sub
	}
	if d.Rhs.IsConst() {
		iv, err := ctx.resolve(d.Rhs)
		if err != nil {
			return iv, err
		}
		if iv.Kind == mcv.Immediate {
			return ctx.ptrOffset(idx, d.Lhs, sign*int64(iv.Imm*size))
		}
	}
	base, err := ctx.regOperand(d.Lhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	n, err := ctx.regOperand(d.Rhs)
	if err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	ctx.scaleAdd(tag, dst, base, n, size)
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airAggregateInit(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	elems := inst.Data.(air.AggregateData).Elems
	ty := inst.Type
	switch kindOf(ty) {
	case kindNone:
		return mcv.NoneValue(), nil
	case kindPair:
		dst, err := ctx.allocPair(idx)
		if err != nil {
			return mcv.MCValue{}, err
		}
		for i, p := range pairPieces(ty) {
			v, err := ctx.operand(elems[i])
			if err != nil {
				return v, err
			}
			if err := ctx.genSetReg(dst[i], p.ty, v); err != nil {
				return mcv.MCValue{}, err
			}
		}
		return mcv.Pair(dst[0], dst[1]), nil
	}

	slot := ctx.allocFrame(idx, ty)
	for i, ref := range elems {
		var off uint64
		elemTy := ctx.fn.TypeOf(ref)
		switch t := ty.(type) {
		case types.Tstruct:
			off = types.FieldOffset(t, i)
		case types.Tarray:
			off = uint64(i) * sizeOf(t.Elem)
		default:
			return mcv.MCValue{}, notSupported("aggregate_init of %s", ty)
		}
		v, err := ctx.operand(ref)
		if err != nil {
			return v, err
		}
		if err := ctx.genStore(mcv.Frame(slot, int64(off)), elemTy, v); err != nil {
			return mcv.MCValue{}, err
		}
	}
	return mcv.Frame(slot, 0), nil
}

// flagOf loads the byte or word that decides null and error checks into x17
func (ctx *genContext) flagOf(loc mcv.MCValue, ty types.Type) error {
	return ctx.genSetReg(a64.IP1, ty, loc)
}

func (ctx *genContext) airIsNull(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	byPtr := inst.Tag == air.IsNullPtr || inst.Tag == air.IsNonNullPtr
	optTy := ctx.fn.TypeOf(ref)
	if byPtr {
		optTy = types.ElemType(optTy)
	}
	opt, ok := optTy.(types.Toptional)
	if !ok {
		return mcv.MCValue{}, errors.Errorf("%s on %s", inst.Tag, optTy)
	}
	var loc mcv.MCValue
	var err error
	if byPtr {
		loc, err = ctx.pointee(ref)
	} else {
		loc, err = ctx.operand(ref)
	}
	if err != nil {
		return loc, err
	}

	// a null optional is all zeros when the payload is a pointer or has no
	// bits, and has a zero flag byte otherwise
	flagTy, flagOff := types.Type(types.U8()), uint64(0)
	switch {
	case types.IsPtrLikeOptional(opt):
		flagTy = types.Usize()
	case types.HasRuntimeBits(opt.Payload):
		flagOff = types.OptionalLayoutOf(opt).FlagOffset
	}
	if flagOff != 0 {
		loc = loc.Offset(int64(flagOff))
	}
	if err := ctx.flagOf(loc, flagTy); err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	cond := a64.EQ
	if inst.Tag == air.IsNonNull || inst.Tag == air.IsNonNullPtr {
		cond = a64.NE
	}
	ctx.emit(mir.Subs, mir.RImm12{Rn: a64.IP1})
	ctx.emit(mir.Cset, mir.RCond{Rd: dst, Cond: cond})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airOptionalPayload(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	opt := ctx.fn.TypeOf(ref).(types.Toptional)
	switch {
	case kindOf(inst.Type) == kindNone:
		return mcv.NoneValue(), nil
	case types.IsPtrLikeOptional(opt):
		return ctx.reuseOperand(idx, 0, ref)
	}
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	if v.Kind == mcv.Undef {
		return v, nil
	}
	return ctx.copyValue(idx, inst.Type, v)
}

// airOptionalPayloadPtr: the payload sits at offset zero
func (ctx *genContext) airOptionalPayloadPtr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	return ctx.reuseOperand(idx, 0, inst.Data.(air.UnOp).Operand)
}

func (ctx *genContext) airWrapOptional(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	opt := inst.Type.(types.Toptional)
	switch {
	case types.IsPtrLikeOptional(opt):
		return ctx.reuseOperand(idx, 0, ref)
	case !types.HasRuntimeBits(opt.Payload):
		return mcv.Imm(1), nil
	}
	slot := ctx.allocFrame(idx, opt)
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	if err := ctx.genStore(mcv.Frame(slot, 0), opt.Payload, v); err != nil {
		return mcv.MCValue{}, err
	}
	ctx.emitSeq(mir.MoveImmediate(a64.IP1, 1))
	ctx.genStoreReg(a64.IP1, mcv.Frame(slot, int64(types.OptionalLayoutOf(opt).FlagOffset)), 1)
	return mcv.Frame(slot, 0), nil
}

// errLoc returns where the error code of an error union value lives
func errLoc(eu types.Terrorunion, v mcv.MCValue) mcv.MCValue {
	if kindOf(eu) == kindInt {
		return v
	}
	return v.Offset(int64(types.ErrorUnionLayoutOf(eu).ErrOffset))
}

func (ctx *genContext) airIsErr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	eu := ctx.fn.TypeOf(ref).(types.Terrorunion)
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	if err := ctx.flagOf(errLoc(eu, v), types.ErrorSet()); err != nil {
		return mcv.MCValue{}, err
	}
	dst, err := ctx.allocReg(idx, a64.GeneralPurpose)
	if err != nil {
		return mcv.MCValue{}, err
	}
	cond := a64.NE
	if inst.Tag == air.IsNonErr {
		cond = a64.EQ
	}
	ctx.emit(mir.Subs, mir.RImm12{Rn: a64.IP1})
	ctx.emit(mir.Cset, mir.RCond{Rd: dst, Cond: cond})
	return mcv.Reg(dst), nil
}

func (ctx *genContext) airUnwrapPayload(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	eu := ctx.fn.TypeOf(ref).(types.Terrorunion)
	if kindOf(inst.Type) == kindNone {
		return mcv.NoneValue(), nil
	}
	v, err := ctx.operand(ref)
	if err != nil || v.Kind == mcv.Undef {
		return v, err
	}
	return ctx.copyValue(idx, inst.Type, v.Offset(int64(types.ErrorUnionLayoutOf(eu).PayloadOffset)))
}

func (ctx *genContext) airUnwrapErr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	eu := ctx.fn.TypeOf(ref).(types.Terrorunion)
	if kindOf(eu) == kindInt {
		return ctx.reuseOperand(idx, 0, ref)
	}
	v, err := ctx.operand(ref)
	if err != nil || v.Kind == mcv.Undef {
		return v, err
	}
	return ctx.copyValue(idx, inst.Type, errLoc(eu, v))
}

func (ctx *genContext) airWrapPayload(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	eu := inst.Type.(types.Terrorunion)
	if kindOf(eu) == kindInt {
		return mcv.Imm(0), nil
	}
	l := types.ErrorUnionLayoutOf(eu)
	slot := ctx.allocFrame(idx, eu)
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	if err := ctx.genStore(mcv.Frame(slot, int64(l.PayloadOffset)), eu.Payload, v); err != nil {
		return mcv.MCValue{}, err
	}
	ctx.genStoreReg(a64.XZR, mcv.Frame(slot, int64(l.ErrOffset)), sizeOf(types.ErrorSet()))
	return mcv.Frame(slot, 0), nil
}

func (ctx *genContext) airWrapErr(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	eu := inst.Type.(types.Terrorunion)
	if kindOf(eu) == kindInt {
		return ctx.reuseOperand(idx, 0, ref)
	}
	slot := ctx.allocFrame(idx, eu)
	v, err := ctx.operand(ref)
	if err != nil {
		return v, err
	}
	off := int64(types.ErrorUnionLayoutOf(eu).ErrOffset)
	return mcv.Frame(slot, 0), ctx.genStore(mcv.Frame(slot, off), types.ErrorSet(), v)
}

func (ctx *genContext) airUnionInit(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.UnionInitData)
	u, ok := inst.Type.(types.Tunion)
	if !ok {
		return mcv.MCValue{}, errors.Errorf("union_init of %s", inst.Type)
	}
	if kindOf(u) == kindNone {
		return mcv.NoneValue(), nil
	}
	l := types.UnionLayoutOf(u)
	slot := ctx.allocFrame(idx, u)
	v, err := ctx.operand(d.Init)
	if err != nil {
		return v, err
	}
	if err := ctx.genStore(mcv.Frame(slot, int64(l.PayloadOffset)), u.Fields[d.Field].Type, v); err != nil {
		return mcv.MCValue{}, err
	}
	if l.TagType != nil {
		err = ctx.genStore(mcv.Frame(slot, int64(l.TagOffset)), l.TagType, mcv.Imm(uint64(d.Field)))
	}
	return mcv.Frame(slot, 0), err
}

func (ctx *genContext) airGetUnionTag(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	ref := inst.Data.(air.UnOp).Operand
	u := ctx.fn.TypeOf(ref).(types.Tunion)
	l := types.UnionLayoutOf(u)
	if l.TagType == nil {
		return mcv.MCValue{}, errors.Errorf("get_union_tag of untagged %s", u)
	}
	v, err := ctx.operand(ref)
	if err != nil || v.Kind == mcv.Undef {
		return v, err
	}
	return ctx.copyValue(idx, inst.Type, v.Offset(int64(l.TagOffset)))
}

func (ctx *genContext) airSetUnionTag(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	u := types.ElemType(ctx.fn.TypeOf(d.Lhs)).(types.Tunion)
	l := types.UnionLayoutOf(u)
	if l.TagType == nil {
		return mcv.NoneValue(), nil
	}
	dst, err := ctx.pointee(d.Lhs)
	if err != nil {
		return dst, err
	}
	v, err := ctx.operand(d.Rhs)
	if err != nil {
		return v, err
	}
	return mcv.NoneValue(), ctx.genStore(dst.Offset(int64(l.TagOffset)), l.TagType, v)
}

// destParts returns the pointer and element count of a memset or memcpy
// destination; known is set when the count is a compile-time array length
func (ctx *genContext) destParts(ref air.Ref) (ptr, n mcv.MCValue, known bool, err error) {
	ty := ctx.fn.TypeOf(ref)
	if arr, ok := types.PointeeArray(ty); ok {
		ptr, err = ctx.operand(ref)
		return ptr, mcv.Imm(arr.Len), true, err
	}
	if _, ok := ty.(types.Tslice); ok {
		ptr, n, err = ctx.sliceParts(ref)
		return ptr, n, false, err
	}
	return ptr, n, false, notSupported("bulk memory on %s", ty)
}

func (ctx *genContext) airMemset(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	elemTy := elemOf(ctx.fn.TypeOf(d.Lhs))
	size := sizeOf(elemTy)
	ptr, n, known, err := ctx.destParts(d.Lhs)
	if err != nil {
		return mcv.NoneValue(), err
	}
	v, err := ctx.operand(d.Rhs)
	if err != nil || v.Kind == mcv.Undef || size == 0 {
		return mcv.NoneValue(), err
	}
	if known && n.Imm*size <= maxUnrolled {
		dst, err := ctx.derefValue(ptr)
		if err != nil {
			return mcv.NoneValue(), err
		}
		if size == 1 {
			return mcv.NoneValue(), ctx.fillBytes(dst, v, n.Imm)
		}
		for i := uint64(0); i < n.Imm; i++ {
			if err := ctx.genStore(dst.Offset(int64(i*size)), elemTy, v); err != nil {
				return mcv.NoneValue(), err
			}
		}
		return mcv.NoneValue(), nil
	}

	p, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.NoneValue(), err
	}
	count, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.NoneValue(), err
	}
	if err := ctx.genSetReg(p, types.Usize(), ptr); err != nil {
		return mcv.NoneValue(), err
	}
	if err := ctx.genSetReg(count, types.Usize(), n); err != nil {
		return mcv.NoneValue(), err
	}
	skip := ctx.emit(mir.Cbz, mir.CompareBranch{Rt: count, Target: mir.PlaceholderTarget})
	loop := ctx.here()
	if err := ctx.genStore(mcv.BaseMem(p, 0), elemTy, v); err != nil {
		return mcv.NoneValue(), err
	}
	ctx.emitAddImm(p, p, int64(size))
	ctx.emit(mir.Subs, mir.RRImm12{Rd: count, Rn: count, Imm: 1})
	ctx.emit(mir.BCond, mir.CondBranch{Cond: a64.NE, Target: uint32(loop)})
	ctx.patch(skip, ctx.here())
	return mcv.NoneValue(), nil
}

// fillBytes stores a byte value n times: the byte is splatted across x17,
// then written in 8-byte chunks followed by single bytes
func (ctx *genContext) fillBytes(dst, v mcv.MCValue, n uint64) error {
	if v.Kind == mcv.Immediate {
		ctx.emitSeq(mir.MoveImmediate(a64.IP1, (v.Imm&0xff)*0x0101010101010101))
	} else {
		if err := ctx.genSetReg(a64.IP1, types.U8(), v); err != nil {
			return err
		}
		if n >= 8 {
			for _, sh := range []uint8{8, 16, 32} {
				ctx.emit(mir.Orr, mir.RRShifted{Rd: a64.IP1, Rn: a64.IP1, Rm: a64.IP1, Shift: mir.ShiftLSL, Amount: sh})
			}
		}
	}
	var off uint64
	for ; n-off >= 8; off += 8 {
		ctx.genStoreReg(a64.IP1, dst.Offset(int64(off)), 8)
	}
	for ; off < n; off++ {
		ctx.genStoreReg(a64.IP1, dst.Offset(int64(off)), 1)
	}
	return nil
}

func (ctx *genContext) airMemcpy(inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.BinOp)
	size := sizeOf(elemOf(ctx.fn.TypeOf(d.Lhs)))
	dptr, n, known, err := ctx.destParts(d.Lhs)
	if err != nil {
		return mcv.NoneValue(), err
	}
	sptr, err := ctx.baseAddress(d.Rhs)
	if err != nil {
		return mcv.NoneValue(), err
	}
	if known {
		dst, err := ctx.derefValue(dptr)
		if err != nil {
			return mcv.NoneValue(), err
		}
		src, err := ctx.derefValue(sptr)
		if err != nil {
			return mcv.NoneValue(), err
		}
		return mcv.NoneValue(), ctx.genCopy(dst, src, n.Imm*size)
	}

	dr, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.NoneValue(), err
	}
	sr, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.NoneValue(), err
	}
	count, err := ctx.tempReg(a64.GeneralPurpose)
	if err != nil {
		return mcv.NoneValue(), err
	}
	for _, set := range []struct {
		r a64.Register
		v mcv.MCValue
	}{{dr, dptr}, {sr, sptr}, {count, n}} {
		if err := ctx.genSetReg(set.r, types.Usize(), set.v); err != nil {
			return mcv.NoneValue(), err
		}
	}
	// whole words when the element size allows, bytes otherwise
	chunk := uint64(1)
	if size%8 == 0 {
		chunk = 8
	}
	if factor := size / chunk; factor > 1 {
		ctx.emitSeq(mir.MoveImmediate(a64.IP1, factor))
		ctx.emit(mir.Mul, mir.RRR{Rd: count, Rn: count, Rm: a64.IP1})
	}
	skip := ctx.emit(mir.Cbz, mir.CompareBranch{Rt: count, Target: mir.PlaceholderTarget})
	loop := ctx.here()
	ldr, str, rt := mir.Ldrb, mir.Strb, a64.IP1.ToW()
	if chunk == 8 {
		ldr, str, rt = mir.Ldr, mir.Str, a64.IP1
	}
	ctx.emit(ldr, mir.LoadStore{Rt: rt, Rn: sr, Offset: int32(chunk), Mode: mir.AddrPostIndex})
	ctx.emit(str, mir.LoadStore{Rt: rt, Rn: dr, Offset: int32(chunk), Mode: mir.AddrPostIndex})
	ctx.emit(mir.Subs, mir.RRImm12{Rd: count, Rn: count, Imm: 1})
	ctx.emit(mir.BCond, mir.CondBranch{Cond: a64.NE, Target: uint32(loop)})
	ctx.patch(skip, ctx.here())
	return mcv.NoneValue(), nil
}

// derefValue turns an address value into the memory it addresses
func (ctx *genContext) derefValue(ptr mcv.MCValue) (mcv.MCValue, error) {
	if m, ok := ptr.Deref(); ok {
		return m, nil
	}
	r, err := ctx.toReg(types.Usize(), ptr)
	if err != nil {
		return mcv.MCValue{}, err
	}
	return mcv.BaseMem(r, 0), nil
}
