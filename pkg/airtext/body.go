package airtext

import (
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// instNode is one instruction of a body. Which fields apply depends on op.
type instNode struct {
	ID      string     `yaml:"id"`
	Op      string     `yaml:"op"`
	Type    string     `yaml:"type"`
	Args    []string   `yaml:"args"`
	Field   int        `yaml:"field"`
	Order   string     `yaml:"order"`
	Failure string     `yaml:"failure"`
	Rmw     string     `yaml:"rmw"`
	Weak    bool       `yaml:"weak"`
	Name    string     `yaml:"name"`
	Line    uint32     `yaml:"line"`
	Col     uint32     `yaml:"col"`
	Body    []instNode `yaml:"body"`
	Then    []instNode `yaml:"then"`
	Else    []instNode `yaml:"else"`
	Cases   []caseNode `yaml:"cases"`
	Asm     *asmNode   `yaml:"asm"`

	line int
}

type caseNode struct {
	Items []string   `yaml:"items"`
	Body  []instNode `yaml:"body"`
}

type asmNode struct {
	Source   string          `yaml:"source"`
	Outputs  []asmOutputNode `yaml:"outputs"`
	Inputs   []asmInputNode  `yaml:"inputs"`
	Clobbers []string        `yaml:"clobbers"`
	Volatile bool            `yaml:"volatile"`
}

type asmOutputNode struct {
	Name       string `yaml:"name"`
	Constraint string `yaml:"constraint"`
}

type asmInputNode struct {
	Name       string `yaml:"name"`
	Constraint string `yaml:"constraint"`
	Operand    string `yaml:"operand"`
}

var instKeys = mapset.NewThreadUnsafeSet(
	"id", "op", "type", "args", "field", "order", "failure", "rmw", "weak",
	"name", "line", "col", "body", "then", "else", "cases", "asm",
)

// UnmarshalYAML keeps the source line for error messages and rejects
// misspelled keys
func (n *instNode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content); i += 2 {
			if key := node.Content[i].Value; !instKeys.Contains(key) {
				return errors.Errorf("line %d: unknown instruction key %q", node.Content[i].Line, key)
			}
		}
	}
	type plain instNode
	if err := node.Decode((*plain)(n)); err != nil {
		return err
	}
	n.line = node.Line
	return nil
}

// funcBuilder turns instruction nodes into builder calls for one function
type funcBuilder struct {
	*loader
	b      *air.Builder
	values map[string]air.Ref
	err    error
}

func (fb *funcBuilder) define(name string, r air.Ref) error {
	if name == "" {
		return nil
	}
	if _, dup := fb.values[name]; dup {
		return errors.Errorf("value %s defined twice", name)
	}
	fb.values[name] = r
	return nil
}

func (fb *funcBuilder) body(nodes []instNode) error {
	for _, n := range nodes {
		if err := fb.inst(n); err != nil {
			return errors.Wrapf(err, "line %d: %s", n.line, n.Op)
		}
	}
	return nil
}

// nested returns a builder callback for a nested body. Its first error is
// kept on fb because the builder callbacks return nothing.
func (fb *funcBuilder) nested(nodes []instNode) func() {
	return func() {
		if fb.err != nil {
			return
		}
		fb.err = fb.body(nodes)
	}
}

func (fb *funcBuilder) takeErr() error {
	err := fb.err
	fb.err = nil
	return err
}

func (fb *funcBuilder) operand(s string) (air.Ref, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return air.NoRef, errors.New("empty operand")
	case strings.HasPrefix(s, "@"):
		t, ok := fb.symbols[s[1:]]
		if !ok {
			return air.NoRef, errors.Errorf("unknown symbol %s", s)
		}
		return fb.b.Nav(s[1:], t), nil
	case strings.HasPrefix(s, "str "):
		text, err := strconv.Unquote(strings.TrimSpace(s[4:]))
		if err != nil {
			return air.NoRef, errors.Wrapf(err, "string constant %s", s)
		}
		return fb.b.Bytes([]byte(text)), nil
	}
	if r, ok := fb.values[s]; ok {
		return r, nil
	}
	sp := strings.LastIndexByte(s, ' ')
	if sp < 0 {
		return air.NoRef, errors.Errorf("undefined value %s", s)
	}
	ty, err := fb.parseType(s[:sp])
	if err != nil {
		return air.NoRef, err
	}
	return fb.constant(ty, s[sp+1:])
}

func (fb *funcBuilder) constant(ty types.Type, lit string) (air.Ref, error) {
	switch lit {
	case "undef":
		return fb.b.Undef(ty), nil
	case "null":
		return fb.b.Null(ty), nil
	case "true", "false":
		if _, ok := ty.(types.Tbool); !ok {
			return air.NoRef, errors.Errorf("%s constant %s", ty, lit)
		}
		return fb.b.Bool(lit == "true"), nil
	}
	if types.IsFloat(ty) {
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return air.NoRef, errors.Wrapf(err, "%s constant", ty)
		}
		return fb.b.Float(ty, v), nil
	}
	if _, _, ok := types.IntInfo(ty); !ok {
		return air.NoRef, errors.Errorf("%s has no literal form", ty)
	}
	if v, err := strconv.ParseInt(lit, 0, 64); err == nil {
		return fb.b.Int(ty, v), nil
	}
	u, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		return air.NoRef, errors.Wrapf(err, "%s constant", ty)
	}
	return fb.b.Const(air.Constant{Kind: air.ConstInt, Type: ty, Int: u}), nil
}

func (fb *funcBuilder) operands(args []string) ([]air.Ref, error) {
	refs := make([]air.Ref, len(args))
	for i, a := range args {
		r, err := fb.operand(a)
		if err != nil {
			return nil, err
		}
		refs[i] = r
	}
	return refs, nil
}

func ordering(s string) (air.Ordering, error) {
	if s == "" {
		return air.SeqCst, nil
	}
	o, ok := air.ParseOrdering(s)
	if !ok {
		return 0, errors.Errorf("unknown ordering %s", s)
	}
	return o, nil
}

func arity(tag air.Tag, args []air.Ref, least, most int) error {
	if len(args) < least || len(args) > most {
		if least == most {
			return errors.Errorf("%s takes %d operands, got %d", tag, least, len(args))
		}
		return errors.Errorf("%s takes %d to %d operands, got %d", tag, least, most, len(args))
	}
	return nil
}

func (fb *funcBuilder) inst(n instNode) error {
	tag, ok := air.ParseTag(n.Op)
	if !ok {
		return errors.Errorf("unknown instruction %q", n.Op)
	}
	if tag == air.Arg {
		return errors.New("arguments are bound from params")
	}

	switch tag {
	case air.Block:
		ty := types.Void()
		if n.Type != "" {
			t, err := fb.parseType(n.Type)
			if err != nil {
				return err
			}
			ty = t
		}
		fb.b.Block(ty, func(block air.Ref) {
			if fb.err = fb.define(n.ID, block); fb.err == nil {
				fb.nested(n.Body)()
			}
		})
		return fb.takeErr()
	case air.Loop:
		fb.b.Loop(func(loop air.Ref) {
			if fb.err = fb.define(n.ID, loop); fb.err == nil {
				fb.nested(n.Body)()
			}
		})
		return fb.takeErr()
	case air.CondBr:
		args, err := fb.operands(n.Args)
		if err != nil {
			return err
		}
		if err := arity(tag, args, 1, 1); err != nil {
			return err
		}
		fb.b.CondBr(args[0], fb.nested(n.Then), fb.nested(n.Else))
		return fb.takeErr()
	case air.SwitchBr:
		args, err := fb.operands(n.Args)
		if err != nil {
			return err
		}
		if err := arity(tag, args, 1, 1); err != nil {
			return err
		}
		cases := make([]air.Case, len(n.Cases))
		for i, c := range n.Cases {
			items, err := fb.operands(c.Items)
			if err != nil {
				return errors.Wrapf(err, "case %d", i)
			}
			cases[i] = air.Case{Items: items, Fill: fb.nested(c.Body)}
		}
		fb.b.Switch(args[0], cases, fb.nested(n.Else))
		return fb.takeErr()
	}

	args, err := fb.operands(n.Args)
	if err != nil {
		return err
	}
	var r air.Ref
	switch tag {
	case air.Br:
		if err := arity(tag, args, 1, 2); err != nil {
			return err
		}
		operand := air.NoRef
		if len(args) == 2 {
			operand = args[1]
		}
		fb.b.Br(args[0], operand)
		return nil
	case air.Repeat:
		if err := arity(tag, args, 1, 1); err != nil {
			return err
		}
		fb.b.Repeat(args[0])
		return nil
	case air.Ret:
		if err := arity(tag, args, 0, 1); err != nil {
			return err
		}
		operand := air.NoRef
		if len(args) == 1 {
			operand = args[0]
		}
		fb.b.Ret(operand)
		return nil
	case air.DbgStmt:
		fb.b.DbgStmt(n.Line, n.Col)
		return nil
	case air.Alloc:
		elem, err := fb.parseType(n.Type)
		if err != nil {
			return err
		}
		r = fb.b.Alloc(elem)
	case air.Call:
		if len(args) == 0 {
			return errors.New("call without a callee")
		}
		r = fb.b.Call(args[0], args[1:]...)
	case air.StructFieldVal, air.StructFieldPtr:
		if err := arity(tag, args, 1, 1); err != nil {
			return err
		}
		if tag == air.StructFieldVal {
			r = fb.b.FieldVal(args[0], n.Field)
		} else {
			r = fb.b.FieldPtr(args[0], n.Field)
		}
	case air.Asm:
		if r, err = fb.asm(n); err != nil {
			return err
		}
	default:
		data, err := fb.data(tag, n, args)
		if err != nil {
			return err
		}
		ty, err := fb.resultType(tag, n, args)
		if err != nil {
			return err
		}
		r = fb.b.Emit(tag, ty, data)
	}
	return fb.define(n.ID, r)
}

// data builds the payload of the instructions without a builder shortcut
func (fb *funcBuilder) data(tag air.Tag, n instNode, args []air.Ref) (air.Data, error) {
	order, err := ordering(n.Order)
	if err != nil {
		return nil, err
	}
	switch tag {
	case air.AtomicLoad:
		if err := arity(tag, args, 1, 1); err != nil {
			return nil, err
		}
		return air.AtomicLoadData{Ptr: args[0], Order: order}, nil
	case air.AtomicStore:
		if err := arity(tag, args, 2, 2); err != nil {
			return nil, err
		}
		return air.AtomicStoreData{Ptr: args[0], Value: args[1], Order: order}, nil
	case air.AtomicRmw:
		if err := arity(tag, args, 2, 2); err != nil {
			return nil, err
		}
		op, ok := air.ParseRmwOp(n.Rmw)
		if !ok {
			return nil, errors.Errorf("unknown rmw operation %q", n.Rmw)
		}
		return air.AtomicRmwData{Ptr: args[0], Operand: args[1], Op: op, Order: order}, nil
	case air.Cmpxchg:
		if err := arity(tag, args, 3, 3); err != nil {
			return nil, err
		}
		failure := order
		if n.Failure != "" {
			if failure, err = ordering(n.Failure); err != nil {
				return nil, err
			}
		}
		return air.CmpxchgData{Ptr: args[0], Expected: args[1], New: args[2], Success: order, Failure: failure, Weak: n.Weak}, nil
	case air.Fence:
		return air.FenceData{Order: order}, nil
	case air.AggregateInit:
		return air.AggregateData{Elems: args}, nil
	case air.UnionInit:
		if err := arity(tag, args, 1, 1); err != nil {
			return nil, err
		}
		return air.UnionInitData{Field: n.Field, Init: args[0]}, nil
	case air.DbgVar:
		if err := arity(tag, args, 1, 1); err != nil {
			return nil, err
		}
		return air.DbgVarData{Operand: args[0], Name: n.Name}, nil
	}
	switch len(args) {
	case 0:
		return air.NoOp{}, nil
	case 1:
		return air.UnOp{Operand: args[0]}, nil
	case 2:
		return air.BinOp{Lhs: args[0], Rhs: args[1]}, nil
	}
	return nil, errors.Errorf("%s takes at most 2 operands, got %d", tag, len(args))
}

// resultType uses the explicit type when given and otherwise derives it
// from the operands for the instructions where that is unambiguous
func (fb *funcBuilder) resultType(tag air.Tag, n instNode, args []air.Ref) (types.Type, error) {
	if n.Type != "" {
		return fb.parseType(n.Type)
	}
	first := func() types.Type { return fb.b.TypeOf(args[0]) }
	switch tag {
	case air.CmpLt, air.CmpLte, air.CmpEq, air.CmpGte, air.CmpGt, air.CmpNeq,
		air.BoolAnd, air.BoolOr, air.IsNull, air.IsNonNull, air.IsNullPtr, air.IsNonNullPtr,
		air.IsErr, air.IsNonErr:
		return types.Bool(), nil
	case air.Store, air.AtomicStore, air.Memset, air.Memcpy, air.Fence, air.DbgVar,
		air.SetUnionTag, air.Breakpoint, air.Prefetch:
		return types.Void(), nil
	case air.Unreach, air.Trap:
		return types.NoReturn(), nil
	case air.RetAddr, air.FrameAddr, air.SliceLen, air.IntFromPtr:
		return types.Usize(), nil
	case air.UnwrapErrUnionErr:
		return types.ErrorSet(), nil
	}
	if len(args) == 0 {
		return nil, errors.Errorf("%s needs a type", tag)
	}
	switch tag {
	case air.AddWithOverflow, air.SubWithOverflow, air.MulWithOverflow, air.ShlWithOverflow:
		return types.OverflowTuple(first()), nil
	case air.Load, air.AtomicLoad, air.SliceElemVal, air.ArrayElemVal:
		return types.ElemType(first()), nil
	case air.SlicePtr:
		return types.Pointer(types.ElemType(first())), nil
	case air.AtomicRmw:
		return fb.b.TypeOf(args[1]), nil
	case air.Cmpxchg:
		return types.Optional(fb.b.TypeOf(args[1])), nil
	case air.OptionalPayload:
		if opt, ok := first().(types.Toptional); ok {
			return opt.Payload, nil
		}
	case air.UnwrapErrUnionPayload:
		if eu, ok := first().(types.Terrorunion); ok {
			return eu.Payload, nil
		}
	case air.Add, air.AddWrap, air.Sub, air.SubWrap, air.Mul, air.MulWrap,
		air.DivTrunc, air.DivFloor, air.DivExact, air.DivFloat, air.Rem, air.Mod,
		air.Neg, air.Min, air.Max, air.Abs, air.AddSat, air.SubSat, air.MulSat, air.ShlSat,
		air.BitAnd, air.BitOr, air.Xor, air.Not, air.Shl, air.ShlExact, air.Shr, air.ShrExact,
		air.Clz, air.Ctz, air.PopCount, air.ByteSwap, air.BitReverse, air.PtrAdd, air.PtrSub:
		return first(), nil
	}
	return nil, errors.Errorf("%s needs a type", tag)
}

func (fb *funcBuilder) asm(n instNode) (air.Ref, error) {
	if n.Asm == nil {
		return air.NoRef, errors.New("asm without an asm section")
	}
	ty := types.Void()
	if n.Type != "" {
		t, err := fb.parseType(n.Type)
		if err != nil {
			return air.NoRef, err
		}
		ty = t
	}
	d := air.AsmData{Source: n.Asm.Source, Clobbers: n.Asm.Clobbers, Volatile: n.Asm.Volatile}
	for _, o := range n.Asm.Outputs {
		d.Outputs = append(d.Outputs, air.AsmOutput{Name: o.Name, Constraint: o.Constraint})
	}
	for _, in := range n.Asm.Inputs {
		r, err := fb.operand(in.Operand)
		if err != nil {
			return air.NoRef, errors.Wrapf(err, "asm input %s", in.Name)
		}
		d.Inputs = append(d.Inputs, air.AsmInput{Name: in.Name, Constraint: in.Constraint, Operand: r})
	}
	return fb.b.Emit(air.Asm, ty, d), nil
}
