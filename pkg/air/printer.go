package air

import (
	"fmt"
	"io"
	"strings"
)

// Printer writes a function in a readable indented form
type Printer struct {
	w      io.Writer
	fn     *Function
	indent int
}

// NewPrinter creates a printer writing to w
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintFunction prints a function and its nested bodies
func (p *Printer) PrintFunction(fn *Function) {
	p.fn = fn
	fmt.Fprintf(p.w, "%s: %s {\n", fn.Name, fn.Type)
	p.indent = 1
	p.printBody(fn.Body)
	p.indent = 0
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("  ", p.indent), fmt.Sprintf(format, args...))
}

func (p *Printer) ref(r Ref) string {
	if r.IsConst() {
		c := p.fn.Const(r)
		return fmt.Sprintf("<%s, %s>", c.Type, c)
	}
	return r.String()
}

func (p *Printer) refs(rs []Ref) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = p.ref(r)
	}
	return strings.Join(parts, ", ")
}

func (p *Printer) printBody(body []Index) {
	for _, idx := range body {
		p.printInst(idx)
	}
}

func (p *Printer) nested(label string, body []Index) {
	p.line("%s {", label)
	p.indent++
	p.printBody(body)
	p.indent--
	p.line("}")
}

func (p *Printer) printInst(idx Index) {
	inst := p.fn.Insts[idx]
	head := fmt.Sprintf("%%%d = %s", idx, inst.Tag)
	switch d := inst.Data.(type) {
	case BodyData:
		p.nested(fmt.Sprintf("%s(%s)", head, inst.Type), d.Body)
	case CondBrData:
		p.line("%s(%s)", head, p.ref(d.Cond))
		p.nested("then", d.Then)
		p.nested("else", d.Else)
	case SwitchData:
		p.line("%s(%s)", head, p.ref(d.Operand))
		for _, c := range d.Cases {
			p.nested("case "+p.refs(c.Items), c.Body)
		}
		p.nested("else", d.Else)
	case BrData:
		p.line("%s(%%%d, %s)", head, d.Block, p.ref(d.Operand))
	case RepeatData:
		p.line("%s(%%%d)", head, d.Loop)
	case ArgData:
		p.line("%s(%s, %q)", head, inst.Type, d.Name)
	case StructField:
		p.line("%s(%s, %d)", head, p.ref(d.Operand), d.Field)
	case CallData:
		p.line("%s(%s, [%s])", head, p.ref(d.Callee), p.refs(d.Args))
	case AtomicLoadData:
		p.line("%s(%s, %s)", head, p.ref(d.Ptr), d.Order)
	case AtomicStoreData:
		p.line("%s(%s, %s, %s)", head, p.ref(d.Ptr), p.ref(d.Value), d.Order)
	case AtomicRmwData:
		p.line("%s(%s, %s, %s, %s)", head, d.Op, p.ref(d.Ptr), p.ref(d.Operand), d.Order)
	case CmpxchgData:
		kind := "strong"
		if d.Weak {
			kind = "weak"
		}
		p.line("%s(%s, %s, %s, %s, %s, %s)", head, kind, p.ref(d.Ptr), p.ref(d.Expected), p.ref(d.New), d.Success, d.Failure)
	case FenceData:
		p.line("%s(%s)", head, d.Order)
	case UnionInitData:
		p.line("%s(%d, %s)", head, d.Field, p.ref(d.Init))
	case DbgStmtData:
		p.line("%s(%d:%d)", head, d.Line, d.Column)
	case DbgVarData:
		p.line("%s(%s, %q)", head, p.ref(d.Operand), d.Name)
	case AsmData:
		p.line("%s(%q, [%s])", head, d.Source, p.refs(inst.Operands()))
	default:
		ops := inst.Operands()
		if len(ops) == 0 {
			p.line("%s(%s)", head, inst.Type)
			return
		}
		p.line("%s(%s)", head, p.refs(ops))
	}
}
