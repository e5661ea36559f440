package mir

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/raymyers/ralph-a64/pkg/a64"
)

// Printer outputs machine IR in GNU as syntax. Branch targets become local
// labels; pseudo instructions are printed by name.
type Printer struct {
	w        io.Writer
	isDarwin bool
}

// NewPrinter creates a new machine IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, isDarwin: runtime.GOOS == "darwin"}
}

// ForOS selects the symbol naming convention of the target OS
func (p *Printer) ForOS(os a64.OS) *Printer {
	p.isDarwin = os == a64.Darwin
	return p
}

// symbolName returns the symbol name with platform-appropriate prefix
func (p *Printer) symbolName(name string) string {
	if p.isDarwin {
		return "_" + name
	}
	return name
}

// PrintFunction outputs one function followed by its literal data
func (p *Printer) PrintFunction(f *Function) {
	name := p.symbolName(f.Name)
	fmt.Fprintf(p.w, "\t.text\n")
	fmt.Fprintf(p.w, "\t.align\t2\n")
	fmt.Fprintf(p.w, "\t.global\t%s\n", name)
	if !p.isDarwin {
		fmt.Fprintf(p.w, "\t.type\t%s, %%function\n", name)
	}
	fmt.Fprintf(p.w, "%s:\n", name)

	targets := make(map[uint32]bool)
	for _, inst := range f.Insts {
		if t, ok := inst.Target(); ok {
			targets[t] = true
		}
	}
	label := func(t uint32) string { return fmt.Sprintf(".L%s_%d", f.Name, t) }
	for i, inst := range f.Insts {
		if targets[uint32(i)] {
			fmt.Fprintf(p.w, "%s:\n", label(uint32(i)))
		}
		fmt.Fprintf(p.w, "\t%s\n", format(inst, label, p.symbolName))
	}
	if targets[uint32(len(f.Insts))] {
		fmt.Fprintf(p.w, "%s:\n", label(uint32(len(f.Insts))))
	}
	if !p.isDarwin {
		fmt.Fprintf(p.w, "\t.size\t%s, .-%s\n", name, name)
	}

	if len(f.Literals) > 0 {
		if p.isDarwin {
			fmt.Fprintf(p.w, "\t.section\t__TEXT,__const\n")
		} else {
			fmt.Fprintf(p.w, "\t.section\t.rodata\n")
		}
		for _, lit := range f.Literals {
			fmt.Fprintf(p.w, "%s:\n", lit.Symbol)
			for _, b := range lit.Bytes {
				fmt.Fprintf(p.w, "\t.byte\t%d\n", b)
			}
		}
	}
	fmt.Fprintf(p.w, "\n")
}

func (i Inst) String() string {
	return format(i, func(t uint32) string {
		if t == PlaceholderTarget {
			return "<pending>"
		}
		return fmt.Sprintf("#%d", t)
	}, func(s string) string { return s })
}

func imm12(v uint16, shift bool) string {
	if shift {
		return fmt.Sprintf("#%d, lsl #12", v)
	}
	return fmt.Sprintf("#%d", v)
}

func memOperand(rn a64.Register, off int32, mode AddrMode) string {
	switch mode {
	case AddrPreIndex:
		return fmt.Sprintf("[%s, #%d]!", rn, off)
	case AddrPostIndex:
		return fmt.Sprintf("[%s], #%d", rn, off)
	}
	if off == 0 {
		return fmt.Sprintf("[%s]", rn)
	}
	return fmt.Sprintf("[%s, #%d]", rn, off)
}

func sizeSuffix(size uint8) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "h"
	}
	return ""
}

// DataReg views a general-purpose register at the width of a size-byte
// access: w for up to four bytes, x otherwise
func DataReg(r a64.Register, size uint8) a64.Register {
	if size == 0 || size > 4 {
		return r.ToX()
	}
	return r.ToW()
}

// aliasFor returns the mnemonic used when the destination is the zero register
func aliasFor(tag Tag, rd a64.Register) string {
	if !rd.IsZero() {
		return tag.String()
	}
	switch tag {
	case Subs:
		return "cmp"
	case Adds:
		return "cmn"
	case Ands:
		return "tst"
	}
	return tag.String()
}

func format(inst Inst, label func(uint32) string, sym func(string) string) string {
	name := inst.Tag.String()
	switch d := inst.Data.(type) {
	case NoData:
		return name
	case R:
		if inst.Tag == Ret && d.Rn == a64.LR {
			return "ret"
		}
		return fmt.Sprintf("%s\t%s", name, d.Rn)
	case RR:
		return fmt.Sprintf("%s\t%s, %s", name, d.Rd, d.Rn)
	case RRR:
		return fmt.Sprintf("%s\t%s, %s, %s", name, d.Rd, d.Rn, d.Rm)
	case RRRR:
		return fmt.Sprintf("%s\t%s, %s, %s, %s", name, d.Rd, d.Rn, d.Rm, d.Ra)
	case RImm12:
		return fmt.Sprintf("%s\t%s, %s", aliasFor(inst.Tag, a64.XZR), d.Rn, imm12(d.Imm, d.Shift12))
	case RRImm12:
		if d.Rd.IsZero() && (inst.Tag == Subs || inst.Tag == Adds) {
			return fmt.Sprintf("%s\t%s, %s", aliasFor(inst.Tag, d.Rd), d.Rn, imm12(d.Imm, d.Shift12))
		}
		return fmt.Sprintf("%s\t%s, %s, %s", name, d.Rd, d.Rn, imm12(d.Imm, d.Shift12))
	case RRBitmask:
		if d.Rd.IsZero() && inst.Tag == Ands {
			return fmt.Sprintf("tst\t%s, #%#x", d.Rn, d.Imm)
		}
		return fmt.Sprintf("%s\t%s, %s, #%#x", name, d.Rd, d.Rn, d.Imm)
	case RRShifted:
		shift := ""
		if d.Amount != 0 {
			shift = fmt.Sprintf(", %s #%d", d.Shift, d.Amount)
		}
		if d.Rd.IsZero() && (inst.Tag == Subs || inst.Tag == Adds || inst.Tag == Ands) {
			return fmt.Sprintf("%s\t%s, %s%s", aliasFor(inst.Tag, d.Rd), d.Rn, d.Rm, shift)
		}
		return fmt.Sprintf("%s\t%s, %s, %s%s", name, d.Rd, d.Rn, d.Rm, shift)
	case RRExtend:
		ext := d.Extend.String()
		if d.Amount != 0 {
			ext += fmt.Sprintf(" #%d", d.Amount)
		}
		if d.Rd.IsZero() && (inst.Tag == Subs || inst.Tag == Adds) {
			return fmt.Sprintf("%s\t%s, %s, %s", aliasFor(inst.Tag, d.Rd), d.Rn, d.Rm, ext)
		}
		return fmt.Sprintf("%s\t%s, %s, %s, %s", name, d.Rd, d.Rn, d.Rm, ext)
	case RRImm6:
		return fmt.Sprintf("%s\t%s, %s, #%d", name, d.Rd, d.Rn, d.Amount)
	case RImm16:
		if d.Hw != 0 {
			return fmt.Sprintf("%s\t%s, #%#x, lsl #%d", name, d.Rd, d.Imm, 16*int(d.Hw))
		}
		return fmt.Sprintf("%s\t%s, #%#x", name, d.Rd, d.Imm)
	case RRBitfield:
		if inst.Tag != Bfm && d.Imms >= d.Immr {
			alias := "ubfx"
			if inst.Tag == Sbfm {
				alias = "sbfx"
			}
			return fmt.Sprintf("%s\t%s, %s, #%d, #%d", alias, d.Rd, d.Rn, d.Immr, d.Imms-d.Immr+1)
		}
		return fmt.Sprintf("%s\t%s, %s, #%d, #%d", name, d.Rd, d.Rn, d.Immr, d.Imms)
	case RCond:
		return fmt.Sprintf("%s\t%s, %s", name, d.Rd, d.Cond)
	case RRRCond:
		return fmt.Sprintf("%s\t%s, %s, %s, %s", name, d.Rd, d.Rn, d.Rm, d.Cond)
	case LoadStore:
		return fmt.Sprintf("%s\t%s, %s", name, d.Rt, memOperand(d.Rn, d.Offset, d.Mode))
	case LoadStoreRegister:
		idx := d.Rm.String()
		switch {
		case d.Extend == ExtUXTX && d.Scaled:
			idx += fmt.Sprintf(", lsl #%d", ScaleOf(inst.Tag, d.Rt))
		case d.Extend != ExtUXTX:
			idx += ", " + d.Extend.String()
			if d.Scaled {
				idx += fmt.Sprintf(" #%d", ScaleOf(inst.Tag, d.Rt))
			}
		}
		return fmt.Sprintf("%s\t%s, [%s, %s]", name, d.Rt, d.Rn, idx)
	case LoadStorePair:
		return fmt.Sprintf("%s\t%s, %s, %s", name, d.Rt, d.Rt2, memOperand(d.Rn, d.Offset, d.Mode))
	case Exclusive:
		name += sizeSuffix(d.Size)
		rt := DataReg(d.Rt, d.Size)
		if inst.Tag == Stxr || inst.Tag == Stlxr {
			return fmt.Sprintf("%s\t%s, %s, [%s]", name, d.Rs.ToW(), rt, d.Rn)
		}
		return fmt.Sprintf("%s\t%s, [%s]", name, rt, d.Rn)
	case Atomic:
		switch {
		case d.Acquire && d.Release:
			name += "al"
		case d.Acquire:
			name += "a"
		case d.Release:
			name += "l"
		}
		name += sizeSuffix(d.Size)
		return fmt.Sprintf("%s\t%s, %s, [%s]", name, DataReg(d.Rs, d.Size), DataReg(d.Rt, d.Size), d.Rn)
	case Branch:
		return fmt.Sprintf("%s\t%s", name, label(d.Target))
	case CondBranch:
		return fmt.Sprintf("b.%s\t%s", d.Cond, label(d.Target))
	case CompareBranch:
		return fmt.Sprintf("%s\t%s, %s", name, d.Rt, label(d.Target))
	case Call:
		return fmt.Sprintf("%s\t%s", name, sym(d.Symbol))
	case Barrier:
		return fmt.Sprintf("%s\t%s", name, d.Option)
	case Imm16:
		return fmt.Sprintf("%s\t#%#x", name, d.Imm)
	case FrameRef:
		return fmt.Sprintf("%s\t%s, [%s%+d]", name, d.Reg, d.Frame, d.Off)
	case RegList:
		regs := make([]string, len(d.Regs))
		for i, r := range d.Regs {
			regs[i] = r.String()
		}
		return fmt.Sprintf("%s\t{%s}", name, strings.Join(regs, ", "))
	case DbgLineData:
		return fmt.Sprintf("%s\t%d:%d", name, d.Line, d.Column)
	case RawWord:
		return fmt.Sprintf("%s\t0x%08x", name, d.Word)
	case Symbol:
		if d.Offset != 0 {
			return fmt.Sprintf("%s\t%s, %s%+d", name, d.Rd, sym(d.Name), d.Offset)
		}
		return fmt.Sprintf("%s\t%s, %s", name, d.Rd, sym(d.Name))
	}
	return fmt.Sprintf("// unknown instruction: %s %T", name, inst.Data)
}

// ScaleOf is log2 of the access width of a load or store
func ScaleOf(tag Tag, rt a64.Register) int {
	switch tag {
	case Ldrb, Strb, Ldrsb:
		return 0
	case Ldrh, Strh, Ldrsh:
		return 1
	case Ldrsw:
		return 2
	}
	switch rt.Size() {
	case 8:
		return 0
	case 16:
		return 1
	case 32:
		return 2
	case 64:
		return 3
	}
	return 4
}
