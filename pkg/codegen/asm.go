package codegen

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/mcv"
	"github.com/raymyers/ralph-a64/pkg/mir"
	"github.com/raymyers/ralph-a64/pkg/regs"
)

// constraint is a parsed asm operand constraint: "r" lets the allocator
// choose, "{x3}" pins the operand to x3
type constraint struct {
	fixed bool
	reg   a64.Register
}

func parseConstraint(c string, output bool) (constraint, error) {
	if output {
		if !strings.HasPrefix(c, "=") {
			return constraint{}, errors.Errorf("output constraint %q must start with =", c)
		}
		c = c[1:]
	}
	if c == "r" || c == "w" {
		return constraint{}, nil
	}
	if strings.HasPrefix(c, "{") && strings.HasSuffix(c, "}") {
		r, err := a64.ParseRegister(c[1 : len(c)-1])
		if err != nil {
			return constraint{}, err
		}
		return constraint{fixed: true, reg: canonicalArg(r)}, nil
	}
	return constraint{}, notSupported("asm constraint %q", c)
}

// clobber claims a register named in the clobber list, evicting its value
func (ctx *genContext) clobber(name string) error {
	switch name {
	case "memory", "cc":
		return nil
	}
	r, err := a64.ParseRegister(name)
	if err != nil {
		return errors.Wrap(err, "asm clobber")
	}
	r = canonicalArg(r)
	if !ctx.regs.IsAllocatable(r) || lo.Contains(ctx.temps, r) {
		return nil
	}
	return ctx.claimArg(r)
}

func (ctx *genContext) airAsm(idx air.Index, inst air.Instruction) (mcv.MCValue, error) {
	d := inst.Data.(air.AsmData)
	if ctx.asm == nil {
		return mcv.MCValue{}, notSupported("asm without an assembler")
	}
	if len(d.Outputs) > 1 {
		return mcv.MCValue{}, notSupported("asm with %d outputs", len(d.Outputs))
	}
	operands := make(map[string]a64.Register)

	for _, c := range d.Clobbers {
		if err := ctx.clobber(c); err != nil {
			return mcv.MCValue{}, err
		}
	}
	// the output is claimed first so a value living in its register is
	// evicted before the inputs are placed
	result := mcv.NoneValue()
	copyOut := false
	if len(d.Outputs) == 1 {
		out := d.Outputs[0]
		if k := kindOf(inst.Type); k != kindInt && k != kindFloat {
			return mcv.MCValue{}, notSupported("asm output of type %s", inst.Type)
		}
		con, err := parseConstraint(out.Constraint, true)
		if err != nil {
			return mcv.MCValue{}, errors.Wrapf(err, "asm output %s", out.Name)
		}
		var r a64.Register
		switch {
		case !con.fixed:
			r, err = ctx.allocReg(idx, classOf(inst.Type))
		case ctx.regs.IsAllocatable(con.reg):
			r = con.reg
			if err = ctx.regs.GetReg(r, regs.Owner(idx)); err == nil {
				ctx.pending = append(ctx.pending, ctx.regs.Lock(r))
			}
		default:
			// outputs in registers the allocator never hands out are copied
			// out after the snippet runs
			r, copyOut = con.reg, true
		}
		if err != nil {
			return mcv.MCValue{}, err
		}
		operands[out.Name] = r
		result = mcv.Reg(r)
	}

	for _, in := range d.Inputs {
		con, err := parseConstraint(in.Constraint, false)
		if err != nil {
			return mcv.MCValue{}, errors.Wrapf(err, "asm input %s", in.Name)
		}
		ty := ctx.fn.TypeOf(in.Operand)
		v, err := ctx.operand(in.Operand)
		if err != nil {
			return mcv.MCValue{}, err
		}
		if !con.fixed {
			r, err := ctx.toReg(ty, v)
			if err != nil {
				return mcv.MCValue{}, err
			}
			operands[in.Name] = r
			continue
		}
		if !lo.Contains(ctx.temps, con.reg) && !(result.Kind == mcv.Register && result.Reg() == con.reg) {
			if err := ctx.claimArg(con.reg); err != nil {
				return mcv.MCValue{}, err
			}
		}
		if err := ctx.genSetReg(con.reg, ty, v); err != nil {
			return mcv.MCValue{}, err
		}
		operands[in.Name] = con.reg
	}

	words, err := ctx.asm.Assemble(d.Source, operands)
	if err != nil {
		return mcv.MCValue{}, errors.Wrap(err, "asm")
	}
	for _, w := range words {
		ctx.emit(mir.Raw, mir.RawWord{Word: w})
	}

	if result.Kind != mcv.Register {
		return result, nil
	}
	if copyOut {
		dst, err := ctx.allocReg(idx, classOf(inst.Type))
		if err != nil {
			return mcv.MCValue{}, err
		}
		if err := ctx.genSetReg(dst, inst.Type, result); err != nil {
			return mcv.MCValue{}, err
		}
		result = mcv.Reg(dst)
	}
	if kindOf(inst.Type) == kindInt {
		ctx.canonicalize(result.Reg(), inst.Type)
	}
	return result, nil
}
