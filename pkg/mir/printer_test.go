package mir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/frame"
)

func TestFormatInstructions(t *testing.T) {
	tests := []struct {
		name string
		inst Inst
		want string
	}{
		{"add reg", New(Add, RRShifted{Rd: a64.X9, Rn: a64.X0, Rm: a64.X1}), "add\tx9, x0, x1"},
		{"add shifted", New(Add, RRShifted{Rd: a64.X0, Rn: a64.X1, Rm: a64.X2, Shift: ShiftLSL, Amount: 3}), "add\tx0, x1, x2, lsl #3"},
		{"add imm", New(Add, RRImm12{Rd: a64.SP, Rn: a64.SP, Imm: 32}), "add\tsp, sp, #32"},
		{"sub imm shifted", New(Sub, RRImm12{Rd: a64.SP, Rn: a64.SP, Imm: 1, Shift12: true}), "sub\tsp, sp, #1, lsl #12"},
		{"cmp reg", New(Subs, RRShifted{Rd: a64.XZR, Rn: a64.X0, Rm: a64.X1}), "cmp\tx0, x1"},
		{"cmp imm", New(Subs, RImm12{Rn: a64.W3, Imm: 7}), "cmp\tw3, #7"},
		{"cmn imm", New(Adds, RImm12{Rn: a64.X3, Imm: 7}), "cmn\tx3, #7"},
		{"tst", New(Ands, RRBitmask{Rd: a64.WZR, Rn: a64.W0, Imm: 1}), "tst\tw0, #0x1"},
		{"and imm", New(And, RRBitmask{Rd: a64.X0, Rn: a64.X1, Imm: 0xff}), "and\tx0, x1, #0xff"},
		{"extend", New(Add, RRExtend{Rd: a64.X0, Rn: a64.X1, Rm: a64.W2, Extend: ExtSXTW, Amount: 2}), "add\tx0, x1, w2, sxtw #2"},
		{"mov", New(Mov, RR{Rd: a64.X0, Rn: a64.X9}), "mov\tx0, x9"},
		{"movk", New(Movk, RImm16{Rd: a64.X0, Imm: 0x1234, Hw: 2}), "movk\tx0, #0x1234, lsl #32"},
		{"madd", New(Madd, RRRR{Rd: a64.X0, Rn: a64.X1, Rm: a64.X2, Ra: a64.X3}), "madd\tx0, x1, x2, x3"},
		{"lsl imm", New(Lsl, RRImm6{Rd: a64.W0, Rn: a64.W1, Amount: 4}), "lsl\tw0, w1, #4"},
		{"ubfx", New(Ubfm, RRBitfield{Rd: a64.X0, Rn: a64.X0, Immr: 0, Imms: 7}), "ubfx\tx0, x0, #0, #8"},
		{"sbfx", New(Sbfm, RRBitfield{Rd: a64.X0, Rn: a64.X1, Immr: 0, Imms: 31}), "sbfx\tx0, x1, #0, #32"},
		{"cset", New(Cset, RCond{Rd: a64.X9, Cond: a64.LT}), "cset\tx9, lt"},
		{"csel", New(Csel, RRRCond{Rd: a64.X0, Rn: a64.X1, Rm: a64.X2, Cond: a64.GT}), "csel\tx0, x1, x2, gt"},
		{"ldr", New(Ldr, LoadStore{Rt: a64.X0, Rn: a64.SP, Offset: 16}), "ldr\tx0, [sp, #16]"},
		{"ldr no offset", New(Ldrb, LoadStore{Rt: a64.W0, Rn: a64.X1}), "ldrb\tw0, [x1]"},
		{"str post", New(Strb, LoadStore{Rt: a64.W16, Rn: a64.X9, Offset: 1, Mode: AddrPostIndex}), "strb\tw16, [x9], #1"},
		{"ldr reg", New(Ldr, LoadStoreRegister{Rt: a64.X0, Rn: a64.X1, Rm: a64.X2, Extend: ExtUXTX, Scaled: true}), "ldr\tx0, [x1, x2, lsl #3]"},
		{"stp pre", New(Stp, LoadStorePair{Rt: a64.FP, Rt2: a64.LR, Rn: a64.SP, Offset: -16, Mode: AddrPreIndex}), "stp\tx29, x30, [sp, #-16]!"},
		{"ldp post", New(Ldp, LoadStorePair{Rt: a64.FP, Rt2: a64.LR, Rn: a64.SP, Offset: 16, Mode: AddrPostIndex}), "ldp\tx29, x30, [sp], #16"},
		{"ldaxr", New(Ldaxr, Exclusive{Rs: a64.WZR, Rt: a64.X0, Rn: a64.X1, Size: 8}), "ldaxr\tx0, [x1]"},
		{"stlxrb", New(Stlxr, Exclusive{Rs: a64.W17, Rt: a64.W16, Rn: a64.X1, Size: 1}), "stlxrb\tw17, w16, [x1]"},
		{"ldaddal", New(Ldadd, Atomic{Rs: a64.X1, Rt: a64.X0, Rn: a64.X2, Acquire: true, Release: true, Size: 8}), "ldaddal\tx1, x0, [x2]"},
		{"casa h", New(Cas, Atomic{Rs: a64.W1, Rt: a64.W0, Rn: a64.X2, Acquire: true, Size: 2}), "casah\tw1, w0, [x2]"},
		{"ldxr word", New(Ldxr, Exclusive{Rt: a64.X9, Rn: a64.X0, Size: 4}), "ldxr\tw9, [x0]"},
		{"stlxr word", New(Stlxr, Exclusive{Rs: a64.X16, Rt: a64.X17, Rn: a64.X0, Size: 4}), "stlxr\tw16, w17, [x0]"},
		{"ldarh", New(Ldar, Exclusive{Rt: a64.X9, Rn: a64.X0, Size: 2}), "ldarh\tw9, [x0]"},
		{"ldadd word", New(Ldadd, Atomic{Rs: a64.X1, Rt: a64.X9, Rn: a64.X0, Acquire: true, Release: true, Size: 4}), "ldaddal\tw1, w9, [x0]"},
		{"cas word", New(Cas, Atomic{Rs: a64.X1, Rt: a64.X2, Rn: a64.X0, Size: 4}), "cas\tw1, w2, [x0]"},
		{"cas dword", New(Cas, Atomic{Rs: a64.W1, Rt: a64.W2, Rn: a64.X0, Size: 8}), "cas\tx1, x2, [x0]"},
		{"b", New(B, Branch{Target: 12}), "b\t#12"},
		{"b pending", New(B, Branch{Target: PlaceholderTarget}), "b\t<pending>"},
		{"b.cond", New(BCond, CondBranch{Cond: a64.NE, Target: 3}), "b.ne\t#3"},
		{"cbz", New(Cbz, CompareBranch{Rt: a64.W9, Target: 8}), "cbz\tw9, #8"},
		{"bl", New(Bl, Call{Symbol: "memcpy"}), "bl\tmemcpy"},
		{"ret", New(Ret, R{Rn: a64.LR}), "ret"},
		{"blr", New(Blr, R{Rn: a64.X9}), "blr\tx9"},
		{"dmb", New(Dmb, Barrier{Option: BarrierISH}), "dmb\tish"},
		{"brk", New(Brk, Imm16{Imm: 1}), "brk\t#0x1"},
		{"fadd", New(Fadd, RRR{Rd: a64.D0, Rn: a64.D1, Rm: a64.D2}), "fadd\td0, d1, d2"},
		{"fcmp", New(Fcmp, RR{Rd: a64.S0, Rn: a64.S1}), "fcmp\ts0, s1"},
		{"nop", New(Nop, NoData{}), "nop"},
		{"raw", New(Raw, RawWord{Word: 0xd503201f}), ".inst\t0xd503201f"},
		{"ldr_frame", New(LdrFrame, FrameRef{Reg: a64.X9, Frame: 3, Off: 8, Size: 8}), "ldr_frame\tx9, [slot3+8]"},
		{"push_regs", New(PushRegs, RegList{Regs: []a64.Register{a64.X19, a64.X20}}), "push_regs\t{x19, x20}"},
		{"dbg_line", New(DbgLine, DbgLineData{Line: 4, Column: 2}), "dbg_line\t4:2"},
		{"symbol", New(LoadSymbolAddr, Symbol{Rd: a64.X0, Name: "msg", Offset: 4}), "load_symbol_addr\tx0, msg+4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inst.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSetsOps(t *testing.T) {
	inst := New(Add, RRR{Rd: a64.X0, Rn: a64.X1, Rm: a64.X2})
	if inst.Ops != OpsRRR {
		t.Errorf("Ops = %s, want rrr", inst.Ops)
	}
}

func TestWithTarget(t *testing.T) {
	inst := New(Cbz, CompareBranch{Rt: a64.X0, Target: PlaceholderTarget})
	inst = inst.WithTarget(5)
	if got, ok := inst.Target(); !ok || got != 5 {
		t.Errorf("Target() = %d, %v", got, ok)
	}

	defer func() {
		if recover() == nil {
			t.Error("WithTarget on a non-branch should panic")
		}
	}()
	New(Nop, NoData{}).WithTarget(1)
}

func TestPseudoTags(t *testing.T) {
	for _, tag := range []Tag{DbgLine, DbgPrologueEnd, DbgEpilogueBegin, LdrFrame, StrFrame, AddrFrame, PushRegs, PopRegs, LoadSymbolAddr} {
		if !tag.IsPseudo() {
			t.Errorf("%s should be a pseudo instruction", tag)
		}
	}
	for _, tag := range []Tag{Add, Ldr, B, Raw, Fcsel} {
		if tag.IsPseudo() {
			t.Errorf("%s should not be a pseudo instruction", tag)
		}
	}
}

func TestPrintFunction(t *testing.T) {
	f := &Function{
		Name: "loop",
		Insts: []Inst{
			New(Subs, RImm12{Rn: a64.X0, Imm: 0}),
			New(BCond, CondBranch{Cond: a64.EQ, Target: 4}),
			New(Sub, RRImm12{Rd: a64.X0, Rn: a64.X0, Imm: 1}),
			New(B, Branch{Target: 0}),
			New(Ret, R{Rn: a64.LR}),
		},
		Literals: []Literal{{Symbol: ".Lstr0", Bytes: []byte("hi")}},
		Frame:    frame.Layout{},
	}
	var buf bytes.Buffer
	NewPrinter(&buf).ForOS(a64.Linux).PrintFunction(f)
	out := buf.String()

	for _, want := range []string{
		"\t.global\tloop\n",
		"loop:\n.Lloop_0:\n\tcmp\tx0, #0\n",
		"\tb.eq\t.Lloop_4\n",
		".Lloop_4:\n\tret\n",
		"\t.size\tloop, .-loop\n",
		"\t.section\t.rodata\n.Lstr0:\n\t.byte\t104\n\t.byte\t105\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSavedRegsSize(t *testing.T) {
	f := &Function{SavedRegs: []a64.Register{a64.X19, a64.X20, a64.X21}}
	if got := f.SavedRegsSize(); got != 32 {
		t.Errorf("SavedRegsSize() = %d, want 32", got)
	}
}
