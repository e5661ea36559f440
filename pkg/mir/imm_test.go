package mir

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raymyers/ralph-a64/pkg/a64"
)

func TestMoveImmediate(t *testing.T) {
	tests := []struct {
		name string
		rd   a64.Register
		v    uint64
		want []string
	}{
		{"zero", a64.X0, 0, []string{"movz\tx0, #0x0"}},
		{"small", a64.X0, 42, []string{"movz\tx0, #0x2a"}},
		{"high lane", a64.X1, 0x12340000, []string{"movz\tx1, #0x1234, lsl #16"}},
		{"two lanes", a64.X2, 0x0001_0000_0000_1234, []string{"movz\tx2, #0x1234", "movk\tx2, #0x1, lsl #48"}},
		{"minus one", a64.X3, ^uint64(0), []string{"movn\tx3, #0x0"}},
		{"negative", a64.X3, uint64(1<<64 - 5), []string{"movn\tx3, #0x4"}},
		{"bitmask", a64.X4, 0x00ff00ff00ff00ff, []string{"orr\tx4, xzr, #0xff00ff00ff00ff"}},
		{"w register", a64.W5, 0xffff_fffe, []string{"movn\tw5, #0x1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := MoveImmediate(tt.rd, tt.v)
			got := make([]string, len(seq))
			for i, inst := range seq {
				got[i] = inst.String()
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MoveImmediate(%s, %#x) mismatch (-want +got):\n%s", tt.rd, tt.v, diff)
			}
		})
	}
}
