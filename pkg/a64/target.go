package a64

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
)

// OS selects ABI variations between AArch64 platforms
type OS int

const (
	Linux OS = iota
	Darwin
)

func (o OS) String() string {
	if o == Darwin {
		return "darwin"
	}
	return "linux"
}

// ParseOS accepts "linux", "darwin" and "macos"
func ParseOS(s string) (OS, error) {
	switch s {
	case "linux", "":
		return Linux, nil
	case "darwin", "macos":
		return Darwin, nil
	}
	return Linux, errors.Errorf("unknown target os %q", s)
}

// Target is the description handed to the instruction selector
type Target struct {
	OS OS
	// HasLSE enables the ARMv8.1 large system extension atomics
	// (swp, ldadd, ldclr, ldset, ldeor, ld{s,u}{max,min}, cas).
	HasLSE bool
}

// HostTarget describes the machine the compiler is running on; off arm64
// hosts it returns a baseline ARMv8.0 target.
func HostTarget() Target {
	t := Target{}
	if runtime.GOOS == "darwin" {
		t.OS = Darwin
	}
	if runtime.GOARCH == "arm64" {
		t.HasLSE = cpu.ARM64.HasATOMICS
	}
	return t
}

func (t Target) String() string {
	s := "aarch64-" + t.OS.String()
	if t.HasLSE {
		s += "+lse"
	}
	return s
}
