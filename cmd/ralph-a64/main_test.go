package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/raymyers/ralph-a64/pkg/a64"
)

// E2ETestSpec is one command invocation and its expected output
type E2ETestSpec struct {
	Name         string   `yaml:"name"`
	Module       string   `yaml:"module"`
	Args         []string `yaml:"args"`
	Expect       []string `yaml:"expect"`        // Strings that must appear in output
	ExpectOrder  []string `yaml:"expect_order"`  // Strings that must appear in this order
	ExpectUnique []string `yaml:"expect_unique"` // Strings that must appear exactly once
	ExpectNot    []string `yaml:"expect_not"`    // Strings that must NOT appear in output
	Error        string   `yaml:"error"`         // The command must fail with this message
	Skip         string   `yaml:"skip,omitempty"`
}

// E2ETestFile represents the e2e_mir.yaml file structure
type E2ETestFile struct {
	Tests []E2ETestSpec `yaml:"tests"`
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestE2EMirYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/e2e_mir.yaml")
	if err != nil {
		t.Fatalf("e2e_mir.yaml not found: %v", err)
	}
	var testFile E2ETestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse e2e_mir.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}
			args := append(append([]string{}, tc.Args...), filepath.Join("../../testdata/modules", tc.Module))
			output, stderr, err := execute(t, args...)

			if tc.Error != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got output:\n%s", tc.Error, output)
				}
				if !strings.Contains(err.Error(), tc.Error) {
					t.Errorf("error = %q, want it to contain %q", err, tc.Error)
				}
				return
			}
			if err != nil {
				t.Fatalf("ralph-a64 failed: %v\nStderr: %s", err, stderr)
			}

			for _, exp := range tc.Expect {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q\nGot:\n%s", exp, output)
				}
			}
			lastIdx := -1
			for _, exp := range tc.ExpectOrder {
				idx := strings.Index(output[lastIdx+1:], exp)
				if idx == -1 {
					t.Errorf("expected %q after position %d\nGot:\n%s", exp, lastIdx, output)
					continue
				}
				lastIdx += 1 + idx
			}
			for _, exp := range tc.ExpectUnique {
				if n := strings.Count(output, exp); n != 1 {
					t.Errorf("expected %q exactly once, found %d times\nGot:\n%s", exp, n, output)
				}
			}
			for _, exp := range tc.ExpectNot {
				if strings.Contains(output, exp) {
					t.Errorf("expected output NOT to contain %q\nGot:\n%s", exp, output)
				}
			}
		})
	}
}

func TestNoArgs(t *testing.T) {
	_, _, err := execute(t)
	assert.Assert(t, is.ErrorContains(err, "accepts 1 arg"))
}

func TestMissingFile(t *testing.T) {
	_, _, err := execute(t, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Assert(t, os.IsNotExist(err), "%v", err)
}

func TestOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.s")
	out, _, err := execute(t, "-o", path, "--os", "linux", "--function", "add", "../../testdata/modules/arith.yaml")
	assert.NilError(t, err)
	assert.Equal(t, out, "")

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(string(data), "\tadd\tx9, x0, x1\n"))
}

func TestOutputWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full")
	}
	_, _, err := execute(t, "-o", "/dev/full", "--function", "add", "../../testdata/modules/arith.yaml")
	assert.Assert(t, is.ErrorContains(err, "/dev/full"))
}

func TestVerboseLogsToErrorStream(t *testing.T) {
	_, stderr, err := execute(t, "-v", "--function", "add", "../../testdata/modules/arith.yaml")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(stderr, "function lowered"))
	assert.Assert(t, is.Contains(stderr, "function=add"))
}

func TestUnderscoreFlagSpelling(t *testing.T) {
	out, _, err := execute(t, "--no_lse", "--function", "bump", "../../testdata/modules/calls.yaml")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(out, "ldaxr"))
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name string
		args []string
		host a64.Target
		want a64.Target
	}{
		{"host default", nil, a64.Target{HasLSE: true}, a64.Target{OS: a64.Linux, HasLSE: true}},
		{"lse flag", []string{"--lse"}, a64.Target{}, a64.Target{HasLSE: true}},
		{"no-lse flag", []string{"--no-lse"}, a64.Target{HasLSE: true}, a64.Target{}},
		{"darwin", []string{"--os", "macos"}, a64.Target{}, a64.Target{OS: a64.Darwin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, set := os.LookupEnv(envLSE); set {
				t.Skipf("%s is set", envLSE)
			}
			cmd := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
			flags := cmd.Flags()
			assert.NilError(t, flags.Parse(append([]string{"--os", "linux"}, tt.args...)))
			opts := &options{}
			opts.os, _ = flags.GetString("os")
			opts.lse, _ = flags.GetBool("lse")
			opts.noLSE, _ = flags.GetBool("no-lse")

			got, err := resolveTarget(flags, opts, tt.host)
			assert.NilError(t, err)
			assert.Equal(t, got, tt.want)
		})
	}

	_, err := resolveTarget(newRootCmd(&bytes.Buffer{}, &bytes.Buffer{}).Flags(), &options{os: "plan9"}, a64.Target{})
	assert.Assert(t, is.ErrorContains(err, "unknown target os"))
}

func TestNewLoggerLevels(t *testing.T) {
	if _, set := os.LookupEnv(envLogLevel); set {
		t.Skipf("%s is set", envLogLevel)
	}
	for verbose, want := range []logrus.Level{logrus.WarnLevel, logrus.DebugLevel, logrus.TraceLevel, logrus.TraceLevel} {
		log, err := newLogger(&bytes.Buffer{}, verbose)
		assert.NilError(t, err)
		assert.Equal(t, log.Logger.GetLevel(), want, "verbose=%d", verbose)
	}
}
