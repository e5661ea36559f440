package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/xyproto/env/v2"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/airtext"
	"github.com/raymyers/ralph-a64/pkg/driver"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

var version = "0.1.0"

// Environment variables supplying flag defaults
const (
	envOS       = "RALPH_A64_OS"
	envLSE      = "RALPH_A64_LSE"
	envJobs     = "RALPH_A64_JOBS"
	envLogLevel = "RALPH_A64_LOG_LEVEL"
)

// emit formats
const (
	emitMIR   = "mir"
	emitHex   = "hex"
	emitWords = "words"
)

// options holds the parsed command line
type options struct {
	emit      string
	os        string
	lse       bool
	noLSE     bool
	jobs      int
	verbose   int
	output    string
	functions []string
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ralph-a64: %v\n", err)
		return 1
	}
	return 0
}

// normalizeFlag lets --no_lse and --no-lse name the same flag
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	host := a64.HostTarget()

	rootCmd := &cobra.Command{
		Use:   "ralph-a64 [flags] module.yaml",
		Short: "ralph-a64 lowers AIR modules to AArch64 machine code",
		Long: `ralph-a64 reads a module of typed AIR functions written in YAML,
selects AArch64 instructions for every function and prints the machine IR
in GNU assembler syntax, or the encoded instruction words.`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			log, err := newLogger(errOut, opts.verbose)
			if err != nil {
				return err
			}
			target, err := resolveTarget(cmd.Flags(), opts, host)
			if err != nil {
				return err
			}
			w := out
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return err
				}
				bw := bufio.NewWriter(f)
				defer func() {
					ferr := bw.Flush()
					if cerr := f.Close(); ferr == nil {
						ferr = cerr
					}
					if ferr != nil && err == nil {
						err = errors.Wrap(ferr, opts.output)
					}
				}()
				w = bw
			}
			return compile(cmd.Context(), args[0], w, target, opts, log)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.Flags()
	flags.SetNormalizeFunc(normalizeFlag)
	flags.StringVar(&opts.emit, "emit", emitMIR, "Output format: mir, hex or words")
	flags.StringVar(&opts.os, "os", env.Str(envOS, host.OS.String()), "Target OS: linux or darwin")
	flags.BoolVar(&opts.lse, "lse", false, "Use ARMv8.1 LSE atomics")
	flags.BoolVar(&opts.noLSE, "no-lse", false, "Use exclusive load/store loops for atomics")
	flags.IntVarP(&opts.jobs, "jobs", "j", env.Int(envJobs, 0), "Functions lowered in parallel (0 = one per CPU)")
	flags.CountVarP(&opts.verbose, "verbose", "v", "Log lowering decisions (repeat for more)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write output to file instead of stdout")
	flags.StringSliceVarP(&opts.functions, "function", "f", nil, "Only lower the named functions")
	rootCmd.MarkFlagsMutuallyExclusive("lse", "no-lse")

	return rootCmd
}

// newLogger writes to errOut at the level named by the environment, raised
// by each --verbose
func newLogger(errOut io.Writer, verbose int) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(errOut)
	level := logrus.WarnLevel
	if name := env.Str(envLogLevel); name != "" {
		parsed, err := logrus.ParseLevel(name)
		if err != nil {
			return nil, errors.Wrap(err, envLogLevel)
		}
		level = parsed
	}
	switch {
	case verbose >= 2:
		level = max(level, logrus.TraceLevel)
	case verbose == 1:
		level = max(level, logrus.DebugLevel)
	}
	l.SetLevel(level)
	return logrus.NewEntry(l), nil
}

// resolveTarget applies the flags over the environment over the host
func resolveTarget(flags *pflag.FlagSet, opts *options, host a64.Target) (a64.Target, error) {
	osys, err := a64.ParseOS(opts.os)
	if err != nil {
		return a64.Target{}, err
	}
	t := a64.Target{OS: osys, HasLSE: host.HasLSE}
	if env.Has(envLSE) {
		t.HasLSE = env.Bool(envLSE)
	}
	switch {
	case flags.Changed("lse"):
		t.HasLSE = opts.lse
	case flags.Changed("no-lse"):
		t.HasLSE = !opts.noLSE
	}
	return t, nil
}

func compile(ctx context.Context, path string, w io.Writer, target a64.Target, opts *options, log *logrus.Entry) error {
	switch opts.emit {
	case emitMIR, emitHex, emitWords:
	default:
		return errors.Errorf("unknown --emit format %q", opts.emit)
	}

	var m *airtext.Module
	var err error
	if path == "-" {
		m, err = airtext.Load(os.Stdin)
	} else {
		m, err = airtext.LoadFile(path)
	}
	if err != nil {
		return err
	}
	fns, err := driver.Select(m.Functions, opts.functions)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"module": m.Name, "functions": len(fns), "target": target}).Debug("compiling")

	results, err := driver.Compile(ctx, fns, driver.Options{
		Target:   target,
		Jobs:     opts.jobs,
		Assemble: opts.emit != emitMIR,
		Log:      log,
	})
	if err != nil {
		return err
	}

	switch opts.emit {
	case emitMIR:
		p := mir.NewPrinter(w).ForOS(target.OS)
		for _, r := range results {
			p.PrintFunction(r.Function)
		}
	case emitHex:
		for _, r := range results {
			writeHex(w, r)
		}
	case emitWords:
		for _, r := range results {
			writeWords(w, r)
		}
	}
	return nil
}

// writeWords prints one encoded instruction per line
func writeWords(w io.Writer, r driver.Result) {
	fmt.Fprintf(w, "%s:\n", r.Object.Name)
	for _, word := range r.Object.Words {
		fmt.Fprintf(w, "\t%08x\n", word)
	}
}

// writeHex prints the code bytes sixteen to a line followed by the
// relocations and literal data
func writeHex(w io.Writer, r driver.Result) {
	obj := r.Object
	fmt.Fprintf(w, "%s:\n", obj.Name)
	code := obj.Bytes()
	for off := 0; off < len(code); off += 16 {
		end := min(off+16, len(code))
		fmt.Fprintf(w, "  %04x: % x\n", off, code[off:end])
	}
	for _, rel := range obj.Relocs {
		fmt.Fprintf(w, "  reloc %s\n", rel)
	}
	for _, lit := range obj.Literals {
		fmt.Fprintf(w, "  %s: % x\n", lit.Symbol, lit.Bytes)
	}
}
