// Package driver lowers the functions of a module to machine IR. Functions
// share no state during lowering, so they are compiled in parallel.
package driver

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/codegen"
	"github.com/raymyers/ralph-a64/pkg/emit"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

// Options configures a compilation
type Options struct {
	Target a64.Target
	// Jobs bounds the number of functions lowered at once; zero means
	// one per CPU
	Jobs int
	// Assemble also encodes every function into words and relocations
	Assemble bool
	// Assembler handles asm instructions; nil rejects them
	Assembler codegen.Assembler
	Log       *logrus.Entry
}

// Result is one compiled function
type Result struct {
	Function *mir.Function
	// Object is set when Options.Assemble is
	Object *emit.Object
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// Compile lowers fns and returns their results in the same order. The
// first failure cancels the functions not yet started and is returned.
func Compile(ctx context.Context, fns []*air.Function, opts Options) ([]Result, error) {
	log := opts.Log
	if log == nil {
		log = discardLogger()
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(fns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	start := time.Now()
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := compileOne(fn, opts, log.WithField("function", fn.Name))
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"functions": len(results),
		"insts":     lo.SumBy(results, func(r Result) int { return len(r.Function.Insts) }),
		"jobs":      jobs,
		"elapsed":   time.Since(start),
	}).Debug("module lowered")
	return results, nil
}

func compileOne(fn *air.Function, opts Options, log *logrus.Entry) (Result, error) {
	genOpts := []codegen.Option{codegen.WithLogger(log)}
	if opts.Assembler != nil {
		genOpts = append(genOpts, codegen.WithAssembler(opts.Assembler))
	}
	out, err := codegen.Generate(fn, air.Analyze(fn), opts.Target, genOpts...)
	if err != nil {
		return Result{}, err
	}
	r := Result{Function: out}
	fields := logrus.Fields{"insts": len(out.Insts), "frame": out.Frame.Size, "saved": len(out.SavedRegs)}
	if opts.Assemble {
		obj, err := emit.Assemble(out)
		if err != nil {
			return Result{}, errors.Wrap(err, "assemble")
		}
		r.Object = obj
		fields["words"] = len(obj.Words)
		fields["relocs"] = len(obj.Relocs)
	}
	log.WithFields(fields).Debug("function lowered")
	return r, nil
}

// Select keeps the functions named in names, in module order. An empty
// list keeps everything; a name matching nothing is an error.
func Select(fns []*air.Function, names []string) ([]*air.Function, error) {
	if len(names) == 0 {
		return fns, nil
	}
	have := lo.Map(fns, func(fn *air.Function, _ int) string { return fn.Name })
	if missing, _ := lo.Difference(names, have); len(missing) > 0 {
		return nil, errors.Errorf("no function named %s", missing[0])
	}
	return lo.Filter(fns, func(fn *air.Function, _ int) bool { return lo.Contains(names, fn.Name) }), nil
}
