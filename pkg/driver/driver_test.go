package driver

import (
	"bytes"
	"context"
	"testing"

	gocmp "github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/raymyers/ralph-a64/pkg/a64"
	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/airtext"
	"github.com/raymyers/ralph-a64/pkg/codegen"
	"github.com/raymyers/ralph-a64/pkg/mir"
)

func load(t *testing.T, name string) []*air.Function {
	t.Helper()
	m, err := airtext.LoadFile("../../testdata/modules/" + name)
	assert.NilError(t, err)
	return m.Functions
}

func names(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Function.Name
	}
	return out
}

func printed(results []Result) string {
	var buf bytes.Buffer
	p := mir.NewPrinter(&buf).ForOS(a64.Linux)
	for _, r := range results {
		p.PrintFunction(r.Function)
	}
	return buf.String()
}

func TestCompileKeepsModuleOrder(t *testing.T) {
	fns := load(t, "arith.yaml")
	results, err := Compile(context.Background(), fns, Options{Jobs: 4})
	assert.NilError(t, err)
	assert.DeepEqual(t, names(results), []string{"add", "add8", "pick", "sum_to", "classify"})
	for _, r := range results {
		assert.Assert(t, r.Object == nil)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	fns := load(t, "calls.yaml")
	serial, err := Compile(context.Background(), fns, Options{Jobs: 1})
	assert.NilError(t, err)
	parallel, err := Compile(context.Background(), fns, Options{Jobs: 8})
	assert.NilError(t, err)
	if diff := gocmp.Diff(printed(serial), printed(parallel)); diff != "" {
		t.Errorf("parallel output differs (-serial +parallel):\n%s", diff)
	}
}

func TestCompileAssembles(t *testing.T) {
	fns := load(t, "calls.yaml")
	results, err := Compile(context.Background(), fns, Options{Assemble: true, Target: a64.Target{HasLSE: true}})
	assert.NilError(t, err)
	for _, r := range results {
		assert.Assert(t, r.Object != nil, r.Function.Name)
		assert.Assert(t, len(r.Object.Words) > 0)
	}

	callG := results[0].Object
	assert.Equal(t, callG.Name, "call_g")
	assert.Equal(t, len(callG.Relocs), 1)
	assert.Equal(t, callG.Relocs[0].Symbol, "g")

	// the counter address needs a page and a low-bits relocation
	bump := results[3].Object
	assert.Equal(t, len(bump.Relocs), 2)
	assert.Equal(t, bump.Relocs[0].Symbol, "counter")
}

func TestCompileReportsUnsupported(t *testing.T) {
	fns := load(t, "unsupported.yaml")
	_, err := Compile(context.Background(), fns, Options{})
	assert.Assert(t, errors.Is(err, codegen.ErrNotSupported))
	var cerr *codegen.Error
	assert.Assert(t, errors.As(err, &cerr))
	assert.Equal(t, cerr.Function, "sat")
	assert.Equal(t, cerr.Loc, codegen.SourceLocation{Line: 7, Column: 2})
}

func TestCompileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compile(ctx, load(t, "arith.yaml"), Options{})
	assert.Assert(t, errors.Is(err, context.Canceled))
}

func TestSelect(t *testing.T) {
	fns := load(t, "arith.yaml")

	all, err := Select(fns, nil)
	assert.NilError(t, err)
	assert.Equal(t, len(all), len(fns))

	some, err := Select(fns, []string{"pick", "add"})
	assert.NilError(t, err)
	assert.Equal(t, len(some), 2)
	// module order, not request order
	assert.Equal(t, some[0].Name, "add")
	assert.Equal(t, some[1].Name, "pick")

	_, err = Select(fns, []string{"add", "nope"})
	assert.Assert(t, is.ErrorContains(err, "no function named nope"))
}
