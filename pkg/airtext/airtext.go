// Package airtext loads AIR functions from a YAML module description.
//
// A module names its aggregate types, the external symbols it refers to,
// and its functions. Function bodies are nested instruction lists:
//
//	types:
//	  pair: {struct: [{name: a, type: u32}, {name: b, type: u64}]}
//	externs:
//	  g: fn(u64) u64
//	functions:
//	  - name: f
//	    params: [{name: x, type: u64}]
//	    ret: u64
//	    body:
//	      - {id: y, op: call, args: ["@g", x]}
//	      - {op: ret, args: [y]}
//
// Operands are value names (parameters and instruction ids), symbols
// ("@g"), or typed constants ("u64 42", "bool true", "?*u8 null",
// "u32 undef", `str "hi"`).
package airtext

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-a64/pkg/air"
	"github.com/raymyers/ralph-a64/pkg/types"
)

// Module is a loaded set of functions
type Module struct {
	Name      string
	Externs   map[string]types.Type
	Functions []*air.Function
}

// Function looks a function up by name
func (m *Module) Function(name string) (*air.Function, bool) {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

type moduleNode struct {
	Name      string              `yaml:"module"`
	Types     map[string]typeNode `yaml:"types"`
	Externs   map[string]string   `yaml:"externs"`
	Functions []funcNode          `yaml:"functions"`
}

type fieldNode struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type typeNode struct {
	Struct []fieldNode `yaml:"struct"`
	Union  []fieldNode `yaml:"union"`
	Tagged bool        `yaml:"tagged"`
}

type funcNode struct {
	Name   string      `yaml:"name"`
	Params []fieldNode `yaml:"params"`
	Ret    string      `yaml:"ret"`
	CC     string      `yaml:"cc"`
	Body   []instNode  `yaml:"body"`
}

// LoadFile reads a module from a YAML file
func LoadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return m, nil
}

// Load reads a module from r
func Load(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a module from its YAML text
func Parse(data []byte) (*Module, error) {
	var node moduleNode
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&node); err != nil {
		if err == io.EOF {
			return &Module{Externs: map[string]types.Type{}}, nil
		}
		return nil, errors.Wrap(err, "decode module")
	}

	l := &loader{
		typeNodes: node.Types,
		named:     make(map[string]types.Type),
		resolving: make(map[string]bool),
		symbols:   make(map[string]types.Type),
	}
	m := &Module{Name: node.Name, Externs: make(map[string]types.Type)}
	for name, src := range node.Externs {
		t, err := l.parseType(src)
		if err != nil {
			return nil, errors.Wrapf(err, "extern %s", name)
		}
		m.Externs[name] = t
		l.symbols[name] = t
	}

	sigs := make([]types.Tfunction, len(node.Functions))
	for i, fn := range node.Functions {
		if fn.Name == "" {
			return nil, errors.Errorf("function %d has no name", i)
		}
		if _, dup := l.symbols[fn.Name]; dup {
			return nil, errors.Errorf("symbol %s defined twice", fn.Name)
		}
		sig, err := l.signature(fn)
		if err != nil {
			return nil, errors.Wrapf(err, "function %s", fn.Name)
		}
		sigs[i] = sig
		l.symbols[fn.Name] = sig
	}
	for i, fn := range node.Functions {
		f, err := l.function(fn, sigs[i])
		if err != nil {
			return nil, err
		}
		m.Functions = append(m.Functions, f)
	}
	return m, nil
}

// loader holds the module-wide tables shared by every function
type loader struct {
	typeNodes map[string]typeNode
	named     map[string]types.Type
	resolving map[string]bool
	symbols   map[string]types.Type
}

func (l *loader) parseType(s string) (types.Type, error) {
	return parseType(s, l.namedType)
}

// namedType resolves an entry of the types section on first use. Types may
// refer to each other through pointers but not contain themselves.
func (l *loader) namedType(name string) (types.Type, error) {
	if t, ok := l.named[name]; ok {
		return t, nil
	}
	n, ok := l.typeNodes[name]
	if !ok {
		return nil, errors.Errorf("unknown type %s", name)
	}
	if l.resolving[name] {
		return nil, errors.Errorf("type %s contains itself", name)
	}
	l.resolving[name] = true
	defer delete(l.resolving, name)

	if (n.Struct == nil) == (n.Union == nil) {
		return nil, errors.Errorf("type %s must be exactly one of struct or union", name)
	}
	src := n.Struct
	if n.Union != nil {
		src = n.Union
	}
	fields := make([]types.Field, len(src))
	for i, f := range src {
		t, err := l.parseType(f.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s of %s", f.Name, name)
		}
		fields[i] = types.Field{Name: f.Name, Type: t}
	}
	var t types.Type = types.Tstruct{Name: name, Fields: fields}
	if n.Union != nil {
		t = types.Tunion{Name: name, Fields: fields, Tagged: n.Tagged}
	}
	l.named[name] = t
	return t, nil
}

func (l *loader) signature(fn funcNode) (types.Tfunction, error) {
	sig := types.Tfunction{Return: types.Void()}
	for _, p := range fn.Params {
		t, err := l.parseType(p.Type)
		if err != nil {
			return sig, errors.Wrapf(err, "parameter %s", p.Name)
		}
		sig.Params = append(sig.Params, t)
	}
	if fn.Ret != "" {
		t, err := l.parseType(fn.Ret)
		if err != nil {
			return sig, errors.Wrap(err, "return type")
		}
		sig.Return = t
	}
	if fn.CC != "" {
		cc, ok := types.ParseCallConv(fn.CC)
		if !ok {
			return sig, errors.Errorf("unknown calling convention %s", fn.CC)
		}
		sig.CallConv = cc
	}
	return sig, nil
}

func (l *loader) function(fn funcNode, sig types.Tfunction) (f *air.Function, err error) {
	fb := &funcBuilder{
		loader: l,
		b:      air.NewBuilder(fn.Name, sig),
		values: make(map[string]air.Ref),
	}
	// type queries panic on malformed operands; report them as load errors
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, errors.Errorf("function %s: %v", fn.Name, r)
		}
	}()
	for _, p := range fn.Params {
		if err := fb.define(p.Name, fb.b.Arg(p.Name)); err != nil {
			return nil, errors.Wrapf(err, "function %s", fn.Name)
		}
	}
	if err := fb.body(fn.Body); err != nil {
		return nil, errors.Wrapf(err, "function %s", fn.Name)
	}
	return fb.b.Finish(), nil
}
