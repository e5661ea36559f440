package airtext

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/raymyers/ralph-a64/pkg/types"
)

// ParseType reads a type written the way the printers spell it:
//
//	u64  i7  usize  bool  f32  void  noreturn  anyerror
//	*T  []T  [4]T  ?T  !T  fn(u64, *u8) u64  fn(u64) void callconv(c)
func ParseType(s string) (types.Type, error) {
	return parseType(s, nil)
}

func parseType(s string, named func(string) (types.Type, error)) (types.Type, error) {
	p := &typeParser{src: s, named: named}
	t, err := p.parse()
	if err != nil {
		return nil, errors.Wrapf(err, "type %q", s)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, errors.Errorf("type %q: trailing %q", s, p.src[p.pos:])
	}
	return t, nil
}

type typeParser struct {
	src   string
	pos   int
	named func(string) (types.Type, error)
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (types.Type, error) {
	switch {
	case p.accept("*"):
		elem, err := p.parse()
		return types.Pointer(elem), err
	case p.accept("[]"):
		elem, err := p.parse()
		return types.Slice(elem), err
	case p.accept("["):
		end := strings.IndexByte(p.src[p.pos:], ']')
		if end < 0 {
			return nil, errors.New("unterminated array length")
		}
		n, err := strconv.ParseUint(strings.TrimSpace(p.src[p.pos:p.pos+end]), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "array length")
		}
		p.pos += end + 1
		elem, err := p.parse()
		return types.Array(elem, n), err
	case p.accept("?"):
		payload, err := p.parse()
		return types.Optional(payload), err
	case p.accept("!"):
		payload, err := p.parse()
		return types.ErrorUnion(payload), err
	case p.accept("fn("):
		return p.function()
	}

	name := p.ident()
	switch name {
	case "":
		return nil, errors.Errorf("expected a type at offset %d", p.pos)
	case "void":
		return types.Void(), nil
	case "noreturn":
		return types.NoReturn(), nil
	case "bool":
		return types.Bool(), nil
	case "anyerror":
		return types.ErrorSet(), nil
	case "usize":
		return types.Usize(), nil
	case "isize":
		return types.I64(), nil
	case "f32":
		return types.F32(), nil
	case "f64":
		return types.F64(), nil
	}
	if t, ok := intType(name); ok {
		return t, nil
	}
	if p.named == nil {
		return nil, errors.Errorf("unknown type %s", name)
	}
	return p.named(name)
}

func intType(name string) (types.Type, bool) {
	if len(name) < 2 || (name[0] != 'i' && name[0] != 'u') {
		return nil, false
	}
	bits, err := strconv.Atoi(name[1:])
	if err != nil || bits < 1 || bits > 128 {
		return nil, false
	}
	sign := types.Signed
	if name[0] == 'u' {
		sign = types.Unsigned
	}
	return types.Int(bits, sign), true
}

func (p *typeParser) function() (types.Type, error) {
	var params []types.Type
	if !p.accept(")") {
		for {
			t, err := p.parse()
			if err != nil {
				return nil, err
			}
			params = append(params, t)
			if p.accept(")") {
				break
			}
			if !p.accept(",") {
				return nil, errors.Errorf("expected , or ) at offset %d", p.pos)
			}
		}
	}
	ret, err := p.parse()
	if err != nil {
		return nil, err
	}
	cc := types.CallConvAuto
	if p.accept("callconv(") {
		name := p.ident()
		var ok bool
		if cc, ok = types.ParseCallConv(name); !ok {
			return nil, errors.Errorf("unknown calling convention %s", name)
		}
		if !p.accept(")") {
			return nil, errors.New("unterminated callconv")
		}
	}
	return types.Function(params, ret, cc), nil
}
