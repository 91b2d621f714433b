package core

import (
	"fmt"
	"strings"
	"unicode"
)

// Cfg is a single configuration flag: either a bare name ("unix") or a
// key-value pair (target_os = "linux").
type Cfg struct {
	Name  string
	Value string
	// HasValue distinguishes `name` from `name = ""`.
	HasValue bool
}

func (c Cfg) String() string {
	if c.HasValue {
		return fmt.Sprintf("%s = %q", c.Name, c.Value)
	}
	return c.Name
}

type cfgOp int

const (
	cfgValue cfgOp = iota
	cfgNot
	cfgAll
	cfgAny
)

// CfgExpr is a parsed cfg(...) predicate.
type CfgExpr struct {
	op       cfgOp
	cfg      Cfg
	children []CfgExpr
}

// Matches evaluates the expression against a set of cfgs.
func (e CfgExpr) Matches(cfgs []Cfg) bool {
	switch e.op {
	case cfgValue:
		for _, c := range cfgs {
			if c == e.cfg {
				return true
			}
		}
		return false
	case cfgNot:
		return !e.children[0].Matches(cfgs)
	case cfgAll:
		for _, c := range e.children {
			if !c.Matches(cfgs) {
				return false
			}
		}
		return true
	case cfgAny:
		for _, c := range e.children {
			if c.Matches(cfgs) {
				return true
			}
		}
		return false
	}
	return false
}

func (e CfgExpr) String() string {
	switch e.op {
	case cfgValue:
		return e.cfg.String()
	default:
		name := map[cfgOp]string{cfgNot: "not", cfgAll: "all", cfgAny: "any"}[e.op]
		parts := make([]string, len(e.children))
		for i, c := range e.children {
			parts[i] = c.String()
		}
		return name + "(" + strings.Join(parts, ", ") + ")"
	}
}

// Platform is the target predicate on a dependency: a literal target triple or
// a cfg expression.
type Platform struct {
	Name string
	Cfg  *CfgExpr
}

// ParsePlatform parses "x86_64-unknown-linux-gnu" or "cfg(unix)".
func ParsePlatform(s string) (*Platform, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "cfg(") && strings.HasSuffix(s, ")") {
		expr, err := ParseCfgExpr(s[len("cfg(") : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid platform %q: %w", s, err)
		}
		return &Platform{Cfg: &expr}, nil
	}
	if s == "" || strings.ContainsAny(s, "() =,\"") {
		return nil, fmt.Errorf("invalid platform %q: expected a target triple or cfg(...)", s)
	}
	return &Platform{Name: s}, nil
}

// Matches reports whether the platform applies to target.
func (p *Platform) Matches(target TargetInfo) bool {
	if p == nil {
		return true
	}
	if p.Cfg != nil {
		return p.Cfg.Matches(target.Cfgs)
	}
	return p.Name == target.Triple
}

func (p *Platform) String() string {
	if p == nil {
		return ""
	}
	if p.Cfg != nil {
		return "cfg(" + p.Cfg.String() + ")"
	}
	return p.Name
}

// MarshalText implements encoding.TextMarshaler.
func (p Platform) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParseCfgExpr parses the inside of cfg(...).
func ParseCfgExpr(s string) (CfgExpr, error) {
	p := &cfgParser{input: s}
	p.next()
	expr, err := p.expr()
	if err != nil {
		return CfgExpr{}, err
	}
	if p.tok.kind != tokEOF {
		return CfgExpr{}, fmt.Errorf("unexpected %q after cfg expression", p.tok.text)
	}
	return expr, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokComma
	tokEq
	tokBad
)

type token struct {
	kind tokKind
	text string
}

type cfgParser struct {
	input string
	pos   int
	tok   token
}

func (p *cfgParser) next() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF}
		return
	}
	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok = token{tokLParen, "("}
	case c == ')':
		p.pos++
		p.tok = token{tokRParen, ")"}
	case c == ',':
		p.pos++
		p.tok = token{tokComma, ","}
	case c == '=':
		p.pos++
		p.tok = token{tokEq, "="}
	case c == '"':
		end := strings.IndexByte(p.input[p.pos+1:], '"')
		if end < 0 {
			p.tok = token{tokBad, p.input[p.pos:]}
			p.pos = len(p.input)
			return
		}
		p.tok = token{tokString, p.input[p.pos+1 : p.pos+1+end]}
		p.pos += end + 2
	case c == '_' || unicode.IsLetter(rune(c)):
		start := p.pos
		for p.pos < len(p.input) {
			r := rune(p.input[p.pos])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			p.pos++
		}
		p.tok = token{tokIdent, p.input[start:p.pos]}
	default:
		p.tok = token{tokBad, string(c)}
		p.pos++
	}
}

func (p *cfgParser) expect(k tokKind, what string) error {
	if p.tok.kind != k {
		if p.tok.kind == tokEOF {
			return fmt.Errorf("expected %s, found end of expression", what)
		}
		return fmt.Errorf("expected %s, found %q", what, p.tok.text)
	}
	p.next()
	return nil
}

func (p *cfgParser) expr() (CfgExpr, error) {
	if p.tok.kind != tokIdent {
		if p.tok.kind == tokEOF {
			return CfgExpr{}, fmt.Errorf("expected identifier, found end of expression")
		}
		return CfgExpr{}, fmt.Errorf("expected identifier, found %q", p.tok.text)
	}
	name := p.tok.text
	p.next()

	switch {
	case p.tok.kind == tokLParen && (name == "all" || name == "any" || name == "not"):
		p.next()
		var children []CfgExpr
		for p.tok.kind != tokRParen {
			child, err := p.expr()
			if err != nil {
				return CfgExpr{}, err
			}
			children = append(children, child)
			if p.tok.kind != tokComma {
				break
			}
			p.next()
		}
		if err := p.expect(tokRParen, "')'"); err != nil {
			return CfgExpr{}, err
		}
		switch name {
		case "all":
			return CfgExpr{op: cfgAll, children: children}, nil
		case "any":
			return CfgExpr{op: cfgAny, children: children}, nil
		default:
			if len(children) != 1 {
				return CfgExpr{}, fmt.Errorf("not() takes exactly one predicate, got %d", len(children))
			}
			return CfgExpr{op: cfgNot, children: children}, nil
		}
	case p.tok.kind == tokEq:
		p.next()
		if p.tok.kind != tokString {
			return CfgExpr{}, fmt.Errorf("expected string after %s =", name)
		}
		value := p.tok.text
		p.next()
		return CfgExpr{op: cfgValue, cfg: Cfg{Name: name, Value: value, HasValue: true}}, nil
	default:
		return CfgExpr{op: cfgValue, cfg: Cfg{Name: name}}, nil
	}
}

// TargetInfo describes a compilation target: its triple and the cfg values
// it implies.
type TargetInfo struct {
	Triple string
	Cfgs   []Cfg
}

// TargetInfoFromTriple derives the standard cfg values from a target triple
// such as "x86_64-unknown-linux-gnu" or "aarch64-apple-darwin".
func TargetInfoFromTriple(triple string) TargetInfo {
	parts := strings.Split(triple, "-")
	arch := parts[0]

	var vendor, env string
	if len(parts) >= 3 {
		vendor = parts[1]
	}
	if len(parts) >= 4 {
		env = parts[3]
	}

	os := "none"
	switch {
	case strings.Contains(triple, "android"):
		os = "android"
	case strings.Contains(triple, "linux"):
		os = "linux"
	case strings.Contains(triple, "darwin"):
		os = "macos"
	case strings.Contains(triple, "ios"):
		os = "ios"
	case strings.Contains(triple, "windows"):
		os = "windows"
	case strings.Contains(triple, "freebsd"):
		os = "freebsd"
	case strings.Contains(triple, "wasi"):
		os = "wasi"
	}
	if strings.HasPrefix(triple, "aarch64-linux-android") || len(parts) == 3 && vendor == "linux" {
		vendor = "unknown"
	}
	if os == "android" {
		env = ""
	}

	var family string
	switch {
	case strings.HasPrefix(arch, "wasm"):
		family = "wasm"
	case os == "windows":
		family = "windows"
	case os == "linux", os == "macos", os == "ios", os == "android", os == "freebsd":
		family = "unix"
	}

	width := "32"
	if strings.Contains(arch, "64") {
		width = "64"
	}
	endian := "little"
	if (strings.HasPrefix(arch, "powerpc") && !strings.HasSuffix(arch, "le")) || arch == "s390x" ||
		(strings.HasPrefix(arch, "mips") && !strings.HasSuffix(arch, "el")) {
		endian = "big"
	}

	cfgs := []Cfg{
		{Name: "target_arch", Value: normalizeArch(arch), HasValue: true},
		{Name: "target_os", Value: os, HasValue: true},
		{Name: "target_env", Value: env, HasValue: true},
		{Name: "target_pointer_width", Value: width, HasValue: true},
		{Name: "target_endian", Value: endian, HasValue: true},
	}
	if vendor != "" {
		cfgs = append(cfgs, Cfg{Name: "target_vendor", Value: vendor, HasValue: true})
	}
	if family != "" {
		cfgs = append(cfgs, Cfg{Name: "target_family", Value: family, HasValue: true})
		if family == "unix" || family == "windows" {
			cfgs = append(cfgs, Cfg{Name: family})
		}
	}
	return TargetInfo{Triple: triple, Cfgs: cfgs}
}

func normalizeArch(arch string) string {
	switch {
	case arch == "i686" || arch == "i586" || arch == "i386":
		return "x86"
	case strings.HasPrefix(arch, "armv7") || strings.HasPrefix(arch, "thumbv"):
		return "arm"
	case strings.HasPrefix(arch, "riscv64"):
		return "riscv64"
	default:
		return arch
	}
}
