// Package semver provides the version and requirement primitives used by the
// resolver. Parsing and matching are delegated to Masterminds/semver; this
// package adds Cargo's requirement syntax, where a bare version such as "0.1.0"
// means "^0.1.0".
package semver

import (
	"fmt"
	"strconv"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version. Unlike the Masterminds type it is a plain
// comparable value, so it can be embedded in map keys.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
	Pre   string
	Build string
}

// Req is a version requirement such as "^1.2", ">=1.0.1, <2" or "=1.0.0".
type Req struct {
	raw string
	c   *mm.Constraints
	// pre holds the release triples of comparators that name a pre-release.
	pre []Version
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.StrictNewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return fromMM(v), nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func fromMM(v *mm.Version) Version {
	return Version{
		Major: v.Major(),
		Minor: v.Minor(),
		Patch: v.Patch(),
		Pre:   v.Prerelease(),
		Build: v.Metadata(),
	}
}

func (v Version) mm() *mm.Version {
	return mm.New(v.Major, v.Minor, v.Patch, v.Pre, v.Build)
}

func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(v.Major, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(v.Minor, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(v.Patch, 10))
	if v.Pre != "" {
		b.WriteByte('-')
		b.WriteString(v.Pre)
	}
	if v.Build != "" {
		b.WriteByte('+')
		b.WriteString(v.Build)
	}
	return b.String()
}

// IsPrerelease reports whether the version carries a pre-release tag.
func (v Version) IsPrerelease() bool { return v.Pre != "" }

// CompatKey returns the semver-compatibility bucket of v: "1" for 1.x.y,
// "0.3" for 0.3.z and "0.0.7" for 0.0.7. Two versions in the same bucket are
// expected to be interchangeable.
func (v Version) CompatKey() string {
	switch {
	case v.Major > 0:
		return strconv.FormatUint(v.Major, 10)
	case v.Minor > 0:
		return "0." + strconv.FormatUint(v.Minor, 10)
	default:
		return "0.0." + strconv.FormatUint(v.Patch, 10)
	}
}

// Compare returns -1, 0 or 1. Build metadata is ignored, as semver requires.
func Compare(a, b Version) int {
	return a.mm().Compare(b.mm())
}

// Less orders versions ascending, using build metadata as a final tie-break
// so that sorting is total.
func Less(a, b Version) bool {
	if c := Compare(a, b); c != 0 {
		return c < 0
	}
	return a.Build < b.Build
}

// ParseReq parses a Cargo-style requirement. Comparators are separated by
// commas and all must match. A comparator without an operator is a caret
// requirement.
func ParseReq(raw string) (Req, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "*"
	}
	if strings.Contains(trimmed, "||") {
		return Req{}, fmt.Errorf("semver: parse requirement %q: alternatives are not supported", raw)
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	var pre []Version
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Req{}, fmt.Errorf("semver: parse requirement %q: empty comparator", raw)
		}
		if p[0] >= '0' && p[0] <= '9' {
			p = "^" + p
		}
		out = append(out, p)
		if v, ok := comparatorPre(p); ok {
			pre = append(pre, v)
		}
	}

	c, err := mm.NewConstraint(strings.Join(out, ", "))
	if err != nil {
		return Req{}, fmt.Errorf("semver: parse requirement %q: %w", raw, err)
	}
	return Req{raw: trimmed, c: c, pre: pre}, nil
}

// comparatorPre returns the release triple of a comparator's version when
// that version carries a pre-release tag.
func comparatorPre(comparator string) (Version, bool) {
	operand := strings.TrimSpace(strings.TrimLeft(comparator, "^~=<>!"))
	if !strings.Contains(operand, "-") {
		return Version{}, false
	}
	v, err := mm.NewVersion(operand)
	if err != nil || v.Prerelease() == "" {
		return Version{}, false
	}
	return Version{Major: v.Major(), Minor: v.Minor(), Patch: v.Patch()}, true
}

func MustParseReq(raw string) Req {
	r, err := ParseReq(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Exact returns the requirement "=v".
func Exact(v Version) Req {
	return MustParseReq("=" + v.String())
}

// Any returns the requirement "*".
func Any() Req {
	return MustParseReq("*")
}

// Matches reports whether v satisfies r. The zero Req matches everything.
// A pre-release only matches when some comparator names a pre-release of
// the same major.minor.patch, so "1.2.3-alpha.1" accepts 1.2.3-beta but not
// 1.2.4-alpha.1.
func (r Req) Matches(v Version) bool {
	if r.c == nil {
		return true
	}
	if v.IsPrerelease() && !r.admitsPre(v) {
		return false
	}
	return r.c.Check(v.mm())
}

func (r Req) admitsPre(v Version) bool {
	for _, p := range r.pre {
		if p.Major == v.Major && p.Minor == v.Minor && p.Patch == v.Patch {
			return true
		}
	}
	return false
}

func (r Req) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// MarshalText implements encoding.TextMarshaler.
func (r Req) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Req) UnmarshalText(b []byte) error {
	parsed, err := ParseReq(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
