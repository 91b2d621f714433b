package compiler

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/openfroyo/crateplan/pkg/core"
)

// Unit is one compilation job: a target of a package, built with a profile
// for a kind in a mode. Units are interned, so two units with the same
// identity are the same pointer.
type Unit struct {
	Pkg     *core.Package
	Target  core.Target
	Profile Profile
	Kind    CompileKind
	Mode    CompileMode
	// Features are the enabled features, sorted.
	Features []string
	// IsStd marks units of the standard library.
	IsStd bool
}

// UnitDep is an edge of the unit graph: the dependent needs Unit's artifact.
type UnitDep struct {
	Unit *Unit
	// ExternCrateName is the name the dependent uses for the crate.
	ExternCrateName string
}

type unitKey struct {
	pkg        core.PackageId
	targetKind core.TargetKind
	targetName string
	profile    Profile
	kind       CompileKind
	mode       CompileMode
	features   string
	isStd      bool
}

func (u *Unit) key() unitKey {
	return unitKey{
		pkg:        u.Pkg.ID(),
		targetKind: u.Target.Kind,
		targetName: u.Target.Name,
		profile:    u.Profile,
		kind:       u.Kind,
		mode:       u.Mode,
		features:   strings.Join(u.Features, ","),
		isStd:      u.IsStd,
	}
}

// String is the short description used in diagnostics.
func (u *Unit) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s", u.Pkg.ID(), u.Target.Description(), u.Mode)
	if !u.Kind.IsHost() {
		fmt.Fprintf(&b, ", %s", u.Kind)
	} else {
		b.WriteString(", host")
	}
	if u.IsStd {
		b.WriteString(", std")
	}
	b.WriteString(")")
	return b.String()
}

// BuildKey returns "name-<hash>", a stable name for the unit's output
// directory. The hash covers the full unit identity.
func (u *Unit) BuildKey() string {
	h := xxhash.New()
	k := u.key()
	fmt.Fprintf(h, "%s|%d|%s|%+v|%s|%d|%s|%t", k.pkg, k.targetKind, k.targetName, k.profile, k.kind, k.mode, k.features, k.isStd)
	return fmt.Sprintf("%s-%016x", u.Pkg.Name(), h.Sum64())
}

// less orders units for stable output.
func (u *Unit) less(o *Unit) bool {
	a, b := u.key(), o.key()
	switch {
	case a.pkg != b.pkg:
		return a.pkg.Less(b.pkg)
	case a.targetKind != b.targetKind:
		return a.targetKind < b.targetKind
	case a.targetName != b.targetName:
		return a.targetName < b.targetName
	case a.kind != b.kind:
		return a.kind.Triple < b.kind.Triple
	case a.mode != b.mode:
		return a.mode < b.mode
	case a.isStd != b.isStd:
		return !a.isStd
	case a.features != b.features:
		return a.features < b.features
	default:
		return fmt.Sprintf("%+v", a.profile) < fmt.Sprintf("%+v", b.profile)
	}
}

// interner hands out one *Unit per identity.
type interner struct {
	units map[unitKey]*Unit
}

func newInterner() *interner {
	return &interner{units: make(map[unitKey]*Unit)}
}

func (in *interner) intern(pkg *core.Package, target core.Target, profile Profile, kind CompileKind, mode CompileMode, features []string, isStd bool) *Unit {
	u := &Unit{
		Pkg:      pkg,
		Target:   target,
		Profile:  profile,
		Kind:     kind,
		Mode:     mode,
		Features: features,
		IsStd:    isStd,
	}
	k := u.key()
	if existing, ok := in.units[k]; ok {
		return existing
	}
	in.units[k] = u
	return u
}
