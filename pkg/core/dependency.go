package core

import (
	"fmt"
	"strings"

	"github.com/openfroyo/crateplan/pkg/semver"
)

// DepKind is the kind of a dependency edge.
type DepKind int

const (
	// DepNormal dependencies are linked into every target of the dependent.
	DepNormal DepKind = iota
	// DepBuild dependencies are linked into the build script and always built for the host.
	DepBuild
	// DepDevelopment dependencies are only used by tests, benches and examples.
	DepDevelopment
)

func (k DepKind) String() string {
	switch k {
	case DepNormal:
		return "normal"
	case DepBuild:
		return "build"
	case DepDevelopment:
		return "dev"
	default:
		return fmt.Sprintf("DepKind(%d)", int(k))
	}
}

// ParseDepKind parses "normal", "build" or "dev". The empty string is normal.
func ParseDepKind(s string) (DepKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return DepNormal, nil
	case "build":
		return DepBuild, nil
	case "dev", "development":
		return DepDevelopment, nil
	default:
		return DepNormal, fmt.Errorf("unknown dependency kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k DepKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *DepKind) UnmarshalText(b []byte) error {
	parsed, err := ParseDepKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Dependency is one declared dependency of a package.
type Dependency struct {
	// Name is the package name to look up in the source.
	Name string
	// Rename is the explicit name the dependent uses for the crate, if any.
	Rename string
	Req    semver.Req
	Source SourceId
	Kind   DepKind
	// Platform restricts the dependency to matching targets. Nil means every platform.
	Platform        *Platform
	Features        []string
	DefaultFeatures bool
	Optional        bool
}

// NewDependency returns a normal, non-optional dependency with default features enabled.
func NewDependency(name, req string, source SourceId) (Dependency, error) {
	r, err := semver.ParseReq(req)
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %s: %w", name, err)
	}
	return Dependency{Name: name, Req: r, Source: source, DefaultFeatures: true}, nil
}

// MustDependency is NewDependency that panics on error.
func MustDependency(name, req string, source SourceId) Dependency {
	d, err := NewDependency(name, req, source)
	if err != nil {
		panic(err)
	}
	return d
}

// NameInToml is the name the dependent refers to the dependency by: the
// rename if present, otherwise the package name. Feature strings use it.
func (d Dependency) NameInToml() string {
	if d.Rename != "" {
		return d.Rename
	}
	return d.Name
}

// IsTransitive reports whether the dependency propagates to dependents of the
// declaring package. Dev-dependencies never do.
func (d Dependency) IsTransitive() bool {
	return d.Kind != DepDevelopment
}

// MatchesID reports whether id satisfies the dependency's name, source and requirement.
func (d Dependency) MatchesID(id PackageId) bool {
	return id.Name == d.Name && id.Source == d.Source && d.Req.Matches(id.Version)
}

// MatchesPlatform reports whether the dependency applies to any of the given
// targets. An empty list means platform filtering is disabled.
func (d Dependency) MatchesPlatform(targets []TargetInfo) bool {
	if d.Platform == nil || len(targets) == 0 {
		return true
	}
	for i := range targets {
		if d.Platform.Matches(targets[i]) {
			return true
		}
	}
	return false
}

func (d Dependency) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteString(" = \"")
	b.WriteString(d.Req.String())
	b.WriteString("\"")
	if d.Kind != DepNormal {
		b.WriteString(" (")
		b.WriteString(d.Kind.String())
		b.WriteString(")")
	}
	return b.String()
}
