package core

import (
	"sort"
	"strings"

	"github.com/openfroyo/crateplan/pkg/semver"
)

// Summary is the per-version metadata the resolver needs: identity,
// dependencies, declared features and the native library the package links.
type Summary struct {
	ID           PackageId
	Dependencies []Dependency
	// Features maps a feature name to the values it enables: other features,
	// optional dependency names, "dep:name" or "name/feature".
	Features map[string][]string
	Links    string
	Yanked   bool
	// ProcMacro marks a package whose library is a procedural macro. Its
	// dependencies are built for the host.
	ProcMacro bool
}

func (s Summary) Name() string { return s.ID.Name }

func (s Summary) Version() semver.Version { return s.ID.Version }

func (s Summary) Source() SourceId { return s.ID.Source }

// HasFeature reports whether the feature is declared.
func (s Summary) HasFeature(name string) bool {
	_, ok := s.Features[name]
	return ok
}

// FeatureNames returns the declared feature names in sorted order.
func (s Summary) FeatureNames() []string {
	names := make([]string, 0, len(s.Features))
	for name := range s.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependenciesNamed returns every dependency whose NameInToml is name. A name
// may appear several times, once per kind or platform.
func (s Summary) DependenciesNamed(name string) []Dependency {
	var out []Dependency
	for _, d := range s.Dependencies {
		if d.NameInToml() == name {
			out = append(out, d)
		}
	}
	return out
}

// IsOptionalDep reports whether name refers to an optional dependency.
func (s Summary) IsOptionalDep(name string) bool {
	for _, d := range s.Dependencies {
		if d.Optional && d.NameInToml() == name {
			return true
		}
	}
	return false
}

// FeatureValueKind classifies one entry of a feature list.
type FeatureValueKind int

const (
	// FeatureName enables another feature, or in legacy form an optional dependency of the same name.
	FeatureName FeatureValueKind = iota
	// FeatureDep is "dep:name": enables an optional dependency without exposing a feature.
	FeatureDep
	// FeatureDepFeature is "name/feature": enables a feature of a dependency.
	FeatureDepFeature
)

// FeatureValue is a parsed feature string.
type FeatureValue struct {
	Kind       FeatureValueKind
	Name       string
	DepFeature string
}

// ParseFeatureValue classifies a feature string syntactically.
func ParseFeatureValue(s string) FeatureValue {
	if dep, ok := strings.CutPrefix(s, "dep:"); ok {
		return FeatureValue{Kind: FeatureDep, Name: dep}
	}
	if dep, feat, ok := strings.Cut(s, "/"); ok {
		return FeatureValue{Kind: FeatureDepFeature, Name: dep, DepFeature: feat}
	}
	return FeatureValue{Kind: FeatureName, Name: s}
}

func (f FeatureValue) String() string {
	switch f.Kind {
	case FeatureDep:
		return "dep:" + f.Name
	case FeatureDepFeature:
		return f.Name + "/" + f.DepFeature
	default:
		return f.Name
	}
}
