package resolver

import (
	"sort"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
)

// FeatureRequest is the union of feature requests made against one package.
type FeatureRequest struct {
	Features    []string
	UsesDefault bool
	AllFeatures bool
}

// FeatureSet is the closed result of feature unification for one package.
type FeatureSet struct {
	// Enabled holds every enabled feature, including optional dependencies
	// enabled by their implicit feature name. Sorted.
	Enabled []string
	// OptionalDeps are the optional dependencies (by name in the manifest)
	// that are switched on. Sorted.
	OptionalDeps []string
	// DepFeatures maps a dependency name to the features forwarded to it
	// through "dep/feature" values. Values are sorted.
	DepFeatures map[string][]string
}

// HasOptionalDep reports whether the optional dependency is enabled.
func (fs *FeatureSet) HasOptionalDep(name string) bool {
	i := sort.SearchStrings(fs.OptionalDeps, name)
	return i < len(fs.OptionalDeps) && fs.OptionalDeps[i] == name
}

// Has reports whether the feature is enabled.
func (fs *FeatureSet) Has(feature string) bool {
	i := sort.SearchStrings(fs.Enabled, feature)
	return i < len(fs.Enabled) && fs.Enabled[i] == feature
}

func (fs *FeatureSet) fingerprint() string {
	var b strings.Builder
	b.WriteString(strings.Join(fs.Enabled, ","))
	b.WriteByte('|')
	b.WriteString(strings.Join(fs.OptionalDeps, ","))
	for _, dep := range core.SortedKeys(fs.DepFeatures) {
		b.WriteByte('|')
		b.WriteString(dep)
		b.WriteByte('=')
		b.WriteString(strings.Join(fs.DepFeatures[dep], ","))
	}
	return b.String()
}

// UnifyFeatures computes the closed feature set of s for req. Enabling a
// feature enables everything it lists, transitively; "name" may also switch
// on an optional dependency, "dep:name" switches one on without a feature
// name, and "name/feat" forwards feat to the dependency (switching it on if it
// is optional). The iteration only adds, so it reaches a fixpoint.
//
// Requesting a feature the package does not declare returns a
// *MissingFeatureError.
func UnifyFeatures(s core.Summary, req FeatureRequest) (*FeatureSet, error) {
	enabled := make(map[string]bool)
	optional := make(map[string]bool)
	depFeatures := make(map[string]map[string]bool)
	missingSet := make(map[string]bool)

	var queue []string
	if req.AllFeatures {
		queue = append(queue, s.FeatureNames()...)
		for _, d := range s.Dependencies {
			if d.Optional {
				queue = append(queue, d.NameInToml())
			}
		}
	}
	if req.UsesDefault && s.HasFeature("default") {
		queue = append(queue, "default")
	}
	queue = append(queue, req.Features...)

	for len(queue) > 0 {
		value := queue[0]
		queue = queue[1:]
		if value == "" {
			continue
		}

		fv := core.ParseFeatureValue(value)
		switch fv.Kind {
		case core.FeatureName:
			switch {
			case s.HasFeature(fv.Name):
				if !enabled[fv.Name] {
					enabled[fv.Name] = true
					queue = append(queue, s.Features[fv.Name]...)
				}
			case s.IsOptionalDep(fv.Name):
				optional[fv.Name] = true
				enabled[fv.Name] = true
			default:
				missingSet[value] = true
			}

		case core.FeatureDep:
			if s.IsOptionalDep(fv.Name) {
				optional[fv.Name] = true
			} else {
				missingSet[value] = true
			}

		case core.FeatureDepFeature:
			deps := s.DependenciesNamed(fv.Name)
			if len(deps) == 0 {
				missingSet[value] = true
				continue
			}
			if s.IsOptionalDep(fv.Name) {
				optional[fv.Name] = true
				if !s.HasFeature(fv.Name) {
					enabled[fv.Name] = true
				}
			}
			if depFeatures[fv.Name] == nil {
				depFeatures[fv.Name] = make(map[string]bool)
			}
			depFeatures[fv.Name][fv.DepFeature] = true
		}
	}

	if len(missingSet) > 0 {
		return nil, &MissingFeatureError{
			Package:  s.ID,
			Features: sortedSet(missingSet),
		}
	}

	fs := &FeatureSet{
		Enabled:      sortedSet(enabled),
		OptionalDeps: sortedSet(optional),
		DepFeatures:  make(map[string][]string, len(depFeatures)),
	}
	for dep, feats := range depFeatures {
		fs.DepFeatures[dep] = sortedSet(feats)
	}
	return fs, nil
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// unionSorted merges string slices into a sorted, de-duplicated slice.
func unionSorted(lists ...[]string) []string {
	set := make(map[string]bool)
	for _, l := range lists {
		for _, s := range l {
			if s != "" {
				set[s] = true
			}
		}
	}
	return sortedSet(set)
}
