package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/semver"
)

// Edge is a resolved dependency from one package to another. A package may
// reach the same dependency through several declarations (for example as a
// normal and as a build dependency); they are all kept in Deps.
type Edge struct {
	To core.PackageId
	// Deps are the declarations that produced the edge. Empty for edges
	// decoded from a lockfile.
	Deps []core.Dependency
	// Features are the features requested along this edge.
	Features []string
}

// HasKind reports whether any declaration of the edge has the given kind.
func (e Edge) HasKind(kind core.DepKind) bool {
	for _, d := range e.Deps {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// OnlyDev reports whether every declaration is a dev-dependency.
func (e Edge) OnlyDev() bool {
	if len(e.Deps) == 0 {
		return false
	}
	for _, d := range e.Deps {
		if d.Kind != core.DepDevelopment {
			return false
		}
	}
	return true
}

type node struct {
	summary  core.Summary
	features []string
	deps     []Edge
}

// Resolve is the result of dependency resolution: the activated packages,
// their enabled features and the edges between them. It is immutable once
// returned.
type Resolve struct {
	ids   []core.PackageId
	nodes map[core.PackageId]*node
	roots []core.PackageId
}

func newResolve() *Resolve {
	return &Resolve{nodes: make(map[core.PackageId]*node)}
}

func (r *Resolve) addNode(s core.Summary, features []string) {
	if _, ok := r.nodes[s.ID]; !ok {
		r.ids = append(r.ids, s.ID)
	}
	r.nodes[s.ID] = &node{summary: s, features: features}
}

func (r *Resolve) finish() {
	core.SortPackageIds(r.ids)
	core.SortPackageIds(r.roots)
	for _, n := range r.nodes {
		sort.SliceStable(n.deps, func(i, j int) bool { return n.deps[i].To.Less(n.deps[j].To) })
	}
}

// Len returns the number of activated packages.
func (r *Resolve) Len() int { return len(r.ids) }

// PackageIds returns every activated package in sorted order.
func (r *Resolve) PackageIds() []core.PackageId {
	out := make([]core.PackageId, len(r.ids))
	copy(out, r.ids)
	return out
}

// Roots returns the workspace members the resolve was computed for.
func (r *Resolve) Roots() []core.PackageId {
	out := make([]core.PackageId, len(r.roots))
	copy(out, r.roots)
	return out
}

// IsRoot reports whether id is a workspace member.
func (r *Resolve) IsRoot(id core.PackageId) bool {
	for _, root := range r.roots {
		if root == id {
			return true
		}
	}
	return false
}

// Contains reports whether id was activated.
func (r *Resolve) Contains(id core.PackageId) bool {
	_, ok := r.nodes[id]
	return ok
}

// Features returns the enabled features of id, sorted.
func (r *Resolve) Features(id core.PackageId) []string {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, len(n.features))
	copy(out, n.features)
	return out
}

// Summary returns the summary id was activated from. Resolves decoded from
// a lockfile carry only the identity.
func (r *Resolve) Summary(id core.PackageId) (core.Summary, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return core.Summary{}, false
	}
	return n.summary, true
}

// Deps returns the outgoing edges of id, sorted by target.
func (r *Resolve) Deps(id core.PackageId) []Edge {
	n, ok := r.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Edge, len(n.deps))
	copy(out, n.deps)
	return out
}

// ReverseDeps returns the packages that depend on id, sorted.
func (r *Resolve) ReverseDeps(id core.PackageId) []core.PackageId {
	var out []core.PackageId
	for _, from := range r.ids {
		for _, e := range r.nodes[from].deps {
			if e.To == id {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// Locked returns the activated packages with the given name and source.
func (r *Resolve) Locked(name string, source core.SourceId) []core.PackageId {
	var out []core.PackageId
	for _, id := range r.ids {
		if id.Name == name && id.Source == source {
			out = append(out, id)
		}
	}
	return out
}

// Query finds a package by "name" or "name@version". The bare form fails
// when several versions are activated.
func (r *Resolve) Query(spec string) (core.PackageId, error) {
	name, version, hasVersion := strings.Cut(spec, "@")
	var matches []core.PackageId
	for _, id := range r.ids {
		if id.Name != name {
			continue
		}
		if hasVersion {
			v, err := semver.ParseVersion(version)
			if err != nil {
				return core.PackageId{}, err
			}
			if id.Version != v {
				continue
			}
		}
		matches = append(matches, id)
	}
	switch len(matches) {
	case 0:
		return core.PackageId{}, core.NewValidationError("package ID specification `%s` did not match any packages", spec)
	case 1:
		return matches[0], nil
	default:
		specs := make([]string, len(matches))
		for i, m := range matches {
			specs[i] = m.Spec()
		}
		return core.PackageId{}, core.NewValidationError("there are multiple `%s` packages in your project, and the specification `%s` is ambiguous; use one of: %s",
			name, spec, strings.Join(specs, ", "))
	}
}

// PathToRoot returns a dependency trace from id to a workspace member, using
// the first dependent of each package in sorted order.
func (r *Resolve) PathToRoot(id core.PackageId) Path {
	path := Path{id}
	seen := map[core.PackageId]bool{id: true}
	cur := id
	for !r.IsRoot(cur) {
		parents := r.ReverseDeps(cur)
		next := -1
		for i, p := range parents {
			if !seen[p] {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		cur = parents[next]
		seen[cur] = true
		path = append(path, cur)
	}
	return path
}

// Equal reports whether two resolves have the same packages, features and
// edge targets.
func (r *Resolve) Equal(o *Resolve) bool {
	return r.Dump() == o.Dump()
}

// Dump renders the resolve as stable text: one line per package with its
// features, followed by its dependencies.
func (r *Resolve) Dump() string {
	var b strings.Builder
	for _, id := range r.ids {
		n := r.nodes[id]
		fmt.Fprintf(&b, "%s [%s]\n", id, strings.Join(n.features, ","))
		for _, e := range n.deps {
			kinds := make([]string, 0, len(e.Deps))
			for _, d := range e.Deps {
				kinds = append(kinds, d.Kind.String())
			}
			fmt.Fprintf(&b, "  -> %s {%s} [%s]\n", e.To, strings.Join(kinds, ","), strings.Join(e.Features, ","))
		}
	}
	return b.String()
}

// Diff lists packages present in only one of the two resolves, prefixed with
// "+" (only in o) or "-" (only in r).
func (r *Resolve) Diff(o *Resolve) []string {
	var out []string
	for _, id := range r.ids {
		if !o.Contains(id) {
			out = append(out, "- "+id.String())
		}
	}
	for _, id := range o.ids {
		if !r.Contains(id) {
			out = append(out, "+ "+id.String())
		}
	}
	return out
}
