package compiler

import (
	"encoding/json"
	"sort"

	"github.com/openfroyo/crateplan/pkg/core"
)

// UnitGraphVersion is the version of the JSON document written by ToJSON.
const UnitGraphVersion = 1

// UnitGraph is the acyclic graph of units produced by BuildUnits.
type UnitGraph struct {
	units []*Unit
	index map[*Unit]int
	deps  map[*Unit][]UnitDep
	roots []*Unit
	lb    *levelBuilder

	// Warnings are non-fatal diagnostics found while building the graph.
	Warnings []core.Warning
}

func newUnitGraph(deps map[*Unit][]UnitDep, roots []*Unit) (*UnitGraph, error) {
	g := &UnitGraph{
		deps:  deps,
		roots: roots,
		index: make(map[*Unit]int, len(deps)),
	}
	for u := range deps {
		g.units = append(g.units, u)
	}
	sort.Slice(g.units, func(i, j int) bool { return g.units[i].less(g.units[j]) })
	for i, u := range g.units {
		g.index[u] = i
	}
	for _, u := range g.units {
		sort.SliceStable(g.deps[u], func(i, j int) bool { return g.index[g.deps[u][i].Unit] < g.index[g.deps[u][j].Unit] })
	}

	g.lb = newLevelBuilder(g)
	if err := g.lb.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// Len returns the number of units.
func (g *UnitGraph) Len() int { return len(g.units) }

// Units returns every unit in a stable order.
func (g *UnitGraph) Units() []*Unit {
	out := make([]*Unit, len(g.units))
	copy(out, g.units)
	return out
}

// Roots returns the units that were requested, in request order.
func (g *UnitGraph) Roots() []*Unit {
	out := make([]*Unit, len(g.roots))
	copy(out, g.roots)
	return out
}

// Deps returns the dependencies of u.
func (g *UnitGraph) Deps(u *Unit) []UnitDep {
	out := make([]UnitDep, len(g.deps[u]))
	copy(out, g.deps[u])
	return out
}

// UnitsOf returns the units of the named package.
func (g *UnitGraph) UnitsOf(name string) []*Unit {
	var out []*Unit
	for _, u := range g.units {
		if u.Pkg.Name() == name {
			out = append(out, u)
		}
	}
	return out
}

// Levels returns the units grouped by topological level. A unit's
// dependencies are all in earlier levels.
func (g *UnitGraph) Levels() [][]*Unit {
	out := make([][]*Unit, len(g.lb.levels))
	for i, level := range g.lb.levels {
		for _, idx := range level {
			out[i] = append(out[i], g.units[idx])
		}
	}
	return out
}

// ToDOT renders the graph in Graphviz format.
func (g *UnitGraph) ToDOT() string {
	return g.lb.toDOT()
}

type jsonUnitGraph struct {
	Version int        `json:"version"`
	Units   []jsonUnit `json:"units"`
	Roots   []int      `json:"roots"`
}

type jsonUnit struct {
	PkgID        string     `json:"pkg_id"`
	Target       jsonTarget `json:"target"`
	Profile      Profile    `json:"profile"`
	Platform     *string    `json:"platform"`
	Mode         string     `json:"mode"`
	Features     []string   `json:"features"`
	IsStd        bool       `json:"is_std,omitempty"`
	BuildKey     string     `json:"build_key"`
	Dependencies []jsonDep  `json:"dependencies"`
}

type jsonTarget struct {
	Kind       []string `json:"kind"`
	CrateTypes []string `json:"crate_types"`
	Name       string   `json:"name"`
	SrcPath    string   `json:"src_path"`
}

type jsonDep struct {
	Index           int    `json:"index"`
	ExternCrateName string `json:"extern_crate_name"`
}

// ToJSON renders the graph as a unit-graph document: units with
// index-based dependencies and the indices of the roots.
func (g *UnitGraph) ToJSON() ([]byte, error) {
	doc := jsonUnitGraph{Version: UnitGraphVersion, Units: make([]jsonUnit, 0, len(g.units)), Roots: make([]int, 0, len(g.roots))}
	for _, u := range g.units {
		ju := jsonUnit{
			PkgID: u.Pkg.ID().Spec() + " (" + u.Pkg.ID().Source.String() + ")",
			Target: jsonTarget{
				Kind:       []string{u.Target.Kind.String()},
				CrateTypes: u.Target.CrateTypes,
				Name:       u.Target.Name,
				SrcPath:    u.Target.SrcPath,
			},
			Profile:      u.Profile,
			Mode:         u.Mode.String(),
			Features:     append([]string{}, u.Features...),
			IsStd:        u.IsStd,
			BuildKey:     u.BuildKey(),
			Dependencies: make([]jsonDep, 0, len(g.deps[u])),
		}
		if !u.Kind.IsHost() {
			triple := u.Kind.Triple
			ju.Platform = &triple
		}
		for _, d := range g.deps[u] {
			ju.Dependencies = append(ju.Dependencies, jsonDep{Index: g.index[d.Unit], ExternCrateName: d.ExternCrateName})
		}
		doc.Units = append(doc.Units, ju)
	}
	for _, r := range g.roots {
		doc.Roots = append(doc.Roots, g.index[r])
	}
	return json.MarshalIndent(doc, "", "  ")
}
