package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// levelBuilder assigns topological levels to the units of a graph. Level 0
// holds units without dependencies, and every other unit sits one level
// above its deepest dependency, so units of one level can be compiled in
// parallel.
type levelBuilder struct {
	units []*Unit

	// dependents maps a unit index to the units that need it.
	dependents [][]int

	// dependencies maps a unit index to the units it needs.
	dependencies [][]int

	// inDegree is the number of dependencies of each unit.
	inDegree []int

	levels [][]int
}

func newLevelBuilder(g *UnitGraph) *levelBuilder {
	b := &levelBuilder{
		units:        g.units,
		dependents:   make([][]int, len(g.units)),
		dependencies: make([][]int, len(g.units)),
		inDegree:     make([]int, len(g.units)),
	}
	for i, u := range g.units {
		for _, d := range g.deps[u] {
			j := g.index[d.Unit]
			b.dependents[j] = append(b.dependents[j], i)
			b.dependencies[i] = append(b.dependencies[i], j)
			b.inDegree[i]++
		}
	}
	return b
}

// computeLevels runs Kahn's algorithm level by level.
func (b *levelBuilder) computeLevels() error {
	inDegree := make([]int, len(b.inDegree))
	copy(inDegree, b.inDegree)

	current := make([]int, 0)
	for i, degree := range inDegree {
		if degree == 0 {
			current = append(current, i)
		}
	}

	processed := 0
	for len(current) > 0 {
		sort.Ints(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]int, 0)
		for _, i := range current {
			for _, dependent := range b.dependents[i] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(b.units) {
		return &UnitCycleError{Cycle: b.findCycle(inDegree)}
	}
	return nil
}

// findCycle walks dependencies among the units Kahn's algorithm could not
// place until it revisits one.
func (b *levelBuilder) findCycle(inDegree []int) []*Unit {
	start := -1
	for i, degree := range inDegree {
		if degree > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	pos := make(map[int]int)
	var path []int
	cur := start
	for {
		if at, seen := pos[cur]; seen {
			cycle := make([]*Unit, 0, len(path)-at)
			for _, i := range path[at:] {
				cycle = append(cycle, b.units[i])
			}
			return cycle
		}
		pos[cur] = len(path)
		path = append(path, cur)
		next := -1
		for _, d := range b.dependencies[cur] {
			if inDegree[d] > 0 {
				next = d
				break
			}
		}
		if next < 0 {
			return nil
		}
		cur = next
	}
}

// toDOT renders the graph for Graphviz, one cluster per level.
func (b *levelBuilder) toDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph UnitGraph {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, indices := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, i := range indices {
			u := b.units[i]
			label := fmt.Sprintf("%s v%s\\n%s (%s)", u.Pkg.Name(), u.Pkg.ID().Version, u.Target.Description(), u.Mode)
			label = strings.ReplaceAll(label, "`", "")
			sb.WriteString(fmt.Sprintf("    \"u%d\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				i, label, modeColor(u.Mode)))
		}

		sb.WriteString("  }\n\n")
	}

	for i, deps := range b.dependencies {
		for _, j := range deps {
			sb.WriteString(fmt.Sprintf("  \"u%d\" -> \"u%d\" [%s];\n", i, j, kindStyle(b.units[j].Kind)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func modeColor(mode CompileMode) string {
	switch mode {
	case ModeBuild:
		return "lightblue"
	case ModeCheck, ModeCheckTest:
		return "lightgray"
	case ModeTest, ModeBench:
		return "lightgreen"
	case ModeDoc:
		return "lightyellow"
	case ModeRunCustomBuild:
		return "lightcoral"
	default:
		return "white"
	}
}

func kindStyle(kind CompileKind) string {
	if kind.IsHost() {
		return "style=dashed, color=blue"
	}
	return "style=solid, color=black"
}
