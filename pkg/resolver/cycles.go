package resolver

import "github.com/openfroyo/crateplan/pkg/core"

type color uint8

const (
	white color = iota
	grey
	black
)

// checkCycles reports the first dependency cycle found among the resolved
// packages. Edges made only of dev-dependencies are ignored: a test may
// depend on a package that depends on the package under test.
func checkCycles(res *Resolve) error {
	colors := make(map[core.PackageId]color, res.Len())
	var stack []core.PackageId

	var visit func(id core.PackageId) []core.PackageId
	visit = func(id core.PackageId) []core.PackageId {
		colors[id] = grey
		stack = append(stack, id)
		for _, e := range res.Deps(id) {
			if e.OnlyDev() {
				continue
			}
			switch colors[e.To] {
			case grey:
				for i, s := range stack {
					if s == e.To {
						return append([]core.PackageId(nil), stack[i:]...)
					}
				}
			case white:
				if cycle := visit(e.To); cycle != nil {
					return cycle
				}
			case black:
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range res.PackageIds() {
		if colors[id] != white {
			continue
		}
		if cycle := visit(id); cycle != nil {
			return &PackageCycleError{Cycle: cycle}
		}
	}
	return nil
}
