package compiler

import (
	"fmt"
	"path"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
)

// outputFile is a file placed at a well known location in the target
// directory, where two units may overwrite each other.
type outputFile struct {
	unit *Unit
	path string
}

// checkCollisions reports units whose uplifted outputs share a path.
func checkCollisions(g *UnitGraph) []core.Warning {
	seen := make(map[string]*Unit)
	var warnings []core.Warning
	for _, u := range g.units {
		for _, out := range upliftedOutputs(u) {
			prev, ok := seen[out.path]
			if !ok {
				seen[out.path] = u
				continue
			}
			warnings = append(warnings, core.Warning{
				Code:    core.ErrCodeFilenameCollision,
				Package: u.Pkg.ID().String(),
				Message: collisionMessage(prev, u, out.path),
			})
		}
	}
	return warnings
}

func collisionMessage(a, b *Unit, file string) string {
	var sb strings.Builder
	sb.WriteString("output filename collision.\n")
	fmt.Fprintf(&sb, "The %s in package `%s` has the same output filename as the %s in package `%s`.\n",
		b.Target.Description(), b.Pkg.ID(), a.Target.Description(), a.Pkg.ID())
	fmt.Fprintf(&sb, "Colliding filename is: %s\n", file)
	sb.WriteString("The targets should have unique names.\n")
	sb.WriteString("Consider changing their names to be unique or compiling them separately.")
	return sb.String()
}

// upliftedOutputs lists the outputs of u copied out of its private build
// directory.
func upliftedOutputs(u *Unit) []outputFile {
	dir := "target"
	if !u.Kind.IsHost() {
		dir = path.Join(dir, u.Kind.Triple)
	}

	if u.Mode == ModeDoc {
		if !u.Target.IsLib() && !u.Target.IsBin() {
			return nil
		}
		return []outputFile{{unit: u, path: path.Join(dir, "doc", u.Target.CrateName())}}
	}
	if u.Mode != ModeBuild || u.IsStd {
		return nil
	}

	dir = path.Join(dir, u.Profile.Dir())
	windows := strings.Contains(u.Kind.Triple, "windows")
	switch {
	case u.Target.IsBin():
		return []outputFile{{unit: u, path: path.Join(dir, exeName(u.Target.Name, windows))}}
	case u.Target.IsExample():
		return []outputFile{{unit: u, path: path.Join(dir, "examples", exeName(u.Target.Name, windows))}}
	case u.Target.IsLib():
		var out []outputFile
		for _, ct := range u.Target.CrateTypes {
			if ct != core.CrateTypeDylib && ct != core.CrateTypeCdylib {
				continue
			}
			out = append(out, outputFile{unit: u, path: path.Join(dir, dylibName(u.Target.CrateName(), u.Kind.Triple))})
		}
		return out
	default:
		return nil
	}
}

func exeName(name string, windows bool) string {
	if windows {
		return name + ".exe"
	}
	return name
}

func dylibName(crate, triple string) string {
	switch {
	case strings.Contains(triple, "windows"):
		return crate + ".dll"
	case strings.Contains(triple, "apple"):
		return "lib" + crate + ".dylib"
	default:
		return "lib" + crate + ".so"
	}
}
