package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/resolver"
)

func newTreeCommand() *cobra.Command {
	var flags resolveFlags
	var pkg string
	var depth int

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the resolved dependency tree",
		Long: `Resolve the workspace without writing the lockfile and print the
dependency tree of each member. Packages already printed are marked (*).`,
		Example: `  # Tree of every member
  crateplan tree

  # Tree of one member, two levels deep
  crateplan tree --package app --depth 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			planner, req, err := flags.prepare(cmd, s, "tree")
			if err != nil {
				return err
			}
			req.NoWrite = true

			result, err := planner.Resolve(s.ctx, req)
			if err != nil {
				return err
			}

			roots := result.Resolve.Roots()
			if pkg != "" {
				id, err := result.Resolve.Query(pkg)
				if err != nil {
					return err
				}
				roots = []core.PackageId{id}
			}

			t := &treePrinter{res: result.Resolve, w: os.Stdout, depth: depth, seen: map[core.PackageId]bool{}}
			for i, id := range roots {
				if i > 0 {
					fmt.Fprintln(t.w)
				}
				t.print(id, "", "", 0)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&pkg, "package", "p", "", "print the tree of this package only (name or name@version)")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum depth to print (0 for unlimited)")

	return cmd
}

type treePrinter struct {
	res   *resolver.Resolve
	w     io.Writer
	depth int
	seen  map[core.PackageId]bool
}

func (t *treePrinter) print(id core.PackageId, prefix, branch string, level int) {
	t.printLabeled(id, prefix, branch, "", level)
}

func (t *treePrinter) printLabeled(id core.PackageId, prefix, branch, label string, level int) {
	line := prefix + branch + label + id.String()
	if t.seen[id] && len(t.res.Deps(id)) > 0 {
		fmt.Fprintln(t.w, line+" (*)")
		return
	}
	fmt.Fprintln(t.w, line)
	t.seen[id] = true

	if t.depth > 0 && level >= t.depth {
		return
	}

	switch branch {
	case "├── ":
		prefix += "│   "
	case "└── ":
		prefix += "    "
	}

	deps := t.res.Deps(id)
	for i, e := range deps {
		next := "├── "
		if i == len(deps)-1 {
			next = "└── "
		}
		t.printLabeled(e.To, prefix, next, edgeLabel(e), level+1)
	}
}

func edgeLabel(e resolver.Edge) string {
	switch {
	case e.OnlyDev():
		return "[dev] "
	case e.HasKind(core.DepBuild) && !e.HasKind(core.DepNormal):
		return "[build] "
	default:
		return ""
	}
}
