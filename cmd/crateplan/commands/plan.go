package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/compiler"
	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/engine"
	"github.com/openfroyo/crateplan/pkg/manifest"
)

type planFlags struct {
	resolveFlags

	targets      []string
	host         string
	release      bool
	profile      string
	mode         string
	format       string
	out          string
	buildStd     bool
	stdWorkspace string
	packages     []string

	lib, bins, tests, benches, examples, allTargets bool
}

func (f *planFlags) applyBuild(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("target") {
		cfg.Build.Targets = f.targets
	}
	if f.host != "" {
		cfg.Build.Host = f.host
	}
	if f.release {
		cfg.Build.Profile = compiler.ProfileRelease
	}
	if f.profile != "" {
		cfg.Build.Profile = f.profile
	}
	if f.mode != "" {
		cfg.Build.Mode = f.mode
	}
	if f.buildStd {
		cfg.Build.BuildStd = true
	}
}

func (f *planFlags) selector() compiler.TargetSelector {
	return compiler.TargetSelector{
		Lib:      f.lib,
		Bins:     f.bins,
		Tests:    f.tests,
		Benches:  f.benches,
		Examples: f.examples,
		All:      f.allTargets,
	}
}

// request prepares a plan run: resolve flags, build settings, roots and
// the standard library workspace.
func (f *planFlags) request(cmd *cobra.Command, s *session) (*engine.DefaultPlanner, engine.Request, error) {
	f.applyBuild(cmd, s.cfg)
	if _, err := compiler.ParseCompileMode(s.cfg.Build.Mode); err != nil {
		return nil, engine.Request{}, err
	}

	planner, req, err := f.prepare(cmd, s, "plan")
	if err != nil {
		return nil, engine.Request{}, err
	}

	req.Roots, err = engine.SelectRoots(req.Workspace, f.packages, f.selector())
	if err != nil {
		return nil, engine.Request{}, err
	}

	if f.stdWorkspace != "" {
		req.Std, err = manifest.Load(s.ctx, f.stdWorkspace)
		if err != nil {
			return nil, engine.Request{}, fmt.Errorf("failed to load standard library workspace: %w", err)
		}
	}
	return planner, req, nil
}

func (f *planFlags) register(cmd *cobra.Command) {
	f.resolveFlags.register(cmd)

	cmd.Flags().StringSliceVar(&f.targets, "target", nil, "target triples to build for (default: host)")
	cmd.Flags().StringVar(&f.host, "host", "", "host triple")
	cmd.Flags().BoolVarP(&f.release, "release", "r", false, "use the release profile")
	cmd.Flags().StringVar(&f.profile, "profile", "", "profile to build with")
	cmd.Flags().StringVar(&f.mode, "mode", "", "compile mode: build, check, test, bench or doc")
	cmd.Flags().StringVar(&f.format, "format", "levels", "output format: levels, json or dot")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the plan to a file instead of stdout")
	cmd.Flags().BoolVar(&f.buildStd, "build-std", false, "build the standard library from source")
	cmd.Flags().StringVar(&f.stdWorkspace, "std-workspace", "", "workspace describing the standard library (required by --build-std)")
	cmd.Flags().StringSliceVarP(&f.packages, "package", "p", nil, "members to plan (default: all)")

	cmd.Flags().BoolVar(&f.lib, "lib", false, "plan the library targets")
	cmd.Flags().BoolVar(&f.bins, "bins", false, "plan the binary targets")
	cmd.Flags().BoolVar(&f.tests, "tests", false, "plan the test targets")
	cmd.Flags().BoolVar(&f.benches, "benches", false, "plan the bench targets")
	cmd.Flags().BoolVar(&f.examples, "examples", false, "plan the example targets")
	cmd.Flags().BoolVar(&f.allTargets, "all-targets", false, "plan every target")
}

func newPlanCommand() *cobra.Command {
	var flags planFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve the workspace and plan its compilation units",
		Long: `Resolve the workspace, update the lockfile and expand the selected
members into the graph of compilation units an executor would run.

The levels format lists units in build order; units on the same level do
not depend on each other. The json and dot formats print the whole graph.`,
		Example: `  # Build order for the host
  crateplan plan

  # Release plan for a cross target, as Graphviz
  crateplan plan --release --target aarch64-unknown-linux-gnu --format dot

  # Test units of one member
  crateplan plan --mode test --package app --tests`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch flags.format {
			case "levels", "json", "dot":
			default:
				return fmt.Errorf("unknown format %q (want levels, json or dot)", flags.format)
			}

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			planner, req, err := flags.request(cmd, s)
			if err != nil {
				return err
			}

			result, err := planner.Plan(s.ctx, req)
			if err != nil {
				return err
			}

			w := io.Writer(os.Stdout)
			if flags.out != "" {
				f, err := os.Create(flags.out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", flags.out, err)
				}
				defer f.Close()
				w = f
			}
			return writePlan(w, result, flags.format)
		},
	}

	flags.register(cmd)

	return cmd
}

func writePlan(w io.Writer, result *engine.Result, format string) error {
	graph := result.Graph
	switch format {
	case "json":
		data, err := graph.ToJSON()
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case "dot":
		_, err := io.WriteString(w, graph.ToDOT())
		return err
	}

	for i, level := range graph.Levels() {
		names := make([]string, 0, len(level))
		for _, u := range level {
			names = append(names, u.String())
		}
		fmt.Fprintf(w, "level %d:\n  %s\n", i, strings.Join(names, "\n  "))
	}
	fmt.Fprintf(w, "\n%d units, %d packages\n", graph.Len(), result.Resolve.Len())
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn.Message)
	}
	return nil
}
