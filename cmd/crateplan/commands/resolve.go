package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/config"
	"github.com/openfroyo/crateplan/pkg/engine"
)

// resolveFlags are shared by every command that resolves the workspace.
type resolveFlags struct {
	features          []string
	allFeatures       bool
	noDefaultFeatures bool
	locked            bool
	lockfile          string
	index             string
	record            bool
	policyDir         string
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.features, "features", "F", nil, "features to enable on the workspace members")
	cmd.Flags().BoolVar(&f.allFeatures, "all-features", false, "enable every feature of the workspace members")
	cmd.Flags().BoolVar(&f.noDefaultFeatures, "no-default-features", false, "do not enable the default feature")
	cmd.Flags().BoolVar(&f.locked, "locked", false, "fail if the lockfile needs to be updated")
	cmd.Flags().StringVar(&f.lockfile, "lockfile", "", "lockfile path (default: paths.lockfile)")
	cmd.Flags().StringVar(&f.index, "index", "", "SQLite registry index to query (default: paths.index-db)")
	cmd.Flags().BoolVar(&f.record, "record", false, "record the run in the index database")
	cmd.Flags().StringVar(&f.policyDir, "policy", "", "directory of Rego policies to enforce (default: paths.policy-dir)")
}

// apply copies the flags the user set over the configuration.
func (f *resolveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("features") {
		cfg.Resolver.Features = f.features
	}
	if f.allFeatures {
		cfg.Resolver.AllFeatures = true
	}
	if f.noDefaultFeatures {
		cfg.Resolver.NoDefaultFeatures = true
	}
}

// prepare loads the workspace, opens the store and the policies, and
// returns the planner and request for a run.
func (f *resolveFlags) prepare(cmd *cobra.Command, s *session, command string) (*engine.DefaultPlanner, engine.Request, error) {
	f.apply(cmd, s.cfg)

	ws, err := s.loadWorkspace()
	if err != nil {
		return nil, engine.Request{}, err
	}

	if _, err := s.openStore(workspacePathFor(f.index)); err != nil {
		return nil, engine.Request{}, err
	}
	if f.record && s.store == nil {
		return nil, engine.Request{}, fmt.Errorf("--record needs a database: pass --index or set paths.index-db")
	}
	if _, err := s.loadPolicy(f.policyDir, false); err != nil {
		return nil, engine.Request{}, err
	}

	req := engine.Request{
		Workspace:    ws,
		Config:       s.cfg,
		Command:      command,
		LockfilePath: f.lockfile,
		Locked:       f.locked,
	}
	return s.planner(true, f.record), req, nil
}

func newResolveCommand() *cobra.Command {
	var flags resolveFlags
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the workspace dependencies",
		Long: `Resolve the dependencies of every workspace member.

The existing lockfile is honored: locked versions are preferred whenever
they still satisfy the requirements. The lockfile is rewritten when the
resolve changes it.`,
		Example: `  # Resolve and update the lockfile
  crateplan resolve

  # Fail instead of updating the lockfile
  crateplan resolve --locked

  # Enable a feature on every member that declares it
  crateplan resolve --features tls`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			planner, req, err := flags.prepare(cmd, s, "resolve")
			if err != nil {
				return err
			}
			req.NoWrite = dryRun

			result, err := planner.Resolve(s.ctx, req)
			if err != nil {
				return err
			}
			return printResolve(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not write the lockfile")

	return cmd
}

func newGenerateLockfileCommand() *cobra.Command {
	var flags resolveFlags

	cmd := &cobra.Command{
		Use:   "generate-lockfile",
		Short: "Resolve from scratch and write the lockfile",
		Long: `Resolve every dependency ignoring the existing lockfile, selecting the
newest matching versions, and write the result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			planner, req, err := flags.prepare(cmd, s, "generate-lockfile")
			if err != nil {
				return err
			}
			req.IgnoreLockfile = true

			result, err := planner.Resolve(s.ctx, req)
			if err != nil {
				return err
			}
			return printResolve(result)
		},
	}

	flags.register(cmd)

	return cmd
}

type resolvedPackage struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Source   string   `json:"source"`
	Root     bool     `json:"root"`
	Features []string `json:"features"`
}

type resolveOutput struct {
	RunID           string            `json:"run_id"`
	Lockfile        string            `json:"lockfile"`
	LockfileChanged bool              `json:"lockfile_changed"`
	Packages        []resolvedPackage `json:"packages"`
	Warnings        []string          `json:"warnings,omitempty"`
	Activations     int               `json:"activations"`
	Backtracks      int               `json:"backtracks"`
	DurationMS      int64             `json:"duration_ms"`
}

func newResolveOutput(result *engine.Result) resolveOutput {
	out := resolveOutput{
		RunID:           result.RunID,
		Lockfile:        result.LockfilePath,
		LockfileChanged: result.LockfileChanged,
		Activations:     result.Stats.Activations,
		Backtracks:      result.Stats.Backtracks,
		DurationMS:      result.Duration.Milliseconds(),
	}
	res := result.Resolve
	for _, id := range res.PackageIds() {
		out.Packages = append(out.Packages, resolvedPackage{
			Name:     id.Name,
			Version:  id.Version.String(),
			Source:   id.Source.Display(),
			Root:     res.IsRoot(id),
			Features: res.Features(id),
		})
	}
	for _, w := range result.Warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}
	return out
}

func printResolve(result *engine.Result) error {
	out := newResolveOutput(result)
	if jsonOutput {
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tSOURCE\tFEATURES")
	for _, p := range out.Packages {
		name := p.Name
		if p.Root {
			name += " (member)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, p.Version, p.Source, joinOrDash(p.Features))
	}
	w.Flush()

	fmt.Printf("\nResolved %d packages in %s (%d activations, %d backtracks)\n",
		len(out.Packages), result.Duration.Round(time.Millisecond), out.Activations, out.Backtracks)
	switch {
	case out.LockfileChanged && !result.LockfileWritten:
		fmt.Printf("Lockfile %s is out of date (not written)\n", out.Lockfile)
	case out.LockfileChanged:
		fmt.Printf("Updated %s\n", out.Lockfile)
	}
	for _, w := range out.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
