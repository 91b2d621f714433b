package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/engine"
	"github.com/openfroyo/crateplan/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate and list resolve policies",
		Long: `Policies are Rego modules evaluated against every resolve. Each
element of their deny set is a violation; violations of error severity
reject the resolve.

Built-in policies check banned packages, allowed registries, duplicate
versions, git sources and yanked versions.`,
	}

	cmd.AddCommand(newPolicyCheckCommand())
	cmd.AddCommand(newPolicyListCommand())

	return cmd
}

func newPolicyCheckCommand() *cobra.Command {
	var flags resolveFlags
	var banned, registries []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve the workspace and evaluate the policies",
		Long: `Resolve the workspace without writing the lockfile and report every
policy violation. The command fails when a violation blocks the resolve.`,
		Example: `  # Built-in policies only
  crateplan policy check

  # With a policy directory and a banned package
  crateplan policy check --policy policies/ --ban openssl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			eng, err := s.loadPolicy(flags.policyDir, true)
			if err != nil {
				return err
			}
			if len(banned) > 0 {
				if err := eng.SetData(s.ctx, policy.DataBanned, banned); err != nil {
					return err
				}
			}
			if len(registries) > 0 {
				if err := eng.SetData(s.ctx, policy.DataAllowedRegistries, registries); err != nil {
					return err
				}
			}

			_, req, err := flags.prepare(cmd, s, "policy-check")
			if err != nil {
				return err
			}
			req.NoWrite = true

			// The planner returns no result on rejection, so the policies
			// are evaluated here.
			var opts []engine.Option
			if s.store != nil {
				opts = append(opts, engine.WithIndex(s.store))
			}
			resolved, err := engine.NewPlanner(opts...).Resolve(s.ctx, req)
			if err != nil {
				return err
			}

			result, err := eng.Evaluate(s.ctx, resolved.Resolve, policy.Context{
				Operation: req.Command,
				Workspace: req.Workspace.Root,
				RunID:     resolved.RunID,
				Timestamp: time.Now(),
			})
			if err != nil {
				return err
			}
			return printPolicyResult(result)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringSliceVar(&banned, "ban", nil, "package names the banned-packages policy rejects")
	cmd.Flags().StringSliceVar(&registries, "allow-registry", nil, "registries the allowed-registries policy accepts")

	return cmd
}

func printPolicyResult(result *policy.Result) error {
	if jsonOutput {
		if err := printJSON(result); err != nil {
			return err
		}
		return result.Err()
	}

	fmt.Printf("Evaluated %d policies in %s\n", len(result.EvaluatedPolicies), result.Duration)
	if len(result.Violations) == 0 {
		fmt.Println("No violations")
	}
	for _, v := range result.Violations {
		pkg := ""
		if v.Package != "" {
			pkg = " [" + v.Package + "]"
		}
		fmt.Printf("  %-7s %s%s: %s\n", strings.ToUpper(string(v.Severity)), v.Policy, pkg, v.Message)
	}
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	return result.Err()
}

func newPolicyListCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the built-in and loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			eng, err := s.loadPolicy(dir, true)
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()

			if jsonOutput {
				return printJSON(policies)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				source := p.Source
				if source == "" {
					source = "builtin"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", p.Name, p.Severity, p.Enabled, source, p.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dir, "policy", "", "directory of Rego policies (default: paths.policy-dir)")

	return cmd
}
