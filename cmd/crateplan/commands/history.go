package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded resolves",
		Long: `Runs started with --record are stored in the index database together
with the packages they resolved and the events they raised.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database (default: paths.index-db)")

	cmd.AddCommand(newHistoryListCommand(&dbPath))
	cmd.AddCommand(newHistoryShowCommand(&dbPath))

	return cmd
}

func newHistoryListCommand(dbPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			store, err := s.requireStore(*dbPath)
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(s.ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No recorded runs")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOMMAND\tSTATUS\tPACKAGES\tUNITS\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Command, r.Status, r.Packages, r.Units, r.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newHistoryShowCommand(dbPath *string) *cobra.Command {
	var level string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run with its packages and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			store, err := s.requireStore(*dbPath)
			if err != nil {
				return err
			}

			run, err := store.GetRun(s.ctx, args[0])
			if err != nil {
				return err
			}
			packages, err := store.ListRunPackages(s.ctx, run.ID)
			if err != nil {
				return err
			}
			var filter *stores.EventLevel
			if level != "" {
				l := stores.EventLevel(level)
				filter = &l
			}
			events, err := store.GetEvents(s.ctx, run.ID, filter, 0, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"run":      run,
					"packages": packages,
					"events":   events,
				})
			}

			fmt.Printf("Run %s (%s): %s\n", run.ID, run.Command, run.Status)
			fmt.Printf("  workspace: %s\n", run.Workspace)
			fmt.Printf("  started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.CompletedAt != nil {
				fmt.Printf("  duration:  %s\n", run.CompletedAt.Sub(run.StartedAt))
			}
			if run.Error != nil {
				fmt.Printf("  error:     [%s] %s\n", run.ErrorCode, *run.Error)
			}

			if len(packages) > 0 {
				fmt.Printf("\nPackages (%d):\n", len(packages))
				for _, p := range packages {
					fmt.Printf("  %s v%s %s [%s]\n", p.Name, p.Version, p.Source, joinOrDash(p.Features))
				}
			}
			if len(events) > 0 {
				fmt.Printf("\nEvents (%d):\n", len(events))
				for _, e := range events {
					fmt.Printf("  %-7s %s %s\n", e.Level, e.Code, e.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "only show events of this level (info, warning, error)")

	return cmd
}
