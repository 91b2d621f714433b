package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/manifest"
)

func newIndexCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the local registry index",
		Long: `The registry index is a SQLite database of package versions the
resolver can choose from, in addition to the registry entries of the
workspace itself.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "index database (default: paths.index-db)")

	cmd.AddCommand(newIndexImportCommand(&dbPath))
	cmd.AddCommand(newIndexListCommand(&dbPath))
	cmd.AddCommand(newIndexRemoveCommand(&dbPath))

	return cmd
}

func newIndexImportCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "import <file>...",
		Short:   "Import the registry entries of workspace-format files",
		Example: `  crateplan index import --db index.db registry.yaml`,
		Args:    cobra.MinimumNArgs(1),
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

			var summaries []core.Summary
			for _, path := range args {
				entries, err := manifest.ReadRegistry(s.ctx, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				summaries = append(summaries, entries...)
			}

			stats, err := store.PutSummaries(s.ctx, summaries)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(stats)
			}
			fmt.Printf("Imported %d versions: %d added, %d updated, %d unchanged\n",
				len(summaries), stats.Added, stats.Updated, stats.Unchanged)
			return nil
		},
	}
}

func newIndexListCommand(dbPath *string) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List indexed package versions",
		Args:  cobra.MaximumNArgs(1),
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

			var name string
			if len(args) == 1 {
				name = args[0]
			}
			entries, err := store.ListIndex(s.ctx, name, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				type row struct {
					Name     string `json:"name"`
					Version  string `json:"version"`
					Source   string `json:"source"`
					Yanked   bool   `json:"yanked"`
					Checksum string `json:"checksum"`
				}
				rows := make([]row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, row{
						Name:     e.Summary.Name(),
						Version:  e.Summary.Version().String(),
						Source:   e.Summary.Source().String(),
						Yanked:   e.Summary.Yanked,
						Checksum: e.Checksum,
					})
				}
				return printJSON(rows)
			}

			if len(entries) == 0 {
				fmt.Println("No indexed packages")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSOURCE\tYANKED\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					e.Summary.Name(), e.Summary.Version(), e.Summary.Source().Display(),
					e.Summary.Yanked, e.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of versions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of versions to skip")

	return cmd
}

func newIndexRemoveCommand(dbPath *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "remove <name> <version>",
		Short: "Remove a package version from the index",
		Args:  cobra.ExactArgs(2),
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

			src := core.DefaultRegistry()
			if source != "" {
				if src, err = core.ParseSourceId(source); err != nil {
					return err
				}
			}
			id, err := core.NewPackageId(args[0], args[1], src)
			if err != nil {
				return err
			}
			if err := store.DeleteIndexEntry(s.ctx, id); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id of the version (default: the default registry)")

	return cmd
}
