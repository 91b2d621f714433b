package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the workspace description and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.cfg.Validate(); err != nil {
				return err
			}
			ws, err := s.loadWorkspace()
			if err != nil {
				return err
			}

			members := make([]string, 0, len(ws.Members))
			for _, m := range ws.Members {
				members = append(members, m.ID.Spec())
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"root":     ws.Root,
					"members":  members,
					"registry": ws.Registry.Len(),
				})
			}
			fmt.Printf("Workspace %s is valid\n", ws.Root)
			fmt.Printf("  members:  %s\n", joinOrDash(members))
			fmt.Printf("  registry: %d packages\n", ws.Registry.Len())
			return nil
		},
	}
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
