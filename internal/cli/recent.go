package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently remembered code",
		Args:  cobra.NoArgs,
		RunE:  runRecent,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max entries")
	cmd.Flags().StringP("session", "s", "", "Only entries from this session (oldest first)")
	cmd.Flags().StringP("path", "p", "", "Only files whose path contains this")

	RootCmd.AddCommand(cmd)
}

func runRecent(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	session, _ := cmd.Flags().GetString("session")
	path, _ := cmd.Flags().GetString("path")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		var entries []model.MemoryEntry
		var err error
		switch {
		case session != "":
			entries, err = b.BySession(cmd.Context(), session)
		case path != "":
			entries, err = b.SearchByPath(cmd.Context(), path, limit)
		default:
			entries, err = b.Recent(cmd.Context(), limit)
		}
		if err != nil {
			return fmt.Errorf("recent: %w", err)
		}
		if entries == nil {
			entries = []model.MemoryEntry{}
		}

		if textOutput() {
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), entries)
	})
}
