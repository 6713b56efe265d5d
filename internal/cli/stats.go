package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	return withBackend(cmd, func(a *app, b store.Backend) error {
		stats, err := b.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		if !textOutput() {
			return printJSON(cmd.OutOrStdout(), stats)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Backend:          %s\n", stats.Backend)
		fmt.Fprintf(w, "Entries:          %d\n", stats.TotalEntries)
		fmt.Fprintf(w, "With embeddings:  %d\n", stats.EntriesWithEmbeddings)
		fmt.Fprintf(w, "Unique files:     %d\n", stats.UniqueFiles)
		fmt.Fprintf(w, "Unique sessions:  %d\n", stats.UniqueSessions)
		if stats.OldestEntry != nil {
			fmt.Fprintf(w, "Oldest:           %s\n", stats.OldestEntry.Format("2006-01-02 15:04:05"))
		}
		if stats.NewestEntry != nil {
			fmt.Fprintf(w, "Newest:           %s\n", stats.NewestEntry.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "Size:             %.1f KB\n", float64(stats.SizeBytes)/1024)
		return nil
	})
}
