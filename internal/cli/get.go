package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one remembered entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().Bool("embedding", false, "Include the stored vector")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	withVec, _ := cmd.Flags().GetBool("embedding")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		e, err := b.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		if e == nil {
			return fmt.Errorf("get: entry %s not found", args[0])
		}
		if !withVec {
			e.Embedding = nil
		}

		if textOutput() {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:        %s\n", e.ID)
			fmt.Fprintf(w, "File:      %s\n", e.FilePath)
			fmt.Fprintf(w, "Timestamp: %s\n", e.Timestamp.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Session:   %s\n", e.SessionID)
			if e.Context != "" {
				fmt.Fprintf(w, "Context:   %s\n", e.Context)
			}
			if e.OldCode != "" {
				fmt.Fprintf(w, "\n--- old\n%s\n", e.OldCode)
			}
			fmt.Fprintf(w, "\n+++ new\n%s\n", e.NewCode)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), e)
	})
}
