package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a remembered entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withBackend(cmd, func(a *app, b store.Backend) error {
		ok, err := b.Delete(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("rm: %w", err)
		}
		if !ok {
			return fmt.Errorf("rm: entry %s not found", id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
		return nil
	})
}
