package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all remembered code and churn history",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion (irreversible)")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return errors.New("clear: refusing to delete everything without --yes")
	}

	return withBackend(cmd, func(a *app, b store.Backend) error {
		n, err := b.Clear(cmd.Context())
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		a.log.Info().Int("deleted", n).Msg("memory cleared")
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", n)
		return nil
	})
}
