package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export remembered code as JSON",
		Long:  "Export every entry, oldest first, without embeddings. Writes to stdout unless -o is given.",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		doc, err := store.ExportAll(cmd.Context(), b)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}

		if output == "" {
			return printJSON(cmd.OutOrStdout(), doc)
		}

		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if err := printJSON(f, doc); err != nil {
			f.Close()
			return fmt.Errorf("export: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", doc.Count, output)
		return nil
	})
}
