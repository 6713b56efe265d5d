package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import remembered code from JSON",
		Long:  "Import an export document from a file or stdin. Entries that already exist are skipped.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		defer f.Close()
		r = f
	}

	var doc store.ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	return withBackend(cmd, func(a *app, b store.Backend) error {
		imported, skipped, err := store.Import(cmd.Context(), b, doc.Entries)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, skipped)
		return nil
	})
}
