package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "churn [file]",
		Short: "Show edit churn per file",
		Long:  "Without a file, lists the most recently edited files with their stability tier.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runChurn,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max files when listing")

	RootCmd.AddCommand(cmd)
}

func runChurn(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		tracker := a.tracker(b)

		var records []model.ChurnRecord
		if len(args) == 1 {
			rec, err := tracker.Record(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("churn: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("churn: no edits recorded for %s", args[0])
			}
			records = append(records, *rec)
		} else {
			list, err := b.ListChurn(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("churn: %w", err)
			}
			for _, r := range list {
				rec, err := tracker.Record(cmd.Context(), r.FilePath)
				if err != nil {
					return fmt.Errorf("churn: %w", err)
				}
				if rec != nil {
					records = append(records, *rec)
				}
			}
		}
		if records == nil {
			records = []model.ChurnRecord{}
		}

		if textOutput() {
			printChurn(cmd.OutOrStdout(), records)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), records)
	})
}

func printChurn(w io.Writer, records []model.ChurnRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No edits recorded.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "%-7s %4d edits (%d in 24h)  last %s  %s\n",
			r.Tier, r.EditCount, len(r.RecentEdits), r.LastEdit.Format("2006-01-02 15:04"), r.FilePath)
	}
}
