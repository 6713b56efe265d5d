package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/hook"
)

func init() {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Handle a PreToolUse/PostToolUse event from stdin",
		Long: "Reads one hook event as JSON from stdin. Before a write it may deny once with similar past code\n" +
			"and churn warnings; after a write it stores the code. Always exits 0.",
		Args: cobra.NoArgs,
		RunE: runHook,
	}

	RootCmd.AddCommand(cmd)
}

func runHook(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[afterimage] %v\n", err)
		return nil
	}
	defer a.Close()

	h := hook.NewHandler(
		a.manager,
		a.embedder,
		a.filter(),
		hook.NewLedger(a.cfg.Hook.SeenWritesPath, a.cfg.Hook.LedgerSize),
		a.thresholds(),
		hook.Options{
			SearchLimit:     a.cfg.Hook.SearchLimit,
			SearchThreshold: a.cfg.Hook.SearchThreshold,
			MaxExcerpts:     a.cfg.Hook.MaxExcerpts,
			ExcerptChars:    a.cfg.Hook.ExcerptChars,
			FTSWeight:       a.cfg.Search.FTSWeight,
			SemanticWeight:  a.cfg.Search.SemanticWeight,
		},
		a.log.Logger,
	)

	if err := h.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		a.log.Warn().Err(err).Msg("write hook output")
	}
	return nil
}
