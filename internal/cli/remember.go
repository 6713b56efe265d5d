package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/embedding"
	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [code]",
		Short: "Manually remember a piece of code",
		Long:  "Store code for a file. Code can be a positional arg or piped via stdin.",
		RunE:  runRemember,
	}

	cmd.Flags().StringP("file", "F", "", "File path the code belongs to (required)")
	cmd.Flags().String("old", "", "Code that was replaced")
	cmd.Flags().StringP("context", "c", "", "Free-form note about the change")
	cmd.Flags().StringP("session", "s", "", "Session ID (default: $CLAUDE_SESSION_ID or manual)")
	cmd.Flags().Bool("force", false, "Store even if the filter says it is not code")

	cmd.MarkFlagRequired("file")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	oldCode, _ := cmd.Flags().GetString("old")
	note, _ := cmd.Flags().GetString("context")
	session, _ := cmd.Flags().GetString("session")
	force, _ := cmd.Flags().GetBool("force")

	code, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return errors.New("remember: code is required (positional arg or stdin)")
	}
	if session == "" {
		session = sessionFromEnv("manual")
	}

	return withBackend(cmd, func(a *app, b store.Backend) error {
		if !force && !a.filter().IsCode(filePath, code) {
			return fmt.Errorf("remember: %s does not look like code (use --force)", filePath)
		}

		vec, err := embedding.EmbedCode(cmd.Context(), a.embedder, code, filePath, note)
		if err != nil {
			a.log.Debug().Err(err).Msg("storing without embedding")
		}

		id, err := b.Store(cmd.Context(), store.StoreParams{
			FilePath:  filePath,
			NewCode:   code,
			OldCode:   oldCode,
			Context:   note,
			SessionID: session,
			Embedding: vec,
		})
		if err != nil {
			return fmt.Errorf("remember: %w", err)
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"ok":            true,
			"id":            id,
			"file_path":     filePath,
			"has_embedding": len(vec) > 0,
			"backend":       b.Kind(),
		})
	})
}
