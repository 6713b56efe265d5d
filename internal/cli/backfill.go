package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/embedding"
	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed entries stored without a vector",
		Long:  "Computes embeddings for entries stored while the provider was unavailable.",
		Args:  cobra.NoArgs,
		RunE:  runBackfill,
	}

	cmd.Flags().IntP("limit", "l", 100, "Max entries to embed")

	RootCmd.AddCommand(cmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		if a.embedder == nil {
			return errors.New("backfill: no embedding provider configured")
		}

		entries, err := b.MissingEmbeddings(cmd.Context(), limit)
		if err != nil {
			return fmt.Errorf("backfill: %w", err)
		}

		var updated, failed int
		for _, e := range entries {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			vec, err := embedding.EmbedCode(cmd.Context(), a.embedder, e.NewCode, e.FilePath, e.Context)
			if err != nil {
				a.log.Warn().Err(err).Str("id", e.ID).Msg("embed failed")
				failed++
				continue
			}
			ok, err := b.UpdateEmbedding(cmd.Context(), e.ID, vec)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			if ok {
				updated++
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"candidates":%d,"updated":%d,"failed":%d}`+"\n",
			len(entries), updated, failed)
		return nil
	})
}
