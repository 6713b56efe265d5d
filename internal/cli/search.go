package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/search"
	"github.com/rcliao/afterimage/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search remembered code",
		Long: "Hybrid keyword and semantic search over remembered code. With --code the query is treated as\n" +
			"code and matched by embedding similarity only; --file names the file it would live in.",
		Args: cobra.MinimumNArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default: search.max_results)")
	cmd.Flags().Float64P("threshold", "t", -1, "Minimum relevance (default: search.relevance_threshold)")
	cmd.Flags().StringP("path", "p", "", "Only files whose path contains this")
	cmd.Flags().Bool("code", false, "Treat the query as code (semantic only)")
	cmd.Flags().String("file", "", "File path the code belongs to, used with --code")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	path, _ := cmd.Flags().GetString("path")
	asCode, _ := cmd.Flags().GetBool("code")
	codeFile, _ := cmd.Flags().GetString("file")
	query := strings.Join(args, " ")

	return withBackend(cmd, func(a *app, b store.Backend) error {
		if limit <= 0 {
			limit = a.cfg.Search.MaxResults
		}
		if threshold < 0 {
			threshold = a.cfg.Search.RelevanceThreshold
		}

		r := a.ranker(b)
		var results []model.SearchResult
		var err error
		if asCode {
			results, err = r.SearchCode(cmd.Context(), query, codeFile, search.Options{
				Limit:      limit,
				Threshold:  threshold,
				PathFilter: path,
			})
		} else {
			results, err = r.Search(cmd.Context(), query, search.Options{
				Limit:              limit,
				Threshold:          threshold,
				PathFilter:         path,
				IncludeLexicalOnly: a.embedder == nil,
			})
		}
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if results == nil {
			results = []model.SearchResult{}
		}

		if textOutput() {
			printResults(cmd.OutOrStdout(), results)
			return nil
		}
		return printJSON(cmd.OutOrStdout(), results)
	})
}

func printResults(w io.Writer, results []model.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s  [%.3f] (fts %.3f, semantic %.3f)  %s\n",
			i+1, r.FilePath, r.RelevanceScore, r.FTSScore, r.SemanticScore, r.ID)
		fmt.Fprintf(w, "   %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
		fmt.Fprintln(w, indent(preview(r.NewCode, 6), "   | "))
	}
}

func printEntries(w io.Writer, entries []model.MemoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %s\n", e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.FilePath)
		fmt.Fprintln(w, indent(preview(e.NewCode, 4), "   | "))
	}
}

func preview(code string, lines int) string {
	parts := strings.Split(strings.TrimRight(code, "\n"), "\n")
	if len(parts) > lines {
		parts = append(parts[:lines], "...")
	}
	return strings.Join(parts, "\n")
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
