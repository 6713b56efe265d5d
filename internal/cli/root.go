// Package cli implements the afterimage CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/afterimage/internal/backend"
	"github.com/rcliao/afterimage/internal/churn"
	"github.com/rcliao/afterimage/internal/config"
	"github.com/rcliao/afterimage/internal/embedding"
	"github.com/rcliao/afterimage/internal/filter"
	"github.com/rcliao/afterimage/internal/logger"
	"github.com/rcliao/afterimage/internal/search"
	"github.com/rcliao/afterimage/internal/store"
)

var (
	configPath  string
	dbPath      string
	backendFlag string
	formatFlag  string
	logLevel    string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "afterimage",
	Short: "Episodic code memory for coding agents",
	Long: "Remembers code an agent writes and recalls similar past code before the next write.\n" +
		"Runs as a PreToolUse/PostToolUse hook or as a standalone CLI.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if formatFlag != "json" && formatFlag != "text" {
			return fmt.Errorf("invalid --format %q (want json or text)", formatFlag)
		}
		return nil
	},
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ~/.afterimage/config.yaml)")
	pf.StringVarP(&dbPath, "db", "d", "", "SQLite database path (default: $AFTERIMAGE_DB or ~/.afterimage/memory.db)")
	pf.StringVar(&backendFlag, "backend", "", "Storage backend: sqlite or postgresql")
	pf.StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// app holds what a command needs for one run. Commands open it, use it and
// close it before returning.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	manager  *backend.Manager
	embedder embedding.Embedder
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.SQLite.Path = dbPath
	}
	if backendFlag != "" {
		cfg.Backend = config.NormalizeBackend(backendFlag)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	e, err := embedding.New(embedding.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		URL:       cfg.Embeddings.URL,
		APIKey:    cfg.Embeddings.APIKey,
		Dims:      cfg.Embeddings.Dims,
		CacheSize: cfg.Embeddings.CacheSize,
		Timeout:   cfg.Embeddings.Timeout(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("embeddings disabled")
		e = nil
	}

	return &app{
		cfg:      cfg,
		log:      log,
		manager:  backend.NewManager(cfg, log.Logger),
		embedder: e,
	}, nil
}

func (a *app) backend(ctx context.Context) (store.Backend, error) {
	return a.manager.Backend(ctx)
}

func (a *app) ranker(b store.Backend) *search.Ranker {
	r := search.NewRanker(b, a.embedder, a.log.Logger)
	r.FTSWeight = a.cfg.Search.FTSWeight
	r.SemanticWeight = a.cfg.Search.SemanticWeight
	return r
}

func (a *app) filter() *filter.CodeFilter {
	f := a.cfg.Filter
	return filter.New(f.CodeExtensions, f.SkipExtensions, f.SkipPaths)
}

func (a *app) thresholds() churn.Thresholds {
	c := a.cfg.Churn
	return churn.Thresholds{
		RedEdits24h:      c.RedEdits24h,
		RepetitiveEdits:  c.RepetitiveEdits,
		GoldMinAgeDays:   c.GoldMinAgeDays,
		GoldMaxEdits30d:  c.GoldMaxEdits30d,
		SilverMaxEdits7d: c.SilverMaxEdits7d,
	}
}

func (a *app) tracker(b store.Backend) *churn.Tracker {
	return churn.NewTracker(b, a.thresholds(), a.log.Logger)
}

func (a *app) Close() error {
	return errors.Join(a.manager.Close(), a.log.Close())
}

// withBackend opens the app and its backend, runs fn, and closes both.
func withBackend(cmd *cobra.Command, fn func(a *app, b store.Backend) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.backend(cmd.Context())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return fn(a, b)
}

func textOutput() bool { return formatFlag == "text" }

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// readContent returns args joined, or stdin when no args are given and
// stdin is not a terminal.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func sessionFromEnv(fallback string) string {
	if id := os.Getenv("CLAUDE_SESSION_ID"); id != "" {
		return id
	}
	return fallback
}
