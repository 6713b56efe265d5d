// Package config loads afterimage settings from ~/.afterimage/config.yaml
// and AFTERIMAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/afterimage/internal/filter"
)

// Backend names accepted in config.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgresql"
)

// ErrNoPassword means Postgres was selected without a password or
// connection string.
var ErrNoPassword = errors.New("postgresql password not configured (set AFTERIMAGE_PG_PASSWORD)")

// Config is the static configuration read once at startup.
type Config struct {
	Backend    string           `mapstructure:"backend" yaml:"backend" json:"backend"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite"`
	Postgres   PostgresConfig   `mapstructure:"postgresql" yaml:"postgresql" json:"postgresql"`
	Search     SearchConfig     `mapstructure:"search" yaml:"search" json:"search"`
	Hook       HookConfig       `mapstructure:"hook" yaml:"hook" json:"hook"`
	Filter     FilterConfig     `mapstructure:"filter" yaml:"filter" json:"filter"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings" yaml:"embeddings" json:"embeddings"`
	Churn      ChurnConfig      `mapstructure:"churn" yaml:"churn" json:"churn"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging" json:"logging"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

type PostgresConfig struct {
	Host                  string `mapstructure:"host" yaml:"host" json:"host"`
	Port                  int    `mapstructure:"port" yaml:"port" json:"port"`
	Database              string `mapstructure:"database" yaml:"database" json:"database"`
	User                  string `mapstructure:"user" yaml:"user" json:"user"`
	Password              string `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
	ConnectionString      string `mapstructure:"connection_string" yaml:"connection_string,omitempty" json:"connection_string,omitempty"`
	MaxConns              int    `mapstructure:"max_conns" yaml:"max_conns" json:"max_conns"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds" json:"connect_timeout_seconds"`
}

type SearchConfig struct {
	MaxResults         int     `mapstructure:"max_results" yaml:"max_results" json:"max_results"`
	RelevanceThreshold float64 `mapstructure:"relevance_threshold" yaml:"relevance_threshold" json:"relevance_threshold"`
	FTSWeight          float64 `mapstructure:"fts_weight" yaml:"fts_weight" json:"fts_weight"`
	SemanticWeight     float64 `mapstructure:"semantic_weight" yaml:"semantic_weight" json:"semantic_weight"`
}

type HookConfig struct {
	SeenWritesPath  string  `mapstructure:"seen_writes_path" yaml:"seen_writes_path" json:"seen_writes_path"`
	LedgerSize      int     `mapstructure:"ledger_size" yaml:"ledger_size" json:"ledger_size"`
	MaxExcerpts     int     `mapstructure:"max_excerpts" yaml:"max_excerpts" json:"max_excerpts"`
	ExcerptChars    int     `mapstructure:"excerpt_chars" yaml:"excerpt_chars" json:"excerpt_chars"`
	SearchLimit     int     `mapstructure:"search_limit" yaml:"search_limit" json:"search_limit"`
	SearchThreshold float64 `mapstructure:"search_threshold" yaml:"search_threshold" json:"search_threshold"`
}

type FilterConfig struct {
	CodeExtensions []string `mapstructure:"code_extensions" yaml:"code_extensions" json:"code_extensions"`
	SkipExtensions []string `mapstructure:"skip_extensions" yaml:"skip_extensions" json:"skip_extensions"`
	SkipPaths      []string `mapstructure:"skip_paths" yaml:"skip_paths" json:"skip_paths"`
}

type EmbeddingsConfig struct {
	Provider       string `mapstructure:"provider" yaml:"provider" json:"provider"`
	Model          string `mapstructure:"model" yaml:"model" json:"model"`
	URL            string `mapstructure:"url" yaml:"url" json:"url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Dims           int    `mapstructure:"dims" yaml:"dims" json:"dims"`
	CacheSize      int    `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
}

type ChurnConfig struct {
	RedEdits24h      int `mapstructure:"red_edits_24h" yaml:"red_edits_24h" json:"red_edits_24h"`
	RepetitiveEdits  int `mapstructure:"repetitive_edits" yaml:"repetitive_edits" json:"repetitive_edits"`
	GoldMinAgeDays   int `mapstructure:"gold_min_age_days" yaml:"gold_min_age_days" json:"gold_min_age_days"`
	GoldMaxEdits30d  int `mapstructure:"gold_max_edits_30d" yaml:"gold_max_edits_30d" json:"gold_max_edits_30d"`
	SilverMaxEdits7d int `mapstructure:"silver_max_edits_7d" yaml:"silver_max_edits_7d" json:"silver_max_edits_7d"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	File   string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" json:"pretty"`
}

// Dir returns the afterimage home directory, ~/.afterimage.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".afterimage"
	}
	return filepath.Join(home, ".afterimage")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the reference configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Backend: BackendSQLite,
		SQLite:  SQLiteConfig{Path: filepath.Join(dir, "memory.db")},
		Postgres: PostgresConfig{
			Host:                  "localhost",
			Port:                  5432,
			Database:              "afterimage",
			User:                  "afterimage",
			MaxConns:              4,
			ConnectTimeoutSeconds: 3,
		},
		Search: SearchConfig{
			MaxResults:         5,
			RelevanceThreshold: 0.3,
			FTSWeight:          0.4,
			SemanticWeight:     0.6,
		},
		Hook: HookConfig{
			SeenWritesPath:  filepath.Join(dir, ".seen_writes"),
			LedgerSize:      100,
			MaxExcerpts:     3,
			ExcerptChars:    400,
			SearchLimit:     5,
			SearchThreshold: 0.01,
		},
		Filter: FilterConfig{
			CodeExtensions: append([]string(nil), filter.DefaultCodeExtensions...),
			SkipExtensions: append([]string(nil), filter.DefaultSkipExtensions...),
			SkipPaths:      append([]string(nil), filter.DefaultSkipPaths...),
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "",
			Model:          "",
			CacheSize:      256,
			TimeoutSeconds: 10,
		},
		Churn: ChurnConfig{
			RedEdits24h:      8,
			RepetitiveEdits:  3,
			GoldMinAgeDays:   30,
			GoldMaxEdits30d:  2,
			SilverMaxEdits7d: 3,
		},
		Logging: LoggingConfig{Level: "warn"},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend", d.Backend)
	v.SetDefault("sqlite.path", d.SQLite.Path)

	v.SetDefault("postgresql.host", d.Postgres.Host)
	v.SetDefault("postgresql.port", d.Postgres.Port)
	v.SetDefault("postgresql.database", d.Postgres.Database)
	v.SetDefault("postgresql.user", d.Postgres.User)
	v.SetDefault("postgresql.password", d.Postgres.Password)
	v.SetDefault("postgresql.connection_string", d.Postgres.ConnectionString)
	v.SetDefault("postgresql.max_conns", d.Postgres.MaxConns)
	v.SetDefault("postgresql.connect_timeout_seconds", d.Postgres.ConnectTimeoutSeconds)

	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.relevance_threshold", d.Search.RelevanceThreshold)
	v.SetDefault("search.fts_weight", d.Search.FTSWeight)
	v.SetDefault("search.semantic_weight", d.Search.SemanticWeight)

	v.SetDefault("hook.seen_writes_path", d.Hook.SeenWritesPath)
	v.SetDefault("hook.ledger_size", d.Hook.LedgerSize)
	v.SetDefault("hook.max_excerpts", d.Hook.MaxExcerpts)
	v.SetDefault("hook.excerpt_chars", d.Hook.ExcerptChars)
	v.SetDefault("hook.search_limit", d.Hook.SearchLimit)
	v.SetDefault("hook.search_threshold", d.Hook.SearchThreshold)

	v.SetDefault("filter.code_extensions", d.Filter.CodeExtensions)
	v.SetDefault("filter.skip_extensions", d.Filter.SkipExtensions)
	v.SetDefault("filter.skip_paths", d.Filter.SkipPaths)

	v.SetDefault("embeddings.provider", d.Embeddings.Provider)
	v.SetDefault("embeddings.model", d.Embeddings.Model)
	v.SetDefault("embeddings.url", d.Embeddings.URL)
	v.SetDefault("embeddings.api_key", d.Embeddings.APIKey)
	v.SetDefault("embeddings.dims", d.Embeddings.Dims)
	v.SetDefault("embeddings.cache_size", d.Embeddings.CacheSize)
	v.SetDefault("embeddings.timeout_seconds", d.Embeddings.TimeoutSeconds)

	v.SetDefault("churn.red_edits_24h", d.Churn.RedEdits24h)
	v.SetDefault("churn.repetitive_edits", d.Churn.RepetitiveEdits)
	v.SetDefault("churn.gold_min_age_days", d.Churn.GoldMinAgeDays)
	v.SetDefault("churn.gold_max_edits_30d", d.Churn.GoldMaxEdits30d)
	v.SetDefault("churn.silver_max_edits_7d", d.Churn.SilverMaxEdits7d)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
}

// Load reads configPath (or the default path) if it exists and applies
// environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("AFTERIMAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("postgresql.password", "AFTERIMAGE_PG_PASSWORD", "AFTERIMAGE_POSTGRESQL_PASSWORD")
	_ = v.BindEnv("sqlite.path", "AFTERIMAGE_DB", "AFTERIMAGE_SQLITE_PATH")
	_ = v.BindEnv("embeddings.api_key", "AFTERIMAGE_EMBEDDINGS_API_KEY", "OPENAI_API_KEY")

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SQLite.Path = expandHome(cfg.SQLite.Path)
	cfg.Hook.SeenWritesPath = expandHome(cfg.Hook.SeenWritesPath)
	cfg.Logging.File = expandHome(cfg.Logging.File)
	cfg.Backend = NormalizeBackend(cfg.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NormalizeBackend maps accepted aliases onto the canonical backend names.
func NormalizeBackend(b string) string {
	switch strings.ToLower(strings.TrimSpace(b)) {
	case "postgres", "postgresql", "pg":
		return BackendPostgres
	case "", "sqlite", "sqlite3":
		return BackendSQLite
	default:
		return b
	}
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("invalid backend %q (want sqlite or postgresql)", c.Backend)
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path must not be empty")
	}
	if c.Search.FTSWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Hook.LedgerSize <= 0 {
		return fmt.Errorf("hook.ledger_size must be positive")
	}
	if c.Hook.MaxExcerpts <= 0 {
		return fmt.Errorf("hook.max_excerpts must be positive")
	}
	if c.Hook.ExcerptChars < 0 {
		return fmt.Errorf("hook.excerpt_chars must not be negative")
	}
	return nil
}

// DSN builds a Postgres connection string. It fails with ErrNoPassword when
// neither a password nor an explicit connection string is configured.
func (p PostgresConfig) DSN() (string, error) {
	if p.ConnectionString != "" {
		return p.ConnectionString, nil
	}
	if p.Password == "" {
		return "", ErrNoPassword
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Database,
	}
	if p.ConnectTimeoutSeconds > 0 {
		u.RawQuery = "connect_timeout=" + strconv.Itoa(p.ConnectTimeoutSeconds)
	}
	return u.String(), nil
}

// ConnectTimeout bounds backend construction.
func (p PostgresConfig) ConnectTimeout() time.Duration {
	if p.ConnectTimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(p.ConnectTimeoutSeconds) * time.Second
}

// Timeout is the per-request embedding timeout.
func (e EmbeddingsConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// WriteDefault renders Default() as YAML to path. An existing file is kept
// unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	header := []byte("# afterimage configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Postgres.Password != "" {
		out.Postgres.Password = "****"
	}
	if out.Postgres.ConnectionString != "" {
		out.Postgres.ConnectionString = "****"
	}
	if out.Embeddings.APIKey != "" {
		out.Embeddings.APIKey = "****"
	}
	return &out
}

// YAML renders c for display.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
