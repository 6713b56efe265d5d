// Package store provides the code-memory storage interface and its SQLite
// and PostgreSQL implementations.
package store

import (
	"context"
	"time"

	"github.com/rcliao/afterimage/internal/model"
)

// Kind names a backend variant. Callers use it for logging only.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgresql"
)

// MatchAll is the catch-all lexical query. Backends answer it with the most
// recent entries at rank 0.
const MatchAll = "*"

// StoreParams holds parameters for storing a memory entry.
type StoreParams struct {
	FilePath  string
	NewCode   string
	OldCode   string
	Context   string
	SessionID string
	Embedding []float32
	Timestamp time.Time // zero means now
}

// LexicalHit is a lexical match with its raw rank. Lower Rank is better.
type LexicalHit struct {
	Entry model.MemoryEntry
	Rank  float64
}

// Stats holds store statistics.
type Stats struct {
	Backend               Kind       `json:"backend"`
	TotalEntries          int        `json:"total_entries"`
	EntriesWithEmbeddings int        `json:"entries_with_embeddings"`
	UniqueFiles           int        `json:"unique_files"`
	UniqueSessions        int        `json:"unique_sessions"`
	OldestEntry           *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry           *time.Time `json:"newest_entry,omitempty"`
	SizeBytes             int64      `json:"db_size_bytes"`
}

// MemoryStore persists memory entries and answers the search primitives.
type MemoryStore interface {
	// Store persists a new entry and returns its ID.
	Store(ctx context.Context, p StoreParams) (string, error)

	// Get returns the entry with the given ID, or nil if absent.
	Get(ctx context.Context, id string) (*model.MemoryEntry, error)

	// SearchLexical runs a keyword/phrase query ranked by BM25 or equivalent.
	SearchLexical(ctx context.Context, query string, limit int) ([]LexicalHit, error)

	// ScanEmbeddings streams every entry that has an embedding through fn.
	// Returning an error from fn stops the scan and is returned as is.
	ScanEmbeddings(ctx context.Context, fn func(model.MemoryEntry) error) error

	// SearchByPath returns entries whose file path contains pattern, newest first.
	SearchByPath(ctx context.Context, pattern string, limit int) ([]model.MemoryEntry, error)

	// Recent returns the newest entries.
	Recent(ctx context.Context, limit int) ([]model.MemoryEntry, error)

	// BySession returns a session's entries, oldest first.
	BySession(ctx context.Context, sessionID string) ([]model.MemoryEntry, error)

	// MissingEmbeddings returns entries stored without a vector, newest first.
	MissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryEntry, error)

	UpdateEmbedding(ctx context.Context, id string, vec []float32) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)

	// Clear removes every entry and all churn history. Returns the number of
	// memory entries removed.
	Clear(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*Stats, error)

	// Export returns all entries oldest first, without embeddings.
	Export(ctx context.Context) ([]model.MemoryEntry, error)
}

// ChurnStore persists edit history for the churn tracker.
type ChurnStore interface {
	// AppendEdit records a file-level edit event plus one event per symbol.
	AppendEdit(ctx context.Context, filePath string, symbols []string, at time.Time) error

	// EditTimes returns event times for filePath and symbol at or after since,
	// oldest first. An empty symbol selects file-level events.
	EditTimes(ctx context.Context, filePath, symbol string, since time.Time) ([]time.Time, error)

	// GetChurn returns the stored aggregate, or nil if the file has none.
	GetChurn(ctx context.Context, filePath string) (*model.ChurnRecord, error)
	PutChurn(ctx context.Context, rec model.ChurnRecord) error

	// ListChurn returns aggregates, most recently edited first.
	ListChurn(ctx context.Context, limit int) ([]model.ChurnRecord, error)
}

// Backend is the full storage capability. Both variants implement it
// identically.
type Backend interface {
	MemoryStore
	ChurnStore

	Kind() Kind

	// Initialize creates schema and indexes if absent. It is idempotent.
	Initialize(ctx context.Context) error

	// Close releases held connections. Safe to call more than once.
	Close() error
}

// HistoryHorizon bounds how long per-event churn history is kept.
const HistoryHorizon = 30 * 24 * time.Hour

const defaultLimit = 10

func normLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
