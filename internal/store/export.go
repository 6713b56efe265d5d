package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/afterimage/internal/model"
)

// ExportDocument is the JSON shape written by export and read by import.
type ExportDocument struct {
	ExportedAt time.Time           `json:"exported_at"`
	Count      int                 `json:"count"`
	Entries    []model.MemoryEntry `json:"entries"`
}

// ExportAll builds an export document from every entry, oldest first.
func ExportAll(ctx context.Context, s MemoryStore) (*ExportDocument, error) {
	entries, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	return &ExportDocument{
		ExportedAt: time.Now().UTC(),
		Count:      len(entries),
		Entries:    entries,
	}, nil
}

// Import stores entries from an export, keeping their original timestamps.
// Entries that already exist (same file path and timestamp) are skipped.
func Import(ctx context.Context, s MemoryStore, entries []model.MemoryEntry) (imported, skipped int, err error) {
	for _, e := range entries {
		if e.FilePath == "" || e.NewCode == "" {
			skipped++
			continue
		}
		_, err := s.Store(ctx, StoreParams{
			FilePath:  e.FilePath,
			NewCode:   e.NewCode,
			OldCode:   e.OldCode,
			Context:   e.Context,
			SessionID: e.SessionID,
			Embedding: e.Embedding,
			Timestamp: e.Timestamp,
		})
		if errors.Is(err, ErrDuplicateKey) {
			skipped++
			continue
		}
		if err != nil {
			return imported, skipped, err
		}
		imported++
	}
	return imported, skipped, nil
}
