// Package model defines the core code-memory data types.
package model

import "time"

// MemoryEntry is a stored recollection of code the agent wrote.
type MemoryEntry struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	OldCode   string    `json:"old_code,omitempty"`
	NewCode   string    `json:"new_code"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the entry carries a vector.
func (e MemoryEntry) HasEmbedding() bool {
	return len(e.Embedding) > 0
}

// SearchResult is a ranked projection of a MemoryEntry. It is derived per
// query and never persisted.
type SearchResult struct {
	ID             string    `json:"id"`
	FilePath       string    `json:"file_path"`
	OldCode        string    `json:"old_code,omitempty"`
	NewCode        string    `json:"new_code"`
	Context        string    `json:"context,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session_id,omitempty"`
	FTSScore       float64   `json:"fts_score"`
	SemanticScore  float64   `json:"semantic_score"`
	RelevanceScore float64   `json:"relevance_score"`
}

// ResultFromEntry projects an entry into a zero-scored result.
func ResultFromEntry(e MemoryEntry) SearchResult {
	return SearchResult{
		ID:        e.ID,
		FilePath:  e.FilePath,
		OldCode:   e.OldCode,
		NewCode:   e.NewCode,
		Context:   e.Context,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
	}
}
