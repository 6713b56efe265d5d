package model

import "time"

// Tier is a churn-based stability classification of a file.
type Tier string

const (
	TierGold   Tier = "gold"
	TierSilver Tier = "silver"
	TierBronze Tier = "bronze"
	TierRed    Tier = "red"
)

// ValidTiers are the allowed tier values.
var ValidTiers = map[Tier]bool{
	TierGold:   true,
	TierSilver: true,
	TierBronze: true,
	TierRed:    true,
}

// ChurnRecord is the per-file edit aggregate.
type ChurnRecord struct {
	FilePath    string      `json:"file_path"`
	EditCount   int         `json:"edit_count"`
	FirstEdit   time.Time   `json:"first_edit"`
	LastEdit    time.Time   `json:"last_edit"`
	RecentEdits []time.Time `json:"recent_edits,omitempty"`
	Tier        Tier        `json:"tier"`
}
