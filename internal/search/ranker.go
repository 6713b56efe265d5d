// Package search fuses lexical and semantic evidence over stored code into
// one ranked result list.
package search

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rcliao/afterimage/internal/embedding"
	"github.com/rcliao/afterimage/internal/model"
	"github.com/rcliao/afterimage/internal/store"
)

const (
	DefaultFTSWeight      = 0.4
	DefaultSemanticWeight = 0.6
	DefaultLimit          = 10

	// retryTerms caps the words used by the fallback OR query.
	retryTerms = 5
)

// Options controls a hybrid search.
type Options struct {
	Limit     int
	Threshold float64

	// PathFilter keeps only entries whose file path contains it.
	PathFilter string

	// IncludeLexicalOnly keeps any entry with lexical evidence even when its
	// fused relevance is below Threshold.
	IncludeLexicalOnly bool
}

// Ranker runs hybrid searches against a store.
type Ranker struct {
	store    store.MemoryStore
	embedder embedding.Embedder
	log      zerolog.Logger

	FTSWeight      float64
	SemanticWeight float64
}

// NewRanker creates a ranker with the default weights. A nil embedder
// disables the semantic half.
func NewRanker(s store.MemoryStore, e embedding.Embedder, log zerolog.Logger) *Ranker {
	return &Ranker{
		store:          s,
		embedder:       e,
		log:            log,
		FTSWeight:      DefaultFTSWeight,
		SemanticWeight: DefaultSemanticWeight,
	}
}

type candidate struct {
	entry    model.MemoryEntry
	fts      float64
	semantic float64
}

// Search returns at most opts.Limit results sorted by relevance. Lexical and
// embedding failures reduce the evidence available; only storage failures
// during the similarity scan are returned.
func (r *Ranker) Search(ctx context.Context, query string, opts Options) ([]model.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	candidates := make(map[string]*candidate)

	for _, h := range r.lexical(ctx, query, limit*2, opts.PathFilter) {
		candidates[h.entry.ID] = &candidate{entry: h.entry, fts: h.score}
	}

	semantic, err := r.semantic(ctx, query, limit*2, opts.PathFilter)
	if err != nil {
		return nil, err
	}
	for _, s := range semantic {
		if c, ok := candidates[s.entry.ID]; ok {
			c.semantic = s.score
			continue
		}
		candidates[s.entry.ID] = &candidate{entry: s.entry, semantic: s.score}
	}

	results := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		relevance := clamp01(r.FTSWeight*c.fts + r.SemanticWeight*c.semantic)
		if relevance < opts.Threshold && !(opts.IncludeLexicalOnly && c.fts > 0) {
			continue
		}
		res := model.ResultFromEntry(c.entry)
		res.FTSScore = c.fts
		res.SemanticScore = c.semantic
		res.RelevanceScore = relevance
		results = append(results, res)
	}

	sortResults(results, func(r model.SearchResult) float64 { return r.RelevanceScore })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchByCode finds stored code similar to code by embedding alone. It
// returns no results when the provider is unavailable.
func (r *Ranker) SearchByCode(ctx context.Context, code, filePath string, limit int, threshold float64) ([]model.SearchResult, error) {
	return r.SearchCode(ctx, code, filePath, Options{Limit: limit, Threshold: threshold})
}

// SearchCode is SearchByCode with a path filter. filePath only shapes the
// query embedding; opts.PathFilter restricts which stored entries match.
// IncludeLexicalOnly is ignored.
func (r *Ranker) SearchCode(ctx context.Context, code, filePath string, opts Options) ([]model.SearchResult, error) {
	limit, threshold := opts.Limit, opts.Threshold
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec, err := embedding.EmbedCode(ctx, r.embedder, code, filePath, "")
	if err != nil {
		r.log.Debug().Err(err).Msg("code embedding unavailable")
		return []model.SearchResult{}, nil
	}

	var results []model.SearchResult
	err = r.store.ScanEmbeddings(ctx, func(e model.MemoryEntry) error {
		if !matchesPath(e.FilePath, opts.PathFilter) {
			return nil
		}
		sim := clamp01(embedding.CosineSimilarity(vec, e.Embedding))
		if sim < threshold {
			return nil
		}
		res := model.ResultFromEntry(e)
		res.SemanticScore = sim
		res.RelevanceScore = sim
		results = append(results, res)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortResults(results, func(r model.SearchResult) float64 { return r.SemanticScore })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchByPath returns entries whose file path contains pattern, newest first.
func (r *Ranker) SearchByPath(ctx context.Context, pattern string, limit int) ([]model.SearchResult, error) {
	entries, err := r.store.SearchByPath(ctx, pattern, limit)
	if err != nil {
		return nil, err
	}
	results := make([]model.SearchResult, len(entries))
	for i, e := range entries {
		results[i] = model.ResultFromEntry(e)
	}
	return results, nil
}

type scored struct {
	entry model.MemoryEntry
	score float64
}

func (r *Ranker) lexical(ctx context.Context, query string, limit int, pathFilter string) []scored {
	q := Sanitize(query)
	hits, err := r.store.SearchLexical(ctx, q, limit)
	if err != nil {
		retry := OrQuery(query, retryTerms)
		r.log.Debug().Err(err).Str("retry", retry).Msg("lexical query failed, retrying")
		if retry == "" {
			return nil
		}
		hits, err = r.store.SearchLexical(ctx, retry, limit)
		if err != nil {
			r.log.Warn().Err(err).Msg("lexical search failed")
			return nil
		}
	}

	var maxAbs float64
	for _, h := range hits {
		maxAbs = math.Max(maxAbs, math.Abs(h.Rank))
	}

	out := make([]scored, 0, len(hits))
	for _, h := range hits {
		if !matchesPath(h.Entry.FilePath, pathFilter) {
			continue
		}
		score := 0.5
		if maxAbs > 0 {
			score = 1 - math.Abs(h.Rank)/(maxAbs+1)
		}
		out = append(out, scored{entry: h.Entry, score: clamp01(score)})
	}
	return out
}

func (r *Ranker) semantic(ctx context.Context, query string, limit int, pathFilter string) ([]scored, error) {
	vec, err := embedding.Embed(ctx, r.embedder, query)
	if err != nil {
		if r.embedder != nil {
			r.log.Debug().Err(err).Msg("query embedding unavailable")
		}
		return nil, nil
	}

	var out []scored
	err = r.store.ScanEmbeddings(ctx, func(e model.MemoryEntry) error {
		if !matchesPath(e.FilePath, pathFilter) {
			return nil
		}
		sim := clamp01(embedding.CosineSimilarity(vec, e.Embedding))
		e.Embedding = nil
		out = append(out, scored{entry: e, score: sim})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return newerFirst(out[i].entry, out[j].entry)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

// Sanitize turns free text into a query the lexical engines accept: anything
// other than letters, digits and underscores becomes a space and whitespace
// collapses. An empty result becomes
// the catch-all query.
func Sanitize(query string) string {
	q := strings.Join(strings.Fields(nonWord.ReplaceAllString(query, " ")), " ")
	if q == "" {
		return store.MatchAll
	}
	return q
}

// OrQuery builds `"t1" OR "t2" ...` from the first n whitespace-separated
// words of query.
func OrQuery(query string, n int) string {
	words := strings.Fields(query)
	if len(words) > n {
		words = words[:n]
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func matchesPath(filePath, filter string) bool {
	return filter == "" || strings.Contains(filePath, filter)
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func newerFirst(a, b model.MemoryEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}

// sortResults orders by score desc, then timestamp desc, then ID so equal
// inputs always produce the same order.
func sortResults(results []model.SearchResult, score func(model.SearchResult) float64) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := score(results[i]), score(results[j])
		if si != sj {
			return si > sj
		}
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.After(results[j].Timestamp)
		}
		return results[i].ID < results[j].ID
	})
}
