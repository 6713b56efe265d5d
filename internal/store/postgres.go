package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/rcliao/afterimage/internal/model"
)

// PostgresStore implements Backend on PostgreSQL with the pgvector extension.
// Lexical search uses a generated tsvector column; similarity is computed by
// the caller over ScanEmbeddings so both backends rank identically.
type PostgresStore struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore creates a connection pool for connString. No connection
// is made until Initialize.
func NewPostgresStore(ctx context.Context, connString string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, unavailableErr("parse postgres config", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailableErr("create connection pool", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Kind() Kind { return KindPostgres }

func (s *PostgresStore) Initialize(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailableErr("ping postgres", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS code_memory (
			id          TEXT PRIMARY KEY,
			file_path   TEXT NOT NULL,
			old_code    TEXT,
			new_code    TEXT NOT NULL,
			context     TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			session_id  TEXT,
			embedding   vector,
			tsv         tsvector GENERATED ALWAYS AS (
				to_tsvector('english',
					coalesce(file_path, '') || ' ' || new_code || ' ' || coalesce(context, ''))
			) STORED,
			UNIQUE (file_path, created_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_code_memory_file_path ON code_memory (file_path)`,
		`CREATE INDEX IF NOT EXISTS idx_code_memory_created ON code_memory (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_code_memory_session ON code_memory (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_code_memory_tsv ON code_memory USING GIN (tsv)`,
		`CREATE TABLE IF NOT EXISTS churn_edits (
			id         BIGSERIAL PRIMARY KEY,
			file_path  TEXT NOT NULL,
			symbol     TEXT NOT NULL DEFAULT '',
			edited_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_churn_edits_lookup ON churn_edits (file_path, symbol, edited_at)`,
		`CREATE TABLE IF NOT EXISTS churn_files (
			file_path  TEXT PRIMARY KEY,
			edit_count INTEGER NOT NULL DEFAULT 0,
			first_edit TIMESTAMPTZ NOT NULL,
			last_edit  TIMESTAMPTZ NOT NULL,
			tier       TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return unavailableErr("init schema", err)
		}
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, p StoreParams) (string, error) {
	if p.FilePath == "" {
		return "", fmt.Errorf("store: file path is required")
	}
	if p.NewCode == "" {
		return "", fmt.Errorf("store: new code is required")
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = pgTime(ts)
	id := ulid.Make().String()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO code_memory (id, file_path, old_code, new_code, context, created_at, session_id, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, p.FilePath, pgText(p.OldCode), p.NewCode, pgText(p.Context), ts, pgText(p.SessionID), pgVector(p.Embedding))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("store %s at %s: %w", p.FilePath, ts.Format(time.RFC3339Nano), ErrDuplicateKey)
		}
		return "", ioErr("insert memory", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgEntryColumns+` FROM code_memory WHERE id = $1`, id)
	e, err := scanPgEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("get memory", err)
	}
	return &e, nil
}

func (s *PostgresStore) SearchLexical(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	limit = normLimit(limit)

	var rows pgx.Rows
	var err error
	if query == MatchAll {
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgEntryColumns+`, 0.0::float8 FROM code_memory ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		// ts_rank grows with relevance; negate it so lower is better like bm25.
		rows, err = s.pool.Query(ctx, `
			SELECT `+pgEntryColumns+`, -ts_rank(tsv, q)::float8 AS rank
			FROM code_memory, websearch_to_tsquery('english', $1) q
			WHERE tsv @@ q
			ORDER BY rank
			LIMIT $2`, query, limit)
	}
	if err != nil {
		return nil, pgLexicalErr(err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		e, err := scanPgEntry(rows, &h.Rank)
		if err != nil {
			return nil, ioErr("scan lexical hit", err)
		}
		h.Entry = e
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, pgLexicalErr(err)
	}
	return hits, nil
}

func (s *PostgresStore) ScanEmbeddings(ctx context.Context, fn func(model.MemoryEntry) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEntryColumns+` FROM code_memory WHERE embedding IS NOT NULL ORDER BY created_at DESC`)
	if err != nil {
		return ioErr("scan embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return ioErr("scan embeddings", err)
		}
		if !e.HasEmbedding() {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return ioErr("scan embeddings", err)
	}
	return nil
}

func (s *PostgresStore) SearchByPath(ctx context.Context, pattern string, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "search by path",
		`SELECT `+pgEntryColumns+` FROM code_memory
		 WHERE strpos(file_path, $1) > 0
		 ORDER BY created_at DESC LIMIT $2`, pattern, normLimit(limit))
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "recent",
		`SELECT `+pgEntryColumns+` FROM code_memory ORDER BY created_at DESC LIMIT $1`, normLimit(limit))
}

func (s *PostgresStore) BySession(ctx context.Context, sessionID string) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "by session",
		`SELECT `+pgEntryColumns+` FROM code_memory WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
}

func (s *PostgresStore) MissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "missing embeddings",
		`SELECT `+pgEntryColumns+` FROM code_memory WHERE embedding IS NULL ORDER BY created_at DESC LIMIT $1`,
		normLimit(limit))
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE code_memory SET embedding = $1 WHERE id = $2`, pgVector(vec), id)
	if err != nil {
		return false, ioErr("update embedding", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM code_memory WHERE id = $1`, id)
	if err != nil {
		return false, ioErr("delete memory", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, ioErr("clear", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM code_memory`)
	if err != nil {
		return 0, ioErr("clear", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM churn_edits`); err != nil {
		return 0, ioErr("clear", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM churn_files`); err != nil {
		return 0, ioErr("clear", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, ioErr("clear", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: KindPostgres}
	var oldest, newest *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(embedding),
		       COUNT(DISTINCT file_path),
		       COUNT(DISTINCT session_id),
		       MIN(created_at),
		       MAX(created_at),
		       pg_total_relation_size('code_memory')
		FROM code_memory`).Scan(
		&st.TotalEntries, &st.EntriesWithEmbeddings, &st.UniqueFiles, &st.UniqueSessions,
		&oldest, &newest, &st.SizeBytes)
	if err != nil {
		return nil, ioErr("stats", err)
	}
	if oldest != nil {
		t := oldest.UTC()
		st.OldestEntry = &t
	}
	if newest != nil {
		t := newest.UTC()
		st.NewestEntry = &t
	}
	return st, nil
}

func (s *PostgresStore) Export(ctx context.Context) ([]model.MemoryEntry, error) {
	entries, err := s.queryEntries(ctx, "export",
		`SELECT `+pgEntryColumns+` FROM code_memory ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	return entries, nil
}

func (s *PostgresStore) AppendEdit(ctx context.Context, filePath string, symbols []string, at time.Time) error {
	at = pgTime(at)
	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO churn_edits (file_path, symbol, edited_at) VALUES ($1, '', $2)`, filePath, at)
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		batch.Queue(`INSERT INTO churn_edits (file_path, symbol, edited_at) VALUES ($1, $2, $3)`, filePath, sym, at)
	}
	batch.Queue(`DELETE FROM churn_edits WHERE edited_at < $1`, at.Add(-HistoryHorizon))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ioErr("append edit", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return ioErr("append edit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ioErr("append edit", err)
	}
	return nil
}

func (s *PostgresStore) EditTimes(ctx context.Context, filePath, symbol string, since time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT edited_at FROM churn_edits
		WHERE file_path = $1 AND symbol = $2 AND edited_at >= $3
		ORDER BY edited_at ASC`, filePath, symbol, pgTime(since))
	if err != nil {
		return nil, ioErr("edit times", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, ioErr("edit times", err)
		}
		times = append(times, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("edit times", err)
	}
	return times, nil
}

func (s *PostgresStore) GetChurn(ctx context.Context, filePath string) (*model.ChurnRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT file_path, edit_count, first_edit, last_edit, tier
		FROM churn_files WHERE file_path = $1`, filePath)
	rec, err := scanPgChurn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("get churn", err)
	}
	return &rec, nil
}

func (s *PostgresStore) PutChurn(ctx context.Context, rec model.ChurnRecord) error {
	if err := checkTier(rec); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO churn_files (file_path, edit_count, first_edit, last_edit, tier)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_path) DO UPDATE SET
			edit_count = EXCLUDED.edit_count,
			first_edit = EXCLUDED.first_edit,
			last_edit  = EXCLUDED.last_edit,
			tier       = EXCLUDED.tier`,
		rec.FilePath, rec.EditCount, pgTime(rec.FirstEdit), pgTime(rec.LastEdit), string(rec.Tier))
	if err != nil {
		return ioErr("put churn", err)
	}
	return nil
}

func (s *PostgresStore) ListChurn(ctx context.Context, limit int) ([]model.ChurnRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_path, edit_count, first_edit, last_edit, tier
		FROM churn_files ORDER BY last_edit DESC LIMIT $1`, normLimit(limit))
	if err != nil {
		return nil, ioErr("list churn", err)
	}
	defer rows.Close()

	var recs []model.ChurnRecord
	for rows.Next() {
		rec, err := scanPgChurn(rows)
		if err != nil {
			return nil, ioErr("list churn", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list churn", err)
	}
	return recs, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]model.MemoryEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ioErr(op, err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, ioErr(op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(op, err)
	}
	return entries, nil
}

// The vector column is read in its text form and parsed by pgvector, so the
// pool needs no custom type registration.
const pgEntryColumns = "id, file_path, old_code, new_code, context, created_at, session_id, embedding::text"

func scanPgEntry(row pgx.Row, extra ...interface{}) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var oldCode, context, sessionID, embedding *string

	dest := []interface{}{
		&e.ID, &e.FilePath, &oldCode, &e.NewCode, &context, &e.Timestamp, &sessionID, &embedding,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return e, err
	}

	e.OldCode = deref(oldCode)
	e.Context = deref(context)
	e.SessionID = deref(sessionID)
	e.Timestamp = e.Timestamp.UTC()
	if embedding != nil {
		var v pgvector.Vector
		if err := v.Scan(*embedding); err != nil {
			return e, fmt.Errorf("parse embedding: %w", err)
		}
		e.Embedding = v.Slice()
	}
	return e, nil
}

func scanPgChurn(row pgx.Row) (model.ChurnRecord, error) {
	var rec model.ChurnRecord
	var tier string
	if err := row.Scan(&rec.FilePath, &rec.EditCount, &rec.FirstEdit, &rec.LastEdit, &tier); err != nil {
		return rec, err
	}
	rec.FirstEdit = rec.FirstEdit.UTC()
	rec.LastEdit = rec.LastEdit.UTC()
	rec.Tier = model.Tier(tier)
	return rec, nil
}

// pgTime truncates to the microsecond precision of TIMESTAMPTZ so stored and
// compared values round-trip exactly.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func pgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgVector(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pgLexicalErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "42") {
		return fmt.Errorf("search lexical: %w: %w", ErrQuerySyntax, err)
	}
	return ioErr("search lexical", err)
}
