package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rcliao/afterimage/internal/model"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Backend on a single SQLite file. Writers from
// several processes are serialized by the file lock; busy_timeout makes a
// blocked writer wait and retry instead of failing at once.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	mu        sync.Mutex
	entropy   *rand.Rand
	closeOnce sync.Once
	closeErr  error
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
// Call Initialize before use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, unavailableErr("create db dir", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, unavailableErr("open db", err)
	}

	return &SQLiteStore{
		db:      db,
		path:    dbPath,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (s *SQLiteStore) Kind() Kind { return KindSQLite }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailableErr("ping db", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS code_memory (
		id          TEXT PRIMARY KEY,
		file_path   TEXT NOT NULL,
		old_code    TEXT,
		new_code    TEXT NOT NULL,
		context     TEXT,
		created_at  TEXT NOT NULL,
		session_id  TEXT,
		embedding   BLOB,
		UNIQUE(file_path, created_at)
	);
	CREATE INDEX IF NOT EXISTS idx_code_memory_file_path ON code_memory(file_path);
	CREATE INDEX IF NOT EXISTS idx_code_memory_created ON code_memory(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_code_memory_session ON code_memory(session_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS code_memory_fts USING fts5(
		file_path,
		new_code,
		context,
		content=code_memory,
		content_rowid=rowid,
		tokenize='porter unicode61'
	);

	CREATE TABLE IF NOT EXISTS churn_edits (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path  TEXT NOT NULL,
		symbol     TEXT NOT NULL DEFAULT '',
		edited_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_churn_edits_lookup ON churn_edits(file_path, symbol, edited_at);

	CREATE TABLE IF NOT EXISTS churn_files (
		file_path  TEXT PRIMARY KEY,
		edit_count INTEGER NOT NULL DEFAULT 0,
		first_edit TEXT NOT NULL,
		last_edit  TEXT NOT NULL,
		tier       TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return unavailableErr("migrate", err)
	}

	// Keep the FTS index in the same statement as the primary row.
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS code_memory_ai AFTER INSERT ON code_memory BEGIN
			INSERT INTO code_memory_fts(rowid, file_path, new_code, context)
			VALUES (new.rowid, new.file_path, new.new_code, new.context);
		END`,
		`CREATE TRIGGER IF NOT EXISTS code_memory_ad AFTER DELETE ON code_memory BEGIN
			INSERT INTO code_memory_fts(code_memory_fts, rowid, file_path, new_code, context)
			VALUES ('delete', old.rowid, old.file_path, old.new_code, old.context);
		END`,
		`CREATE TRIGGER IF NOT EXISTS code_memory_au AFTER UPDATE ON code_memory BEGIN
			INSERT INTO code_memory_fts(code_memory_fts, rowid, file_path, new_code, context)
			VALUES ('delete', old.rowid, old.file_path, old.new_code, old.context);
			INSERT INTO code_memory_fts(rowid, file_path, new_code, context)
			VALUES (new.rowid, new.file_path, new.new_code, new.context);
		END`,
	}
	for _, stmt := range triggers {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailableErr("create trigger", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Store(ctx context.Context, p StoreParams) (string, error) {
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
	id := s.newID()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_memory (id, file_path, old_code, new_code, context, created_at, session_id, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.FilePath, nullString(p.OldCode), p.NewCode, nullString(p.Context),
		formatTime(ts), nullString(p.SessionID), EncodeVector(p.Embedding))
	if err != nil {
		if isSQLiteUnique(err) {
			return "", fmt.Errorf("store %s at %s: %w", p.FilePath, formatTime(ts), ErrDuplicateKey)
		}
		return "", ioErr("insert memory", err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns("")+` FROM code_memory WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("get memory", err)
	}
	return &e, nil
}

func (s *SQLiteStore) SearchLexical(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	limit = normLimit(limit)

	var rows *sql.Rows
	var err error
	if query == MatchAll {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+entryColumns("")+`, 0.0 FROM code_memory ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entryColumns("cm.")+`, bm25(code_memory_fts) AS rank
			FROM code_memory_fts
			JOIN code_memory cm ON cm.rowid = code_memory_fts.rowid
			WHERE code_memory_fts MATCH ?
			ORDER BY rank
			LIMIT ?`, query, limit)
	}
	if err != nil {
		return nil, lexicalErr(err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		e, err := scanEntry(rows, &h.Rank)
		if err != nil {
			return nil, ioErr("scan lexical hit", err)
		}
		h.Entry = e
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, lexicalErr(err)
	}
	return hits, nil
}

func (s *SQLiteStore) ScanEmbeddings(ctx context.Context, fn func(model.MemoryEntry) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns("")+` FROM code_memory WHERE embedding IS NOT NULL ORDER BY created_at DESC`)
	if err != nil {
		return ioErr("scan embeddings", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
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

func (s *SQLiteStore) SearchByPath(ctx context.Context, pattern string, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "search by path",
		`SELECT `+entryColumns("")+` FROM code_memory
		 WHERE instr(file_path, ?) > 0
		 ORDER BY created_at DESC LIMIT ?`, pattern, normLimit(limit))
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "recent",
		`SELECT `+entryColumns("")+` FROM code_memory ORDER BY created_at DESC LIMIT ?`, normLimit(limit))
}

func (s *SQLiteStore) BySession(ctx context.Context, sessionID string) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "by session",
		`SELECT `+entryColumns("")+` FROM code_memory WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
}

func (s *SQLiteStore) MissingEmbeddings(ctx context.Context, limit int) ([]model.MemoryEntry, error) {
	return s.queryEntries(ctx, "missing embeddings",
		`SELECT `+entryColumns("")+` FROM code_memory WHERE embedding IS NULL ORDER BY created_at DESC LIMIT ?`,
		normLimit(limit))
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE code_memory SET embedding = ? WHERE id = ?`, EncodeVector(vec), id)
	if err != nil {
		return false, ioErr("update embedding", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM code_memory WHERE id = ?`, id)
	if err != nil {
		return false, ioErr("delete memory", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioErr("clear", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_memory`).Scan(&count); err != nil {
		return 0, ioErr("clear", err)
	}
	for _, stmt := range []string{
		`DELETE FROM code_memory`,
		`DELETE FROM churn_edits`,
		`DELETE FROM churn_files`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, ioErr("clear", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, ioErr("clear", err)
	}
	return count, nil
}

func (s *SQLiteStore) Export(ctx context.Context) ([]model.MemoryEntry, error) {
	entries, err := s.queryEntries(ctx, "export",
		`SELECT `+entryColumns("")+` FROM code_memory ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Embedding = nil
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *SQLiteStore) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]model.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioErr(op, err)
	}
	defer rows.Close()

	var entries []model.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
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

func entryColumns(prefix string) string {
	cols := []string{"id", "file_path", "old_code", "new_code", "context", "created_at", "session_id", "embedding"}
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry reads the entryColumns projection plus any extra trailing columns.
func scanEntry(row scanner, extra ...interface{}) (model.MemoryEntry, error) {
	var e model.MemoryEntry
	var oldCode, context, sessionID sql.NullString
	var createdAt string
	var embedding []byte

	dest := []interface{}{
		&e.ID, &e.FilePath, &oldCode, &e.NewCode, &context, &createdAt, &sessionID, &embedding,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return e, err
	}

	e.OldCode = oldCode.String
	e.Context = context.String
	e.SessionID = sessionID.String
	e.Timestamp = parseTime(createdAt)
	e.Embedding = DecodeVector(embedding)
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// lexicalErr maps a failed MATCH to ErrQuerySyntax. FTS5 reports malformed
// queries with the generic SQLITE_ERROR code.
func lexicalErr(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_ERROR {
		return fmt.Errorf("search lexical: %w: %w", ErrQuerySyntax, err)
	}
	return ioErr("search lexical", err)
}
