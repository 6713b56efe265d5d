package store

import (
	"context"
	"database/sql"
	"os"
)

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: KindSQLite}

	// DB file size plus any un-checkpointed WAL.
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			st.SizeBytes += info.Size()
		}
	}

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(embedding),
		       COUNT(DISTINCT file_path),
		       COUNT(DISTINCT session_id),
		       MIN(created_at),
		       MAX(created_at)
		FROM code_memory`).Scan(
		&st.TotalEntries, &st.EntriesWithEmbeddings, &st.UniqueFiles, &st.UniqueSessions, &oldest, &newest)
	if err != nil {
		return nil, ioErr("stats", err)
	}
	if oldest.Valid {
		t := parseTime(oldest.String)
		st.OldestEntry = &t
	}
	if newest.Valid {
		t := parseTime(newest.String)
		st.NewestEntry = &t
	}
	return st, nil
}
