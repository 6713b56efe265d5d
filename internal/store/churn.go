package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/afterimage/internal/model"
)

func (s *SQLiteStore) AppendEdit(ctx context.Context, filePath string, symbols []string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr("append edit", err)
	}
	defer tx.Rollback()

	ts := formatTime(at)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO churn_edits (file_path, symbol, edited_at) VALUES (?, ?, ?)`)
	if err != nil {
		return ioErr("append edit", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, filePath, "", ts); err != nil {
		return ioErr("append edit", err)
	}
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, filePath, sym, ts); err != nil {
			return ioErr("append edit", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM churn_edits WHERE edited_at < ?`,
		formatTime(at.Add(-HistoryHorizon))); err != nil {
		return ioErr("prune edits", err)
	}

	if err := tx.Commit(); err != nil {
		return ioErr("append edit", err)
	}
	return nil
}

func (s *SQLiteStore) EditTimes(ctx context.Context, filePath, symbol string, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT edited_at FROM churn_edits
		WHERE file_path = ? AND symbol = ? AND edited_at >= ?
		ORDER BY edited_at ASC`, filePath, symbol, formatTime(since))
	if err != nil {
		return nil, ioErr("edit times", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, ioErr("edit times", err)
		}
		times = append(times, parseTime(ts))
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("edit times", err)
	}
	return times, nil
}

func (s *SQLiteStore) GetChurn(ctx context.Context, filePath string) (*model.ChurnRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, edit_count, first_edit, last_edit, tier
		FROM churn_files WHERE file_path = ?`, filePath)
	rec, err := scanChurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("get churn", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) PutChurn(ctx context.Context, rec model.ChurnRecord) error {
	if err := checkTier(rec); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO churn_files (file_path, edit_count, first_edit, last_edit, tier)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			edit_count = excluded.edit_count,
			first_edit = excluded.first_edit,
			last_edit  = excluded.last_edit,
			tier       = excluded.tier`,
		rec.FilePath, rec.EditCount, formatTime(rec.FirstEdit), formatTime(rec.LastEdit), string(rec.Tier))
	if err != nil {
		return ioErr("put churn", err)
	}
	return nil
}

func (s *SQLiteStore) ListChurn(ctx context.Context, limit int) ([]model.ChurnRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, edit_count, first_edit, last_edit, tier
		FROM churn_files ORDER BY last_edit DESC LIMIT ?`, normLimit(limit))
	if err != nil {
		return nil, ioErr("list churn", err)
	}
	defer rows.Close()

	var recs []model.ChurnRecord
	for rows.Next() {
		rec, err := scanChurn(rows)
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

func scanChurn(row scanner) (model.ChurnRecord, error) {
	var rec model.ChurnRecord
	var first, last, tier string
	if err := row.Scan(&rec.FilePath, &rec.EditCount, &first, &last, &tier); err != nil {
		return rec, err
	}
	rec.FirstEdit = parseTime(first)
	rec.LastEdit = parseTime(last)
	rec.Tier = model.Tier(tier)
	return rec, nil
}

func checkTier(rec model.ChurnRecord) error {
	if !model.ValidTiers[rec.Tier] {
		return fmt.Errorf("put churn %s: invalid tier %q", rec.FilePath, rec.Tier)
	}
	return nil
}
