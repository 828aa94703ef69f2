package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"packbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fetches (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		set_name       TEXT NOT NULL,
		title          TEXT,
		channel        TEXT NOT NULL,
		chat_id        TEXT NOT NULL,
		requested_by   TEXT,
		total          INTEGER DEFAULT 0,
		fetched        INTEGER DEFAULT 0,
		skipped        INTEGER DEFAULT 0,
		archive_bytes  INTEGER DEFAULT 0,
		status         TEXT NOT NULL,
		error          TEXT,
		duration_ms    INTEGER DEFAULT 0,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fetches_time ON fetches(created_at);
	CREATE INDEX IF NOT EXISTS idx_fetches_set ON fetches(set_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) RecordFetch(ctx context.Context, f domain.Fetch) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fetches
		 (set_name, title, channel, chat_id, requested_by, total, fetched, skipped, archive_bytes, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SetName, f.Title, f.Channel, f.ChatID, f.RequestedBy,
		f.Total, f.Fetched, f.Skipped, f.ArchiveBytes,
		f.Status, f.Error, f.DurationMs, f.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("record fetch: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) RecentFetches(ctx context.Context, limit int) ([]domain.Fetch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, set_name, title, channel, chat_id, requested_by, total, fetched, skipped, archive_bytes, status, error, duration_ms, created_at
		 FROM fetches ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent fetches: %w", err)
	}
	defer rows.Close()

	var fetches []domain.Fetch
	for rows.Next() {
		var f domain.Fetch
		var errStr sql.NullString
		if err := rows.Scan(&f.ID, &f.SetName, &f.Title, &f.Channel, &f.ChatID, &f.RequestedBy,
			&f.Total, &f.Fetched, &f.Skipped, &f.ArchiveBytes,
			&f.Status, &errStr, &f.DurationMs, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Error = errStr.String
		fetches = append(fetches, f)
	}
	return fetches, rows.Err()
}

func (s *SQLiteStore) CountFetches(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetches`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fetches: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
