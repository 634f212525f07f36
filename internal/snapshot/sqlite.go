package snapshot

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "crew/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// DefaultHistoryLimit bounds snapshot_history when Config.HistoryLimit is 0.
const DefaultHistoryLimit = 1000

// sqliteStore keeps the latest document in a single-row table and the task
// counts of recent writes in a bounded history table.
type sqliteStore struct {
	db           *sql.DB
	log          logx.Logger
	historyLimit int // <= 0 disables history
}

// HistoryRow is one entry of the sqlite snapshot history.
type HistoryRow struct {
	Seq       int64      `json:"seq"`
	WrittenAt string     `json:"writtenAt"`
	IsRunning bool       `json:"isRunning"`
	Tasks     TaskCounts `json:"tasks"`
}

// HistoryReader is implemented by stores that keep a write history.
type HistoryReader interface {
	History(ctx context.Context, limit int) ([]HistoryRow, error)
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	limit := cfg.HistoryLimit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	st := &sqliteStore{db: db, log: log, historyLimit: limit}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Write(ctx context.Context, doc Document) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot(id, written_at, is_running, body) VALUES(1,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET written_at=excluded.written_at, is_running=excluded.is_running, body=excluded.body`,
		doc.Timestamp, doc.IsRunning, string(b),
	); err != nil {
		return err
	}
	if s.historyLimit > 0 {
		t := doc.Tasks
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_history(written_at, is_running, pending, in_progress, completed, failed) VALUES(?,?,?,?,?,?)`,
			doc.Timestamp, doc.IsRunning, t.Pending, t.InProgress, t.Completed, t.Failed,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshot_history WHERE seq <= (SELECT MAX(seq) FROM snapshot_history) - ?`,
			s.historyLimit,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns up to limit history rows, newest first.
func (s *sqliteStore) History(ctx context.Context, limit int) ([]HistoryRow, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, written_at, is_running, pending, in_progress, completed, failed
		 FROM snapshot_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(&r.Seq, &r.WrittenAt, &r.IsRunning,
			&r.Tasks.Pending, &r.Tasks.InProgress, &r.Tasks.Completed, &r.Tasks.Failed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Read(ctx context.Context) (Document, error) {
	var doc Document
	if s == nil || s.db == nil {
		return doc, ErrDisabled
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, ErrNotFound
	}
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal([]byte(body), &doc)
	return doc, err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
