// Package sqlite is the default checkpoint store, kept in a single file next
// to the run directories.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/waqasraza123/deep-research-agent/internal/store"
)

//go:embed schema.sql
var schema string

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run store.Run) error {
	urls, err := json.Marshal(nonNil(run.URLs))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	createdAt := defaultString(run.CreatedAt, now)
	updatedAt := defaultString(run.UpdatedAt, now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, question, urls, max_sources, max_links_per_source, follow_links, status, summary, error, warnings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			urls = excluded.urls,
			max_sources = excluded.max_sources,
			max_links_per_source = excluded.max_links_per_source,
			follow_links = excluded.follow_links,
			status = excluded.status,
			summary = excluded.summary,
			error = excluded.error,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at
	`,
		run.ID,
		run.Question,
		string(urls),
		run.Limits.MaxSources,
		run.Limits.MaxLinksPerSource,
		run.Limits.FollowLinks,
		run.Status,
		run.Summary,
		run.Error,
		string(warnings),
		createdAt,
		updatedAt,
	)
	return err
}

const runColumns = `id, question, urls, max_sources, max_links_per_source, follow_links, status, summary, error, warnings, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, runID string, messages []store.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, msg := range messages {
		seq++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (run_id, sequence, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			runID, seq, msg.Role, msg.Content, defaultString(msg.CreatedAt, now),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, runID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, role, content, created_at FROM messages WHERE run_id = ? ORDER BY sequence ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := []store.Message{}
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.RunID, &msg.Sequence, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (store.Run, error) {
	var (
		run      store.Run
		urls     string
		warnings string
	)
	if err := row.Scan(
		&run.ID,
		&run.Question,
		&urls,
		&run.Limits.MaxSources,
		&run.Limits.MaxLinksPerSource,
		&run.Limits.FollowLinks,
		&run.Status,
		&run.Summary,
		&run.Error,
		&warnings,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return store.Run{}, err
	}
	if err := json.Unmarshal([]byte(urls), &run.URLs); err != nil {
		return store.Run{}, fmt.Errorf("decode urls: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return store.Run{}, fmt.Errorf("decode warnings: %w", err)
	}
	return run, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
