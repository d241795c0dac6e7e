package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/waqasraza123/deep-research-agent/internal/store"
)

//go:embed schema.sql
var schema string

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"runs", "messages"} {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found", table)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) SaveRun(ctx context.Context, run store.Run) error {
	urls, err := json.Marshal(nonNil(run.URLs))
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return err
	}
	now := p.now().UTC()
	createdAt, err := parseTimestamp(run.CreatedAt, now)
	if err != nil {
		return err
	}
	updatedAt, err := parseTimestamp(run.UpdatedAt, now)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO runs (
			id,
			question,
			urls,
			max_sources,
			max_links_per_source,
			follow_links,
			status,
			summary,
			error,
			warnings,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			urls = EXCLUDED.urls,
			max_sources = EXCLUDED.max_sources,
			max_links_per_source = EXCLUDED.max_links_per_source,
			follow_links = EXCLUDED.follow_links,
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error,
			warnings = EXCLUDED.warnings,
			updated_at = EXCLUDED.updated_at
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.Question,
		urls,
		run.Limits.MaxSources,
		run.Limits.MaxLinksPerSource,
		run.Limits.FollowLinks,
		run.Status,
		run.Summary,
		run.Error,
		warnings,
		createdAt,
		updatedAt,
	)
	return err
}

const selectRuns = `SELECT id, question, urls, max_sources, max_links_per_source, follow_links, status, summary, error, warnings, created_at, updated_at FROM runs`

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	row := p.db.QueryRowContext(ctx, selectRuns+" WHERE id = $1", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	rows, err := p.db.QueryContext(ctx, selectRuns+" ORDER BY created_at DESC, id ASC")
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (p *PostgresStore) AppendMessages(ctx context.Context, runID string, messages []store.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialise appends per run so sequences stay dense.
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", runID); err != nil {
		return err
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE run_id = $1", runID).Scan(&seq); err != nil {
		return err
	}
	now := p.now().UTC()
	for _, msg := range messages {
		seq++
		createdAt, err := parseTimestamp(msg.CreatedAt, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (run_id, sequence, role, content, created_at) VALUES ($1, $2, $3, $4, $5)",
			runID, seq, msg.Role, msg.Content, createdAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) ListMessages(ctx context.Context, runID string) ([]store.Message, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT run_id, sequence, role, content, created_at FROM messages WHERE run_id = $1 ORDER BY sequence ASC",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := []store.Message{}
	for rows.Next() {
		var (
			msg       store.Message
			createdAt time.Time
		)
		if err := rows.Scan(&msg.RunID, &msg.Sequence, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (store.Run, error) {
	var (
		run       store.Run
		urls      []byte
		warnings  []byte
		createdAt time.Time
		updatedAt time.Time
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
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.Run{}, err
	}
	if err := json.Unmarshal(urls, &run.URLs); err != nil {
		return store.Run{}, fmt.Errorf("decode urls: %w", err)
	}
	if err := json.Unmarshal(warnings, &run.Warnings); err != nil {
		return store.Run{}, fmt.Errorf("decode warnings: %w", err)
	}
	run.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	run.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return run, nil
}

func parseTimestamp(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
