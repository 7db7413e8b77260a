package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

const uniqueViolationCode = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ai_providers (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	model TEXT NOT NULL,
	api_key_encrypted TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ai_bots (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	system_prompt TEXT NOT NULL DEFAULT '',
	response_language TEXT,
	provider_id TEXT NOT NULL REFERENCES ai_providers(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS instances (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	api_token_encrypted TEXT NOT NULL DEFAULT '',
	default_ai_bot_id TEXT REFERENCES ai_bots(id) ON DELETE SET NULL,
	auto_process_enabled BOOLEAN NOT NULL DEFAULT false,
	scan_cron_expression TEXT NOT NULL DEFAULT '0 * * * *',
	next_scan_at TIMESTAMPTZ,
	last_scan_at TIMESTAMPTZ,
	import_filter_tag_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	auto_apply_title BOOLEAN NOT NULL DEFAULT false,
	auto_apply_correspondent BOOLEAN NOT NULL DEFAULT false,
	auto_apply_document_type BOOLEAN NOT NULL DEFAULT false,
	auto_apply_tags BOOLEAN NOT NULL DEFAULT false,
	auto_apply_date BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	remote_document_id INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	correspondent_id INTEGER,
	document_type_id INTEGER,
	tag_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	document_date DATE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (instance_id, remote_document_id)
);

CREATE TABLE IF NOT EXISTS queue_items (
	id TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
	remote_document_id INTEGER NOT NULL,
	local_document_id TEXT REFERENCES documents(id) ON DELETE SET NULL,
	ai_bot_id TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 10,
	scheduled_for TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_queue_items_active_document
	ON queue_items(instance_id, remote_document_id)
	WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_queue_items_claim ON queue_items(status, priority DESC, scheduled_for);
CREATE INDEX IF NOT EXISTS idx_queue_items_instance ON queue_items(instance_id, status);

CREATE TABLE IF NOT EXISTS processing_results (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ai_provider TEXT NOT NULL,
	tokens_used BIGINT NOT NULL,
	changes JSONB NOT NULL,
	tool_calls JSONB NOT NULL DEFAULT '[]'::jsonb,
	original_title TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_results_document ON processing_results(document_id, processed_at DESC);

CREATE TABLE IF NOT EXISTS usage_metrics (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt_tokens BIGINT NOT NULL,
	completion_tokens BIGINT NOT NULL,
	total_tokens BIGINT NOT NULL,
	remote_document_id INTEGER NOT NULL,
	user_id TEXT,
	provider_id TEXT NOT NULL,
	bot_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func persistenceError(operation string, err error) error {
	return domain.WrapError(domain.ErrPersistence, operation, err)
}

func rowsAffected(result sql.Result, operation string) (int, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, persistenceError(operation+" rows affected", err)
	}
	return int(n), nil
}
