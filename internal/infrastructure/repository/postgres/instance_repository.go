package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

var instanceColumns = []string{
	"id", "name", "base_url", "api_token_encrypted", "default_ai_bot_id",
	"auto_process_enabled", "scan_cron_expression", "next_scan_at", "last_scan_at",
	"import_filter_tag_ids", "auto_apply_title", "auto_apply_correspondent",
	"auto_apply_document_type", "auto_apply_tags", "auto_apply_date",
	"created_at", "updated_at",
}

type InstanceRepository struct {
	db *sql.DB
}

func NewInstanceRepository(db *sql.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*domain.Instance, error) {
	query, args, err := psql.Select(instanceColumns...).From("instances").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get instance: %w", err)
	}

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get instance", fmt.Errorf("instance %s", id))
		}
		return nil, persistenceError("get instance", err)
	}
	return &instance, nil
}

func (r *InstanceRepository) ListAutoProcess(ctx context.Context) ([]domain.Instance, error) {
	query, args, err := psql.Select(instanceColumns...).
		From("instances").
		Where(sq.Eq{"auto_process_enabled": true}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list auto-process instances: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list auto-process instances", err)
	}
	defer rows.Close()

	out := make([]domain.Instance, 0)
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, persistenceError("scan instance", err)
		}
		out = append(out, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate instances", err)
	}
	return out, nil
}

func (r *InstanceRepository) UpdateAutomation(ctx context.Context, id string, update domain.AutomationUpdate, nextScanAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE instances
SET auto_process_enabled = $2,
	scan_cron_expression = $3,
	next_scan_at = $4,
	auto_apply_title = $5,
	auto_apply_correspondent = $6,
	auto_apply_document_type = $7,
	auto_apply_tags = $8,
	auto_apply_date = $9,
	updated_at = $10
WHERE id = $1
`, id, update.AutoProcessEnabled, update.ScanCronExpression, nextScanAt,
		update.AutoApply.Title, update.AutoApply.Correspondent, update.AutoApply.DocumentType,
		update.AutoApply.Tags, update.AutoApply.Date, time.Now().UTC())
	if err != nil {
		return persistenceError("update instance automation", err)
	}
	return expectOneRow(result, "update instance automation", id)
}

func (r *InstanceRepository) RecordScan(ctx context.Context, id string, lastScanAt time.Time, nextScanAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE instances
SET last_scan_at = $2, next_scan_at = $3, updated_at = $2
WHERE id = $1
`, id, lastScanAt, nextScanAt)
	if err != nil {
		return persistenceError("record instance scan", err)
	}
	return expectOneRow(result, "record instance scan", id)
}

func expectOneRow(result sql.Result, operation, id string) error {
	n, err := rowsAffected(result, operation)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

func scanInstance(row rowScanner) (domain.Instance, error) {
	var instance domain.Instance
	var filterRaw []byte
	err := row.Scan(
		&instance.ID,
		&instance.Name,
		&instance.BaseURL,
		&instance.EncryptedToken,
		&instance.DefaultAIBotID,
		&instance.AutoProcessEnabled,
		&instance.ScanCronExpression,
		&instance.NextScanAt,
		&instance.LastScanAt,
		&filterRaw,
		&instance.AutoApply.Title,
		&instance.AutoApply.Correspondent,
		&instance.AutoApply.DocumentType,
		&instance.AutoApply.Tags,
		&instance.AutoApply.Date,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return domain.Instance{}, err
	}
	if len(filterRaw) > 0 {
		if err := json.Unmarshal(filterRaw, &instance.ImportFilterTagIDs); err != nil {
			return domain.Instance{}, fmt.Errorf("unmarshal import filter: %w", err)
		}
	}
	return instance, nil
}
