package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

var queueColumns = []string{
	"id", "instance_id", "remote_document_id", "local_document_id", "ai_bot_id",
	"priority", "scheduled_for", "status", "attempts", "max_attempts", "last_error",
	"created_at", "updated_at", "started_at", "completed_at",
}

var queueReturning = "RETURNING " + strings.Join(queueColumns, ", ")

type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Insert(ctx context.Context, item *domain.QueueItem) error {
	query, args, err := psql.Insert("queue_items").
		Columns(queueColumns...).
		Values(
			item.ID, item.InstanceID, item.RemoteDocumentID, item.LocalDocumentID, item.AIBotID,
			item.Priority, item.ScheduledFor, string(item.Status), item.Attempts, item.MaxAttempts, item.LastError,
			item.CreatedAt, item.UpdatedAt, item.StartedAt, item.CompletedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert queue item: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrConflict, "insert queue item",
				fmt.Errorf("document %d already in queue", item.RemoteDocumentID))
		}
		return persistenceError("insert queue item", err)
	}
	return nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	query, args, err := psql.Select(queueColumns...).
		From("queue_items").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get queue item: %w", err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get queue item", fmt.Errorf("queue item %s", id))
		}
		return nil, persistenceError("get queue item", err)
	}
	return &item, nil
}

// FindActive returns nil without error when the pair has no pending or processing item.
func (r *QueueRepository) FindActive(ctx context.Context, instanceID string, remoteDocumentID int) (*domain.QueueItem, error) {
	query, args, err := psql.Select(queueColumns...).
		From("queue_items").
		Where(sq.Eq{
			"instance_id":        instanceID,
			"remote_document_id": remoteDocumentID,
			"status":             []string{string(domain.QueueStatusPending), string(domain.QueueStatusProcessing)},
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find active queue item: %w", err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceError("find active queue item", err)
	}
	return &item, nil
}

// KnownRemoteDocuments reports the most recent queue status of each id that has any queue row.
func (r *QueueRepository) KnownRemoteDocuments(ctx context.Context, instanceID string, remoteDocumentIDs []int) (map[int]domain.QueueStatus, error) {
	out := make(map[int]domain.QueueStatus, len(remoteDocumentIDs))
	if len(remoteDocumentIDs) == 0 {
		return out, nil
	}

	query, args, err := psql.Select("remote_document_id", "status").
		From("queue_items").
		Where(sq.Eq{"instance_id": instanceID, "remote_document_id": remoteDocumentIDs}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known remote documents: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("known remote documents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var remoteID int
		var status string
		if err := rows.Scan(&remoteID, &status); err != nil {
			return nil, persistenceError("scan known remote document", err)
		}
		out[remoteID] = domain.QueueStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate known remote documents", err)
	}
	return out, nil
}

func (r *QueueRepository) ResetFailed(ctx context.Context, id string, now time.Time) (*domain.QueueItem, error) {
	query, args, err := resetFailedUpdate(now).
		Where(sq.Eq{"id": id, "status": string(domain.QueueStatusFailed)}).
		Suffix(queueReturning).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reset queue item: %w", err)
	}

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInvalidState, "reset queue item", fmt.Errorf("queue item %s is not failed", id))
		}
		if isUniqueViolation(err) {
			return nil, domain.WrapError(domain.ErrConflict, "reset queue item",
				fmt.Errorf("document of queue item %s already in queue", id))
		}
		return nil, persistenceError("reset queue item", err)
	}
	return &item, nil
}

// ResetAllFailed resets at most one failed item per document, the newest,
// and skips documents that already have a pending or processing item.
func (r *QueueRepository) ResetAllFailed(ctx context.Context, instanceID string, now time.Time) (int, error) {
	query, args, err := resetFailedUpdate(now).
		Where(sq.Eq{"instance_id": instanceID, "status": string(domain.QueueStatusFailed)}).
		Where(sq.Expr(`NOT EXISTS (SELECT 1 FROM queue_items a
			WHERE a.instance_id = queue_items.instance_id
			AND a.remote_document_id = queue_items.remote_document_id
			AND a.status IN (?, ?))`,
			string(domain.QueueStatusPending), string(domain.QueueStatusProcessing))).
		Where(sq.Expr(`id = (SELECT b.id FROM queue_items b
			WHERE b.instance_id = queue_items.instance_id
			AND b.remote_document_id = queue_items.remote_document_id
			AND b.status = ?
			ORDER BY b.created_at DESC, b.id DESC LIMIT 1)`,
			string(domain.QueueStatusFailed))).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build bulk reset queue items: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.WrapError(domain.ErrConflict, "bulk reset queue items",
				errors.New("a document was enqueued concurrently"))
		}
		return 0, persistenceError("bulk reset queue items", err)
	}
	return rowsAffected(result, "bulk reset queue items")
}

func resetFailedUpdate(now time.Time) sq.UpdateBuilder {
	return psql.Update("queue_items").
		Set("status", string(domain.QueueStatusPending)).
		Set("attempts", 0).
		Set("last_error", nil).
		Set("scheduled_for", now).
		Set("started_at", nil).
		Set("completed_at", nil).
		Set("updated_at", now)
}

func (r *QueueRepository) DeleteIdle(ctx context.Context, id string) error {
	query, args, err := psql.Delete("queue_items").
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": string(domain.QueueStatusProcessing)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete queue item: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistenceError("delete queue item", err)
	}
	n, err := rowsAffected(result, "delete queue item")
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapError(domain.ErrInvalidState, "delete queue item", fmt.Errorf("queue item %s is processing or gone", id))
	}
	return nil
}

func (r *QueueRepository) DeleteCompleted(ctx context.Context, instanceID string) (int, error) {
	query, args, err := psql.Delete("queue_items").
		Where(sq.Eq{"instance_id": instanceID, "status": string(domain.QueueStatusCompleted)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete completed queue items: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, persistenceError("delete completed queue items", err)
	}
	return rowsAffected(result, "delete completed queue items")
}

func (r *QueueRepository) List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, int, error) {
	where := sq.Eq{"instance_id": filter.InstanceID}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("queue_items").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count queue items: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, persistenceError("count queue items", err)
	}

	builder := psql.Select(queueColumns...).
		From("queue_items").
		Where(where).
		OrderBy("priority DESC", "created_at DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset()))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list queue items: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, persistenceError("list queue items", err)
	}
	defer rows.Close()

	out := make([]domain.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, 0, persistenceError("scan queue item", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, persistenceError("iterate queue items", err)
	}
	return out, total, nil
}

func (r *QueueRepository) Stats(ctx context.Context, instanceID string) (domain.QueueStats, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("queue_items").
		Where(sq.Eq{"instance_id": instanceID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("build queue stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.QueueStats{}, persistenceError("queue stats", err)
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.QueueStats{}, persistenceError("scan queue stats", err)
		}
		stats.Add(domain.QueueStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, persistenceError("iterate queue stats", err)
	}
	return stats, nil
}

// ClaimNext atomically moves the best eligible pending item to processing.
// It returns nil without error when nothing is eligible.
func (r *QueueRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE queue_items
SET status = 'processing', started_at = $1, attempts = attempts + 1, updated_at = $1
WHERE id = (
	SELECT id FROM queue_items
	WHERE status = 'pending' AND scheduled_for <= $1
	ORDER BY priority DESC, scheduled_for ASC, created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
`+queueReturning, now)

	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceError("claim queue item", err)
	}
	return &item, nil
}

func (r *QueueRepository) SetLocalDocument(ctx context.Context, id, localDocumentID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET local_document_id = $2, updated_at = $3
WHERE id = $1
`, id, localDocumentID, time.Now().UTC())
	if err != nil {
		return persistenceError("set queue local document", err)
	}
	n, err := rowsAffected(result, "set queue local document")
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, "set queue local document", fmt.Errorf("queue item %s", id))
	}
	return nil
}

func (r *QueueRepository) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return r.finish(ctx, "complete queue item", psql.Update("queue_items").
		Set("status", string(domain.QueueStatusCompleted)).
		Set("completed_at", now).
		Set("last_error", nil).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.QueueStatusProcessing)}))
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id, lastError string, now time.Time) error {
	return r.finish(ctx, "fail queue item", psql.Update("queue_items").
		Set("status", string(domain.QueueStatusFailed)).
		Set("last_error", lastError).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.QueueStatusProcessing)}))
}

func (r *QueueRepository) Reschedule(ctx context.Context, id, lastError string, scheduledFor, now time.Time) error {
	return r.finish(ctx, "reschedule queue item", psql.Update("queue_items").
		Set("status", string(domain.QueueStatusPending)).
		Set("last_error", lastError).
		Set("scheduled_for", scheduledFor).
		Set("started_at", nil).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(domain.QueueStatusProcessing)}))
}

// finish applies a transition out of processing; a lost claim is an invalid state.
func (r *QueueRepository) finish(ctx context.Context, operation string, builder sq.UpdateBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", operation, err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistenceError(operation, err)
	}
	n, err := rowsAffected(result, operation)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapError(domain.ErrInvalidState, operation, errors.New("queue item is no longer processing"))
	}
	return nil
}

// ReclaimStale returns items stuck in processing to pending, or to failed
// when their attempts are exhausted.
func (r *QueueRepository) ReclaimStale(ctx context.Context, startedBefore, now time.Time, lastError string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE queue_items
SET status = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
	started_at = CASE WHEN attempts >= max_attempts THEN started_at ELSE NULL END,
	scheduled_for = $2,
	last_error = $3,
	updated_at = $2
WHERE status = 'processing' AND started_at < $1
`, startedBefore, now, lastError)
	if err != nil {
		return 0, persistenceError("reclaim stale queue items", err)
	}
	return rowsAffected(result, "reclaim stale queue items")
}

func scanQueueItem(row rowScanner) (domain.QueueItem, error) {
	var item domain.QueueItem
	var status string
	err := row.Scan(
		&item.ID,
		&item.InstanceID,
		&item.RemoteDocumentID,
		&item.LocalDocumentID,
		&item.AIBotID,
		&item.Priority,
		&item.ScheduledFor,
		&status,
		&item.Attempts,
		&item.MaxAttempts,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.StartedAt,
		&item.CompletedAt,
	)
	if err != nil {
		return domain.QueueItem{}, err
	}
	item.Status = domain.QueueStatus(status)
	return item, nil
}
