package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

// AuditRepository stores processing results and usage metrics. Both are
// append-only.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) CreateAudit(ctx context.Context, audit domain.ProcessingAudit) error {
	changesJSON, err := json.Marshal(audit.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	toolCalls := audit.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCallRecord{}
	}
	toolCallsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return fmt.Errorf("marshal audit tool calls: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO processing_results (id, document_id, ai_provider, tokens_used, changes, tool_calls, original_title, processed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, audit.ID, audit.DocumentID, audit.AIProvider, audit.TokensUsed, changesJSON, toolCallsJSON, audit.OriginalTitle, audit.ProcessedAt)
	if err != nil {
		return persistenceError("insert processing result", err)
	}
	return nil
}

func (r *AuditRepository) LatestAudit(ctx context.Context, documentID string) (*domain.ProcessingAudit, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, ai_provider, tokens_used, changes, tool_calls, original_title, processed_at
FROM processing_results
WHERE document_id = $1
ORDER BY processed_at DESC
LIMIT 1
`, documentID)

	var audit domain.ProcessingAudit
	var changesRaw, toolCallsRaw []byte
	err := row.Scan(&audit.ID, &audit.DocumentID, &audit.AIProvider, &audit.TokensUsed,
		&changesRaw, &toolCallsRaw, &audit.OriginalTitle, &audit.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest processing result", fmt.Errorf("no analysis for document %s", documentID))
		}
		return nil, persistenceError("latest processing result", err)
	}
	if err := json.Unmarshal(changesRaw, &audit.Changes); err != nil {
		return nil, fmt.Errorf("unmarshal audit changes: %w", err)
	}
	if len(toolCallsRaw) > 0 {
		if err := json.Unmarshal(toolCallsRaw, &audit.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal audit tool calls: %w", err)
		}
	}
	return &audit, nil
}

func (r *AuditRepository) RecordUsage(ctx context.Context, metric domain.UsageMetric) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO usage_metrics (
	id, provider, model, prompt_tokens, completion_tokens, total_tokens, remote_document_id, user_id, provider_id, bot_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, metric.ID, metric.Provider, metric.Model, metric.PromptTokens, metric.CompletionTokens, metric.TotalTokens,
		metric.RemoteDocumentID, metric.UserID, metric.ProviderID, metric.BotID, metric.CreatedAt)
	if err != nil {
		return persistenceError("insert usage metric", err)
	}
	return nil
}
