package ports

import (
	"context"
	"encoding/json"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

// QueueService is the inbound contract for queue management.
type QueueService interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.QueueItem, error)
	Retry(ctx context.Context, instanceID, id string) (*domain.QueueItem, error)
	BulkRetry(ctx context.Context, instanceID string) (int, error)
	Delete(ctx context.Context, instanceID, id string) error
	BulkDeleteCompleted(ctx context.Context, instanceID string) (int, error)
	List(ctx context.Context, filter domain.QueueFilter) (*domain.QueuePage, error)
}

// DocumentAnalyzer runs the tool-calling analysis for a mirrored document.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, documentID, aiBotID, userID string) (*domain.AnalysisOutcome, error)
}

// StoredSuggestionApplier applies fields of the latest stored analysis.
type StoredSuggestionApplier interface {
	ApplyStored(ctx context.Context, documentID, field string, value json.RawMessage) (domain.ApplyOutcome, error)
}

// InstanceAutomation changes scan and auto-apply configuration.
type InstanceAutomation interface {
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
	UpdateAutomation(ctx context.Context, id string, update domain.AutomationUpdate) (*domain.Instance, error)
}

// DocumentScanner feeds the queue from one instance.
type DocumentScanner interface {
	ScanInstance(ctx context.Context, instanceID string) (domain.ScanReport, error)
}

// EntitySearch serves the read-only search tools.
type EntitySearch interface {
	Search(ctx context.Context, instanceID, tool, query string) ([]domain.StoreEntity, error)
}
