package ports

import (
	"context"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

// QueueRepository is the durable queue store. Status transitions that find
// the row in an unexpected state report domain.ErrInvalidState.
type QueueRepository interface {
	Insert(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	FindActive(ctx context.Context, instanceID string, remoteDocumentID int) (*domain.QueueItem, error)
	KnownRemoteDocuments(ctx context.Context, instanceID string, remoteDocumentIDs []int) (map[int]domain.QueueStatus, error)
	ResetFailed(ctx context.Context, id string, now time.Time) (*domain.QueueItem, error)
	ResetAllFailed(ctx context.Context, instanceID string, now time.Time) (int, error)
	DeleteIdle(ctx context.Context, id string) error
	DeleteCompleted(ctx context.Context, instanceID string) (int, error)
	List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, int, error)
	Stats(ctx context.Context, instanceID string) (domain.QueueStats, error)
	ClaimNext(ctx context.Context, now time.Time) (*domain.QueueItem, error)
	SetLocalDocument(ctx context.Context, id, localDocumentID string) error
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, lastError string, now time.Time) error
	Reschedule(ctx context.Context, id, lastError string, scheduledFor, now time.Time) error
	ReclaimStale(ctx context.Context, startedBefore, now time.Time, lastError string) (int, error)
}

// InstanceRepository reads document-store instance configuration.
type InstanceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Instance, error)
	ListAutoProcess(ctx context.Context) ([]domain.Instance, error)
	UpdateAutomation(ctx context.Context, id string, update domain.AutomationUpdate, nextScanAt *time.Time) error
	RecordScan(ctx context.Context, id string, lastScanAt time.Time, nextScanAt *time.Time) error
}

// BotRepository loads bots together with their provider configuration.
type BotRepository interface {
	GetByID(ctx context.Context, id string) (*domain.AIBot, error)
}

// DocumentMirror is the local read-mostly copy of remote documents.
type DocumentMirror interface {
	GetByID(ctx context.Context, id string) (*domain.LocalDocument, error)
	GetByRemoteID(ctx context.Context, instanceID string, remoteDocumentID int) (*domain.LocalDocument, error)
	Upsert(ctx context.Context, doc *domain.LocalDocument) (string, error)
	ApplyUpdate(ctx context.Context, id string, update domain.MirrorUpdate) error
}

// AuditStore keeps append-only processing results.
type AuditStore interface {
	CreateAudit(ctx context.Context, audit domain.ProcessingAudit) error
	LatestAudit(ctx context.Context, documentID string) (*domain.ProcessingAudit, error)
}

// UsageRecorder keeps append-only token accounting.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, metric domain.UsageMetric) error
}

// DocumentStore is a client bound to one document-store instance.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int) (*domain.RemoteDocument, error)
	ListDocuments(ctx context.Context, query domain.RemoteDocumentQuery) (domain.RemoteDocumentPage, error)
	UpdateDocument(ctx context.Context, id int, patch domain.RemoteDocumentPatch) error
	DownloadOriginal(ctx context.Context, id int) ([]byte, string, error)

	ListTags(ctx context.Context) ([]domain.StoreEntity, error)
	ListCorrespondents(ctx context.Context) ([]domain.StoreEntity, error)
	ListDocumentTypes(ctx context.Context) ([]domain.StoreEntity, error)
	CreateTag(ctx context.Context, name string) (domain.StoreEntity, error)
	CreateCorrespondent(ctx context.Context, name string) (domain.StoreEntity, error)
	CreateDocumentType(ctx context.Context, name string) (domain.StoreEntity, error)

	Health(ctx context.Context) error
}

// DocumentStoreFactory builds a client for an instance, decrypting its token.
type DocumentStoreFactory interface {
	ForInstance(ctx context.Context, instance domain.Instance) (DocumentStore, error)
}

// ChatModel runs one model turn with optional tool definitions.
type ChatModel interface {
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// ChatModelFactory resolves a provider kind to its implementation.
type ChatModelFactory interface {
	NewChatModel(provider domain.AIProvider, apiKey string) (ChatModel, error)
}

// SecretBox encrypts stored credentials.
type SecretBox interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher announces queue and instance changes to workers.
type EventPublisher interface {
	PublishQueueWakeup(ctx context.Context, instanceID string) error
	PublishInstanceChanged(ctx context.Context, instanceID string) error
}

// EventSubscriber consumes EventPublisher messages.
type EventSubscriber interface {
	SubscribeQueueWakeup(ctx context.Context, handler func(context.Context, string) error) error
	SubscribeInstanceChanged(ctx context.Context, handler func(context.Context, string) error) error
}

// ScanScheduler is the per-instance timer registry.
type ScanScheduler interface {
	ScheduleInstance(instanceID, name, cronExpression string, nextScanAt time.Time) error
	UnscheduleInstance(instanceID string)
}

// CostEstimator prices token usage for a model; nil means unknown.
type CostEstimator interface {
	Estimate(model string, usage domain.TokenUsage) *float64
}

// TextExtractor turns a downloaded original into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// QueueObserver receives worker and scan telemetry. Implementations must be
// safe for concurrent use.
type QueueObserver interface {
	ItemStarted()
	ItemFinished(outcome string, duration time.Duration)
	ClaimLag(lag time.Duration)
	TokensUsed(provider string, inputTokens, outputTokens int64)
	StaleReclaimed(n int)
	ScanFinished(enqueued int, err error)
}
