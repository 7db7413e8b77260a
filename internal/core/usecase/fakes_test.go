package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }

type queueRepoFake struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
	order []string

	claimErr error
}

func newQueueRepoFake(items ...domain.QueueItem) *queueRepoFake {
	f := &queueRepoFake{items: make(map[string]*domain.QueueItem)}
	for i := range items {
		item := items[i]
		f.items[item.ID] = &item
		f.order = append(f.order, item.ID)
	}
	return f
}

func (f *queueRepoFake) get(id string) domain.QueueItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *queueRepoFake) Insert(_ context.Context, item *domain.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.items {
		if existing.InstanceID == item.InstanceID && existing.RemoteDocumentID == item.RemoteDocumentID && existing.Status.Active() {
			return domain.WrapError(domain.ErrConflict, "insert queue item", errors.New("duplicate"))
		}
	}
	copyItem := *item
	f.items[item.ID] = &copyItem
	f.order = append(f.order, item.ID)
	return nil
}

func (f *queueRepoFake) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get queue item", fmt.Errorf("queue item %s", id))
	}
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) FindActive(_ context.Context, instanceID string, remoteDocumentID int) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.InstanceID == instanceID && item.RemoteDocumentID == remoteDocumentID && item.Status.Active() {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (f *queueRepoFake) KnownRemoteDocuments(_ context.Context, instanceID string, ids []int) (map[int]domain.QueueStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]domain.QueueStatus)
	for _, id := range ids {
		for _, item := range f.items {
			if item.InstanceID == instanceID && item.RemoteDocumentID == id {
				out[id] = item.Status
			}
		}
	}
	return out, nil
}

func resetItem(item *domain.QueueItem, now time.Time) {
	item.Status = domain.QueueStatusPending
	item.Attempts = 0
	item.LastError = nil
	item.ScheduledFor = now
	item.StartedAt = nil
	item.CompletedAt = nil
	item.UpdatedAt = now
}

func (f *queueRepoFake) ResetFailed(_ context.Context, id string, now time.Time) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != domain.QueueStatusFailed {
		return nil, domain.WrapError(domain.ErrInvalidState, "reset queue item", errors.New("not failed"))
	}
	if f.hasActiveLocked(item.InstanceID, item.RemoteDocumentID) {
		return nil, domain.WrapError(domain.ErrConflict, "reset queue item", errors.New("duplicate"))
	}
	resetItem(item, now)
	copyItem := *item
	return &copyItem, nil
}

func (f *queueRepoFake) ResetAllFailed(_ context.Context, instanceID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	// Newest first, so only the latest failed item of a document is reset.
	for i := len(f.order) - 1; i >= 0; i-- {
		item, ok := f.items[f.order[i]]
		if !ok || item.InstanceID != instanceID || item.Status != domain.QueueStatusFailed {
			continue
		}
		if f.hasActiveLocked(item.InstanceID, item.RemoteDocumentID) {
			continue
		}
		resetItem(item, now)
		n++
	}
	return n, nil
}

func (f *queueRepoFake) hasActiveLocked(instanceID string, remoteDocumentID int) bool {
	for _, item := range f.items {
		if item.InstanceID == instanceID && item.RemoteDocumentID == remoteDocumentID && item.Status.Active() {
			return true
		}
	}
	return false
}

func (f *queueRepoFake) DeleteIdle(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status == domain.QueueStatusProcessing {
		return domain.WrapError(domain.ErrInvalidState, "delete queue item", errors.New("processing or gone"))
	}
	delete(f.items, id)
	return nil
}

func (f *queueRepoFake) DeleteCompleted(_ context.Context, instanceID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, item := range f.items {
		if item.InstanceID == instanceID && item.Status == domain.QueueStatusCompleted {
			delete(f.items, id)
			n++
		}
	}
	return n, nil
}

func (f *queueRepoFake) List(_ context.Context, filter domain.QueueFilter) ([]domain.QueueItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.QueueItem
	for _, id := range f.order {
		item, ok := f.items[id]
		if !ok || item.InstanceID != filter.InstanceID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		matched = append(matched, *item)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (f *queueRepoFake) Stats(_ context.Context, instanceID string) (domain.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats domain.QueueStats
	for _, item := range f.items {
		if item.InstanceID == instanceID {
			stats.Add(item.Status, 1)
		}
	}
	return stats, nil
}

func (f *queueRepoFake) ClaimNext(_ context.Context, now time.Time) (*domain.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	var best *domain.QueueItem
	for _, id := range f.order {
		item, ok := f.items[id]
		if !ok || item.Status != domain.QueueStatusPending || item.ScheduledFor.After(now) {
			continue
		}
		if best == nil ||
			item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.ScheduledFor.Before(best.ScheduledFor)) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = domain.QueueStatusProcessing
	best.StartedAt = timePtr(now)
	best.Attempts++
	best.UpdatedAt = now
	copyItem := *best
	return &copyItem, nil
}

func (f *queueRepoFake) SetLocalDocument(_ context.Context, id, localDocumentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "set local document", errors.New(id))
	}
	item.LocalDocumentID = &localDocumentID
	return nil
}

func (f *queueRepoFake) transition(id string, apply func(*domain.QueueItem)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != domain.QueueStatusProcessing {
		return domain.WrapError(domain.ErrInvalidState, "finish queue item", errors.New("not processing"))
	}
	apply(item)
	return nil
}

func (f *queueRepoFake) MarkCompleted(_ context.Context, id string, now time.Time) error {
	return f.transition(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusCompleted
		item.CompletedAt = timePtr(now)
		item.LastError = nil
		item.UpdatedAt = now
	})
}

func (f *queueRepoFake) MarkFailed(_ context.Context, id, lastError string, now time.Time) error {
	return f.transition(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusFailed
		item.LastError = strPtr(lastError)
		item.UpdatedAt = now
	})
}

func (f *queueRepoFake) Reschedule(_ context.Context, id, lastError string, scheduledFor, now time.Time) error {
	return f.transition(id, func(item *domain.QueueItem) {
		item.Status = domain.QueueStatusPending
		item.LastError = strPtr(lastError)
		item.ScheduledFor = scheduledFor
		item.StartedAt = nil
		item.UpdatedAt = now
	})
}

func (f *queueRepoFake) ReclaimStale(_ context.Context, startedBefore, now time.Time, lastError string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.Status != domain.QueueStatusProcessing || item.StartedAt == nil || !item.StartedAt.Before(startedBefore) {
			continue
		}
		if item.Attempts >= item.MaxAttempts {
			item.Status = domain.QueueStatusFailed
		} else {
			item.Status = domain.QueueStatusPending
			item.ScheduledFor = now
			item.StartedAt = nil
		}
		item.LastError = strPtr(lastError)
		item.UpdatedAt = now
		n++
	}
	return n, nil
}

type recordedScan struct {
	lastScanAt time.Time
	nextScanAt *time.Time
}

type instanceRepoFake struct {
	mu        sync.Mutex
	instances map[string]domain.Instance
	scans     []recordedScan
	updates   []domain.AutomationUpdate
}

func newInstanceRepoFake(instances ...domain.Instance) *instanceRepoFake {
	f := &instanceRepoFake{instances: make(map[string]domain.Instance)}
	for _, instance := range instances {
		f.instances[instance.ID] = instance
	}
	return f
}

func (f *instanceRepoFake) GetByID(_ context.Context, id string) (*domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get instance", fmt.Errorf("instance %s", id))
	}
	return &instance, nil
}

func (f *instanceRepoFake) ListAutoProcess(context.Context) ([]domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Instance
	for _, instance := range f.instances {
		if instance.AutoProcessEnabled {
			out = append(out, instance)
		}
	}
	return out, nil
}

func (f *instanceRepoFake) UpdateAutomation(_ context.Context, id string, update domain.AutomationUpdate, nextScanAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update automation", errors.New(id))
	}
	instance.AutoProcessEnabled = update.AutoProcessEnabled
	instance.ScanCronExpression = update.ScanCronExpression
	instance.AutoApply = update.AutoApply
	instance.NextScanAt = nextScanAt
	f.instances[id] = instance
	f.updates = append(f.updates, update)
	return nil
}

func (f *instanceRepoFake) RecordScan(_ context.Context, id string, lastScanAt time.Time, nextScanAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "record scan", errors.New(id))
	}
	instance.LastScanAt = &lastScanAt
	instance.NextScanAt = nextScanAt
	f.instances[id] = instance
	f.scans = append(f.scans, recordedScan{lastScanAt: lastScanAt, nextScanAt: nextScanAt})
	return nil
}

type botRepoFake struct {
	bots map[string]domain.AIBot
}

func (f *botRepoFake) GetByID(_ context.Context, id string) (*domain.AIBot, error) {
	bot, ok := f.bots[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get bot", fmt.Errorf("bot %s", id))
	}
	return &bot, nil
}

type mirrorUpdateCall struct {
	id     string
	update domain.MirrorUpdate
}

type mirrorFake struct {
	mu       sync.Mutex
	docs     map[string]domain.LocalDocument
	nextID   int
	updates  []mirrorUpdateCall
	applyErr error
}

func newMirrorFake(docs ...domain.LocalDocument) *mirrorFake {
	f := &mirrorFake{docs: make(map[string]domain.LocalDocument)}
	for _, doc := range docs {
		f.docs[doc.ID] = doc
	}
	return f
}

func (f *mirrorFake) GetByID(_ context.Context, id string) (*domain.LocalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	return &doc, nil
}

func (f *mirrorFake) GetByRemoteID(_ context.Context, instanceID string, remoteDocumentID int) (*domain.LocalDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.InstanceID == instanceID && doc.RemoteDocumentID == remoteDocumentID {
			copyDoc := doc
			return &copyDoc, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get document", errors.New("remote"))
}

func (f *mirrorFake) Upsert(_ context.Context, doc *domain.LocalDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.docs {
		if existing.InstanceID == doc.InstanceID && existing.RemoteDocumentID == doc.RemoteDocumentID {
			updated := *doc
			updated.ID = id
			f.docs[id] = updated
			return id, nil
		}
	}
	f.nextID++
	id := fmt.Sprintf("local-%d", f.nextID)
	stored := *doc
	stored.ID = id
	f.docs[id] = stored
	return id, nil
}

func (f *mirrorFake) ApplyUpdate(_ context.Context, id string, update domain.MirrorUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.updates = append(f.updates, mirrorUpdateCall{id: id, update: update})
	return nil
}

type auditFake struct {
	mu     sync.Mutex
	audits []domain.ProcessingAudit
	usage  []domain.UsageMetric
}

func (f *auditFake) CreateAudit(_ context.Context, audit domain.ProcessingAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, audit)
	return nil
}

func (f *auditFake) LatestAudit(_ context.Context, documentID string) (*domain.ProcessingAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.audits) - 1; i >= 0; i-- {
		if f.audits[i].DocumentID == documentID {
			audit := f.audits[i]
			return &audit, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "latest audit", errors.New(documentID))
}

func (f *auditFake) RecordUsage(_ context.Context, metric domain.UsageMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, metric)
	return nil
}

type updateCall struct {
	id    int
	patch domain.RemoteDocumentPatch
}

type storeFake struct {
	mu sync.Mutex

	docs           map[int]domain.RemoteDocument
	pages          [][]domain.RemoteDocument
	tags           []domain.StoreEntity
	correspondents []domain.StoreEntity
	documentTypes  []domain.StoreEntity
	original       []byte
	originalType   string

	nextCreatedID int
	created       []string
	updates       []updateCall
	listCalls     map[string]int

	createTagErr error
	updateErr    error
}

func newStoreFake() *storeFake {
	return &storeFake{
		docs:          make(map[int]domain.RemoteDocument),
		nextCreatedID: 15,
		listCalls:     make(map[string]int),
	}
}

func (f *storeFake) GetDocument(_ context.Context, id int) (*domain.RemoteDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get remote document", fmt.Errorf("document %d", id))
	}
	return &doc, nil
}

func (f *storeFake) ListDocuments(_ context.Context, query domain.RemoteDocumentQuery) (domain.RemoteDocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := query.Page - 1
	if idx < 0 || idx >= len(f.pages) {
		return domain.RemoteDocumentPage{}, nil
	}
	return domain.RemoteDocumentPage{Documents: f.pages[idx], HasNext: idx+1 < len(f.pages)}, nil
}

func (f *storeFake) UpdateDocument(_ context.Context, id int, patch domain.RemoteDocumentPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updateCall{id: id, patch: patch})
	return nil
}

func (f *storeFake) DownloadOriginal(context.Context, int) ([]byte, string, error) {
	if f.original == nil {
		return nil, "", domain.WrapError(domain.ErrNotFound, "download original", errors.New("missing"))
	}
	return f.original, f.originalType, nil
}

func (f *storeFake) list(kind string, entities []domain.StoreEntity) []domain.StoreEntity {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[kind]++
	return entities
}

func (f *storeFake) ListTags(context.Context) ([]domain.StoreEntity, error) {
	return f.list("tags", f.tags), nil
}

func (f *storeFake) ListCorrespondents(context.Context) ([]domain.StoreEntity, error) {
	return f.list("correspondents", f.correspondents), nil
}

func (f *storeFake) ListDocumentTypes(context.Context) ([]domain.StoreEntity, error) {
	return f.list("document_types", f.documentTypes), nil
}

func (f *storeFake) create(kind, name string) domain.StoreEntity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextCreatedID
	f.nextCreatedID++
	f.created = append(f.created, kind+":"+name)
	return domain.StoreEntity{ID: id, Name: name}
}

func (f *storeFake) CreateTag(_ context.Context, name string) (domain.StoreEntity, error) {
	if f.createTagErr != nil {
		return domain.StoreEntity{}, f.createTagErr
	}
	return f.create("tag", name), nil
}

func (f *storeFake) CreateCorrespondent(_ context.Context, name string) (domain.StoreEntity, error) {
	return f.create("correspondent", name), nil
}

func (f *storeFake) CreateDocumentType(_ context.Context, name string) (domain.StoreEntity, error) {
	return f.create("document_type", name), nil
}

func (f *storeFake) Health(context.Context) error { return nil }

type storeFactoryFake struct {
	store *storeFake
	err   error
}

func (f *storeFactoryFake) ForInstance(context.Context, domain.Instance) (ports.DocumentStore, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.store, nil
}

type secretsFake struct{}

func (secretsFake) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }

func (secretsFake) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("bad ciphertext")
	}
	return strings.TrimPrefix(ciphertext, "enc:"), nil
}

// modelFake replays scripted responses; the last one repeats.
type modelFake struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (f *modelFake) Chat(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.ChatResponse{}, f.err
	}
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

type modelFactoryFake struct {
	model  *modelFake
	apiKey string
	err    error
}

func (f *modelFactoryFake) NewChatModel(_ domain.AIProvider, apiKey string) (ports.ChatModel, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.apiKey = apiKey
	return f.model, nil
}

type publisherFake struct {
	mu      sync.Mutex
	wakeups []string
	changes []string
	err     error
}

func (f *publisherFake) PublishQueueWakeup(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeups = append(f.wakeups, instanceID)
	return f.err
}

func (f *publisherFake) PublishInstanceChanged(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, instanceID)
	return f.err
}

type schedulerFake struct {
	scheduled   map[string]time.Time
	unscheduled []string
}

func newSchedulerFake() *schedulerFake {
	return &schedulerFake{scheduled: make(map[string]time.Time)}
}

func (f *schedulerFake) ScheduleInstance(instanceID, _, _ string, nextScanAt time.Time) error {
	f.scheduled[instanceID] = nextScanAt
	return nil
}

func (f *schedulerFake) UnscheduleInstance(instanceID string) {
	delete(f.scheduled, instanceID)
	f.unscheduled = append(f.unscheduled, instanceID)
}

type costFake struct{ cost float64 }

func (f costFake) Estimate(string, domain.TokenUsage) *float64 {
	cost := f.cost
	return &cost
}

type extractorFake struct {
	text string
	err  error
}

func (f extractorFake) Extract(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

// hourlyNextScan mimics "0 * * * *".
func hourlyNextScan(expression string, from time.Time) (time.Time, error) {
	if strings.TrimSpace(expression) == "bogus" {
		return time.Time{}, errors.New("parse cron expression")
	}
	return from.Truncate(time.Hour).Add(time.Hour), nil
}

func validAnalysisJSON() string {
	return `{"suggestedTitle":"Invoice ACME 2026-10","suggestedCorrespondent":{"id":3,"name":"ACME"},` +
		`"suggestedDocumentType":{"name":"Invoice"},"suggestedTags":[{"id":1,"name":"Existing"},{"name":"NewTag"}],` +
		`"confidence":0.92,"reasoning":"Letterhead and totals","suggestedDate":"2026-10-01"}`
}

func toolCall(id, name, query string) domain.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": query})
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}
