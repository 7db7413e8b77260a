package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

// SuggestionApplier writes enabled suggestion fields back to the document
// store in one update and mirrors the locally stored subset.
type SuggestionApplier struct {
	mirror ports.DocumentMirror
	logger *slog.Logger
}

func NewSuggestionApplier(mirror ports.DocumentMirror, logger *slog.Logger) *SuggestionApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SuggestionApplier{mirror: mirror, logger: logger}
}

// Apply walks the fields in domain.ApplyFieldOrder. Entities without an id
// are created; nothing is rolled back when a later call fails.
func (a *SuggestionApplier) Apply(
	ctx context.Context,
	store ports.DocumentStore,
	remoteDocumentID int,
	localDocumentID string,
	result domain.AnalysisResult,
	settings domain.AutoApplySettings,
) domain.ApplyOutcome {
	applied := make([]string, 0, len(domain.ApplyFieldOrder))
	fail := func(field string, err error) domain.ApplyOutcome {
		a.logger.Warn("suggestion_apply_failed",
			"remote_document_id", remoteDocumentID,
			"field", field,
			"applied_fields", applied,
			"error", err,
		)
		return domain.ApplyOutcome{AppliedFields: applied, Success: false, Error: err.Error()}
	}

	var (
		patch  domain.RemoteDocumentPatch
		update domain.MirrorUpdate
	)

	if settings.Title {
		if title := strings.TrimSpace(result.SuggestedTitle); title != "" {
			patch.Title = &title
			update.Title = &title
			applied = append(applied, domain.FieldTitle)
		}
	}

	if settings.Correspondent && !result.SuggestedCorrespondent.Empty() {
		id, err := resolveEntity(ctx, result.SuggestedCorrespondent, store.CreateCorrespondent)
		if err != nil {
			return fail(domain.FieldCorrespondent, fmt.Errorf("resolve correspondent: %w", err))
		}
		patch.Correspondent = &id
		update.CorrespondentID = &id
		applied = append(applied, domain.FieldCorrespondent)
	}

	if settings.DocumentType && !result.SuggestedDocumentType.Empty() {
		id, err := resolveEntity(ctx, result.SuggestedDocumentType, store.CreateDocumentType)
		if err != nil {
			return fail(domain.FieldDocumentType, fmt.Errorf("resolve document type: %w", err))
		}
		patch.DocumentType = &id
		applied = append(applied, domain.FieldDocumentType)
	}

	if settings.Tags && len(result.SuggestedTags) > 0 {
		ids := make([]int, 0, len(result.SuggestedTags))
		for _, tag := range result.SuggestedTags {
			if tag.Empty() {
				continue
			}
			id, err := resolveEntity(ctx, tag, store.CreateTag)
			if err != nil {
				return fail(domain.FieldTags, fmt.Errorf("resolve tag %q: %w", tag.Name, err))
			}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			patch.Tags = ids
			update.TagIDs = ids
			applied = append(applied, domain.FieldTags)
		}
	}

	if settings.Date && result.SuggestedDate != nil {
		if raw := strings.TrimSpace(*result.SuggestedDate); raw != "" {
			date, err := domain.ParseDocumentDate(raw)
			if err != nil {
				return fail(domain.FieldDate, domain.WrapError(domain.ErrInvalidInput, "parse suggested date", err))
			}
			patch.Created = &raw
			update.DocumentDate = &date
			applied = append(applied, domain.FieldDate)
		}
	}

	if patch.Empty() {
		return domain.ApplyOutcome{AppliedFields: applied, Success: true}
	}

	if err := store.UpdateDocument(ctx, remoteDocumentID, patch); err != nil {
		return fail("update", fmt.Errorf("update remote document: %w", err))
	}
	if !update.Empty() && localDocumentID != "" {
		if err := a.mirror.ApplyUpdate(ctx, localDocumentID, update); err != nil {
			return fail("mirror", fmt.Errorf("update local document: %w", err))
		}
	}

	a.logger.Info("suggestions_applied", "remote_document_id", remoteDocumentID, "applied_fields", applied)
	return domain.ApplyOutcome{AppliedFields: applied, Success: true}
}

func resolveEntity(ctx context.Context, entity domain.SuggestedEntity, create func(context.Context, string) (domain.StoreEntity, error)) (int, error) {
	if entity.Existing() {
		return *entity.ID, nil
	}
	created, err := create(ctx, strings.TrimSpace(entity.Name))
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

// ApplySuggestionUseCase applies fields of the latest stored analysis on
// request, optionally overriding the suggested value.
type ApplySuggestionUseCase struct {
	mirror    ports.DocumentMirror
	instances ports.InstanceRepository
	audits    ports.AuditStore
	stores    ports.DocumentStoreFactory
	applier   *SuggestionApplier
}

func NewApplySuggestionUseCase(
	mirror ports.DocumentMirror,
	instances ports.InstanceRepository,
	audits ports.AuditStore,
	stores ports.DocumentStoreFactory,
	applier *SuggestionApplier,
) *ApplySuggestionUseCase {
	return &ApplySuggestionUseCase{
		mirror:    mirror,
		instances: instances,
		audits:    audits,
		stores:    stores,
		applier:   applier,
	}
}

func (uc *ApplySuggestionUseCase) ApplyStored(ctx context.Context, documentID, field string, value json.RawMessage) (domain.ApplyOutcome, error) {
	settings, ok := domain.OnlyField(field)
	if !ok {
		return domain.ApplyOutcome{}, domain.WrapError(domain.ErrInvalidInput, "apply suggestion", fmt.Errorf("unknown field %q", field))
	}

	doc, err := uc.mirror.GetByID(ctx, documentID)
	if err != nil {
		return domain.ApplyOutcome{}, fmt.Errorf("load document: %w", err)
	}
	audit, err := uc.audits.LatestAudit(ctx, doc.ID)
	if err != nil {
		return domain.ApplyOutcome{}, fmt.Errorf("load latest analysis: %w", err)
	}

	result := audit.Changes
	if hasValue(value) {
		if err := overrideField(&result, field, value); err != nil {
			return domain.ApplyOutcome{}, err
		}
	}

	instance, err := uc.instances.GetByID(ctx, doc.InstanceID)
	if err != nil {
		return domain.ApplyOutcome{}, fmt.Errorf("load instance: %w", err)
	}
	store, err := uc.stores.ForInstance(ctx, *instance)
	if err != nil {
		return domain.ApplyOutcome{}, fmt.Errorf("document store client: %w", err)
	}

	return uc.applier.Apply(ctx, store, doc.RemoteDocumentID, doc.ID, result, settings), nil
}

func hasValue(value json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(value))
	return trimmed != "" && trimmed != "null"
}

func overrideField(result *domain.AnalysisResult, field string, value json.RawMessage) error {
	var err error
	switch field {
	case domain.FieldTitle:
		err = json.Unmarshal(value, &result.SuggestedTitle)
	case domain.FieldCorrespondent:
		err = json.Unmarshal(value, &result.SuggestedCorrespondent)
	case domain.FieldDocumentType:
		err = json.Unmarshal(value, &result.SuggestedDocumentType)
	case domain.FieldTags:
		err = json.Unmarshal(value, &result.SuggestedTags)
	case domain.FieldDate:
		var date string
		if err = json.Unmarshal(value, &date); err == nil {
			result.SuggestedDate = &date
		}
	default:
		return domain.WrapError(domain.ErrInvalidInput, "apply suggestion", errors.New("value is only accepted for a single field"))
	}
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "apply suggestion", fmt.Errorf("decode %s value: %w", field, err))
	}
	return nil
}
