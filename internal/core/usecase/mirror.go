package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

// documentMirrorer copies remote documents into the local mirror, falling
// back to text extraction when the store has no content.
type documentMirrorer struct {
	mirror    ports.DocumentMirror
	extractor ports.TextExtractor
	logger    *slog.Logger
}

func (m documentMirrorer) mirrorDocument(ctx context.Context, store ports.DocumentStore, instanceID string, remote domain.RemoteDocument) (string, error) {
	content := strings.TrimSpace(remote.Content)
	if content == "" && m.extractor != nil {
		content = m.extractOriginal(ctx, store, remote.ID)
	}

	doc := &domain.LocalDocument{
		InstanceID:       instanceID,
		RemoteDocumentID: remote.ID,
		Title:            remote.Title,
		Content:          content,
		CorrespondentID:  remote.Correspondent,
		DocumentTypeID:   remote.DocumentType,
		TagIDs:           remote.Tags,
	}
	if remote.Created != "" {
		if date, err := domain.ParseDocumentDate(remote.Created); err == nil {
			doc.DocumentDate = &date
		}
	}

	id, err := m.mirror.Upsert(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("upsert mirrored document %d: %w", remote.ID, err)
	}
	return id, nil
}

// extractOriginal returns "" when the original cannot be read; analysis
// then runs on the title alone.
func (m documentMirrorer) extractOriginal(ctx context.Context, store ports.DocumentStore, remoteID int) string {
	data, mimeType, err := store.DownloadOriginal(ctx, remoteID)
	if err != nil {
		m.logger.Warn("original_download_failed", "remote_document_id", remoteID, "error", err)
		return ""
	}
	text, err := m.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		m.logger.Warn("text_extraction_failed", "remote_document_id", remoteID, "mime_type", mimeType, "error", err)
		return ""
	}
	return text
}
