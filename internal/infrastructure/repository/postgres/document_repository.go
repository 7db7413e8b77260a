package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

var documentColumns = []string{
	"id", "instance_id", "remote_document_id", "title", "content", "correspondent_id",
	"document_type_id", "tag_ids", "document_date", "created_at", "updated_at",
}

// DocumentRepository is the local mirror of remote documents.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.LocalDocument, error) {
	return r.getOne(ctx, "get document", sq.Eq{"id": id}, id)
}

func (r *DocumentRepository) GetByRemoteID(ctx context.Context, instanceID string, remoteDocumentID int) (*domain.LocalDocument, error) {
	return r.getOne(ctx, "get document by remote id",
		sq.Eq{"instance_id": instanceID, "remote_document_id": remoteDocumentID},
		fmt.Sprintf("%s/%d", instanceID, remoteDocumentID))
}

func (r *DocumentRepository) getOne(ctx context.Context, operation string, where sq.Eq, ref string) (*domain.LocalDocument, error) {
	query, args, err := psql.Select(documentColumns...).From("documents").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", operation, err)
	}

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("document %s", ref))
		}
		return nil, persistenceError(operation, err)
	}
	return &doc, nil
}

// Upsert inserts or refreshes the mirror row keyed by instance and remote id
// and returns the local id.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *domain.LocalDocument) (string, error) {
	tagsJSON, err := json.Marshal(nonNilInts(doc.TagIDs))
	if err != nil {
		return "", fmt.Errorf("marshal tag ids: %w", err)
	}
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()

	var localID string
	err = r.db.QueryRowContext(ctx, `
INSERT INTO documents (
	id, instance_id, remote_document_id, title, content, correspondent_id, document_type_id, tag_ids, document_date, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (instance_id, remote_document_id) DO UPDATE
SET title = EXCLUDED.title,
	content = EXCLUDED.content,
	correspondent_id = EXCLUDED.correspondent_id,
	document_type_id = EXCLUDED.document_type_id,
	tag_ids = EXCLUDED.tag_ids,
	document_date = EXCLUDED.document_date,
	updated_at = EXCLUDED.updated_at
RETURNING id
`, id, doc.InstanceID, doc.RemoteDocumentID, doc.Title, doc.Content, doc.CorrespondentID,
		doc.DocumentTypeID, tagsJSON, doc.DocumentDate, now).Scan(&localID)
	if err != nil {
		return "", persistenceError("upsert document", err)
	}
	return localID, nil
}

// ApplyUpdate writes only the non-nil mirrored fields.
func (r *DocumentRepository) ApplyUpdate(ctx context.Context, id string, update domain.MirrorUpdate) error {
	if update.Empty() {
		return nil
	}

	builder := psql.Update("documents").Set("updated_at", r.now()).Where(sq.Eq{"id": id})
	if update.Title != nil {
		builder = builder.Set("title", *update.Title)
	}
	if update.CorrespondentID != nil {
		builder = builder.Set("correspondent_id", *update.CorrespondentID)
	}
	if update.TagIDs != nil {
		tagsJSON, err := json.Marshal(update.TagIDs)
		if err != nil {
			return fmt.Errorf("marshal tag ids: %w", err)
		}
		builder = builder.Set("tag_ids", tagsJSON)
	}
	if update.DocumentDate != nil {
		builder = builder.Set("document_date", *update.DocumentDate)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update document: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistenceError("update document", err)
	}
	n, err := rowsAffected(result, "update document")
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, "update document", fmt.Errorf("document %s", id))
	}
	return nil
}

func scanDocument(row rowScanner) (domain.LocalDocument, error) {
	var doc domain.LocalDocument
	var correspondentID, documentTypeID sql.NullInt64
	var tagsRaw []byte
	var documentDate sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.InstanceID, &doc.RemoteDocumentID, &doc.Title, &doc.Content,
		&correspondentID, &documentTypeID, &tagsRaw, &documentDate, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return domain.LocalDocument{}, err
	}
	doc.CorrespondentID = nullIntPtr(correspondentID)
	doc.DocumentTypeID = nullIntPtr(documentTypeID)
	if documentDate.Valid {
		d := documentDate.Time
		doc.DocumentDate = &d
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &doc.TagIDs); err != nil {
			return domain.LocalDocument{}, fmt.Errorf("unmarshal tag ids: %w", err)
		}
	}
	return doc, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nonNilInts(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}
