package domain

import (
	"strings"
	"time"
)

const DocumentDateLayout = "2006-01-02"

// LocalDocument is the mirrored subset of a remote document.
type LocalDocument struct {
	ID               string
	InstanceID       string
	RemoteDocumentID int
	Title            string
	Content          string
	CorrespondentID  *int
	DocumentTypeID   *int
	TagIDs           []int
	DocumentDate     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MirrorUpdate carries the locally mirrored fields the applier may change.
// Nil members are left untouched.
type MirrorUpdate struct {
	Title           *string
	CorrespondentID *int
	TagIDs          []int
	DocumentDate    *time.Time
}

func (u MirrorUpdate) Empty() bool {
	return u.Title == nil && u.CorrespondentID == nil && u.TagIDs == nil && u.DocumentDate == nil
}

type RemoteDocument struct {
	ID            int
	Title         string
	Content       string
	Correspondent *int
	DocumentType  *int
	Tags          []int
	Created       string
}

// RemoteDocumentPatch is sent in one update call. Nil members are omitted.
type RemoteDocumentPatch struct {
	Title         *string `json:"title,omitempty"`
	Correspondent *int    `json:"correspondent,omitempty"`
	DocumentType  *int    `json:"document_type,omitempty"`
	Tags          []int   `json:"tags,omitempty"`
	Created       *string `json:"created,omitempty"`
}

func (p RemoteDocumentPatch) Empty() bool {
	return p.Title == nil && p.Correspondent == nil && p.DocumentType == nil && p.Tags == nil && p.Created == nil
}

// StoreEntity is a tag, correspondent or document type in the document store.
type StoreEntity struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type RemoteDocumentQuery struct {
	TagIDs   []int
	Page     int
	PageSize int
}

type RemoteDocumentPage struct {
	Documents []RemoteDocument
	HasNext   bool
}

type ScanReport struct {
	InstanceID string
	Discovered int
	Enqueued   int
	Skipped    int
	NextScanAt *time.Time
}

// ParseDocumentDate accepts ISO dates and RFC 3339 timestamps.
func ParseDocumentDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(DocumentDateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
