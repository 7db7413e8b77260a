package paperless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
)

const (
	entityPageSize          = 250
	defaultMaxDownloadBytes = 64 << 20
)

// Client talks to one paperless-style REST API with token auth.
type Client struct {
	baseURL          string
	host             string
	token            string
	httpClient       *http.Client
	executor         *resilience.Executor
	maxDownloadBytes int64
}

type Options struct {
	Timeout            time.Duration
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, token string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		timeout := options.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	host := baseURL
	if parsed, err := url.Parse(baseURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		host:             host,
		token:            token,
		httpClient:       httpClient,
		executor:         options.ResilienceExecutor,
		maxDownloadBytes: defaultMaxDownloadBytes,
	}
}

type documentDTO struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	Correspondent *int   `json:"correspondent"`
	DocumentType  *int   `json:"document_type"`
	Tags          []int  `json:"tags"`
	Created       string `json:"created"`
	CreatedDate   string `json:"created_date"`
}

func (d documentDTO) toDomain() domain.RemoteDocument {
	created := d.CreatedDate
	if created == "" {
		created = d.Created
	}
	return domain.RemoteDocument{
		ID:            d.ID,
		Title:         d.Title,
		Content:       d.Content,
		Correspondent: d.Correspondent,
		DocumentType:  d.DocumentType,
		Tags:          d.Tags,
		Created:       created,
	}
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

func (c *Client) GetDocument(ctx context.Context, id int) (*domain.RemoteDocument, error) {
	var dto documentDTO
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/", id), nil, &dto, "get_document"); err != nil {
		return nil, err
	}
	doc := dto.toDomain()
	return &doc, nil
}

func (c *Client) ListDocuments(ctx context.Context, query domain.RemoteDocumentQuery) (domain.RemoteDocumentPage, error) {
	params := url.Values{}
	pageNumber := max(query.Page, 1)
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	params.Set("page", strconv.Itoa(pageNumber))
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("ordering", "-added")
	if len(query.TagIDs) > 0 {
		ids := make([]string, 0, len(query.TagIDs))
		for _, id := range query.TagIDs {
			ids = append(ids, strconv.Itoa(id))
		}
		params.Set("tags__id__all", strings.Join(ids, ","))
	}

	var resp page[documentDTO]
	if err := c.doJSON(ctx, http.MethodGet, "/api/documents/?"+params.Encode(), nil, &resp, "list_documents"); err != nil {
		return domain.RemoteDocumentPage{}, err
	}

	out := domain.RemoteDocumentPage{
		Documents: make([]domain.RemoteDocument, 0, len(resp.Results)),
		HasNext:   resp.Next != nil && *resp.Next != "",
	}
	for _, dto := range resp.Results {
		out.Documents = append(out.Documents, dto.toDomain())
	}
	return out, nil
}

func (c *Client) UpdateDocument(ctx context.Context, id int, patch domain.RemoteDocumentPatch) error {
	if patch.Empty() {
		return nil
	}
	return c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", id), patch, nil, "update_document")
}

func (c *Client) DownloadOriginal(ctx context.Context, id int) ([]byte, string, error) {
	return c.download(ctx, fmt.Sprintf("/api/documents/%d/download/?original=true", id), "download_document")
}

func (c *Client) ListTags(ctx context.Context) ([]domain.StoreEntity, error) {
	return c.listEntities(ctx, "/api/tags/", "list_tags")
}

func (c *Client) ListCorrespondents(ctx context.Context) ([]domain.StoreEntity, error) {
	return c.listEntities(ctx, "/api/correspondents/", "list_correspondents")
}

func (c *Client) ListDocumentTypes(ctx context.Context) ([]domain.StoreEntity, error) {
	return c.listEntities(ctx, "/api/document_types/", "list_document_types")
}

func (c *Client) CreateTag(ctx context.Context, name string) (domain.StoreEntity, error) {
	return c.createEntity(ctx, "/api/tags/", name, "create_tag")
}

func (c *Client) CreateCorrespondent(ctx context.Context, name string) (domain.StoreEntity, error) {
	return c.createEntity(ctx, "/api/correspondents/", name, "create_correspondent")
}

func (c *Client) CreateDocumentType(ctx context.Context, name string) (domain.StoreEntity, error) {
	return c.createEntity(ctx, "/api/document_types/", name, "create_document_type")
}

func (c *Client) Health(ctx context.Context) error {
	var payload map[string]any
	return c.doJSON(ctx, http.MethodGet, "/api/", nil, &payload, "health")
}

func (c *Client) listEntities(ctx context.Context, path, operation string) ([]domain.StoreEntity, error) {
	out := make([]domain.StoreEntity, 0)
	next := fmt.Sprintf("%s?page_size=%d", path, entityPageSize)
	for next != "" {
		var resp page[domain.StoreEntity]
		if err := c.doJSON(ctx, http.MethodGet, next, nil, &resp, operation); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		next = ""
		if resp.Next != nil {
			next = *resp.Next
		}
	}
	return out, nil
}

func (c *Client) createEntity(ctx context.Context, path, name, operation string) (domain.StoreEntity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.StoreEntity{}, domain.WrapError(domain.ErrInvalidInput, operation, fmt.Errorf("name is required"))
	}
	var created domain.StoreEntity
	payload := map[string]any{"name": name, "matching_algorithm": 0}
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &created, operation); err != nil {
		return domain.StoreEntity{}, err
	}
	return created, nil
}
