package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

const (
	ToolSearchTags           = "search_tags"
	ToolSearchCorrespondents = "search_correspondents"
	ToolSearchDocumentTypes  = "search_document_types"
)

// SearchToolNames lists the read-only search tools in a stable order.
var SearchToolNames = []string{ToolSearchTags, ToolSearchCorrespondents, ToolSearchDocumentTypes}

func isSearchTool(name string) bool {
	for _, tool := range SearchToolNames {
		if tool == name {
			return true
		}
	}
	return false
}

func searchToolDefinitions() []domain.ToolDefinition {
	parameters := func(subject string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": fmt.Sprintf("Case-insensitive part of the %s name. Empty returns all %ss.", subject, subject),
				},
			},
		}
	}
	return []domain.ToolDefinition{
		{Name: ToolSearchTags, Description: "Search existing tags by name.", Parameters: parameters("tag")},
		{Name: ToolSearchCorrespondents, Description: "Search existing correspondents by name.", Parameters: parameters("correspondent")},
		{Name: ToolSearchDocumentTypes, Description: "Search existing document types by name.", Parameters: parameters("document type")},
	}
}

// entityCatalog serves search tools for one store and caches each entity
// list for the lifetime of the catalog.
type entityCatalog struct {
	store ports.DocumentStore
	lists map[string][]domain.StoreEntity
}

func newEntityCatalog(store ports.DocumentStore) *entityCatalog {
	return &entityCatalog{store: store, lists: make(map[string][]domain.StoreEntity, len(SearchToolNames))}
}

func (c *entityCatalog) search(ctx context.Context, tool, query string) ([]domain.StoreEntity, error) {
	all, err := c.list(ctx, tool)
	if err != nil {
		return nil, err
	}
	return filterEntities(all, query), nil
}

func (c *entityCatalog) list(ctx context.Context, tool string) ([]domain.StoreEntity, error) {
	if cached, ok := c.lists[tool]; ok {
		return cached, nil
	}

	var (
		entities []domain.StoreEntity
		err      error
	)
	switch tool {
	case ToolSearchTags:
		entities, err = c.store.ListTags(ctx)
	case ToolSearchCorrespondents:
		entities, err = c.store.ListCorrespondents(ctx)
	case ToolSearchDocumentTypes:
		entities, err = c.store.ListDocumentTypes(ctx)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "search entities", fmt.Errorf("unknown tool %q", tool))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
	c.lists[tool] = entities
	return entities, nil
}

func filterEntities(entities []domain.StoreEntity, query string) []domain.StoreEntity {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.StoreEntity, 0, len(entities))
	for _, entity := range entities {
		if needle == "" || strings.Contains(strings.ToLower(entity.Name), needle) {
			out = append(out, entity)
		}
	}
	return out
}

func queryArgument(raw json.RawMessage) string {
	var args struct {
		Query string `json:"query"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &args) != nil {
		return ""
	}
	return args.Query
}

// EntitySearchUseCase exposes the search tools outside the analysis loop.
type EntitySearchUseCase struct {
	instances ports.InstanceRepository
	stores    ports.DocumentStoreFactory
}

func NewEntitySearchUseCase(instances ports.InstanceRepository, stores ports.DocumentStoreFactory) *EntitySearchUseCase {
	return &EntitySearchUseCase{instances: instances, stores: stores}
}

func (uc *EntitySearchUseCase) Search(ctx context.Context, instanceID, tool, query string) ([]domain.StoreEntity, error) {
	instance, err := uc.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	store, err := uc.stores.ForInstance(ctx, *instance)
	if err != nil {
		return nil, fmt.Errorf("document store client: %w", err)
	}
	return newEntityCatalog(store).search(ctx, tool, query)
}
