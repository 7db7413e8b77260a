package llm

import (
	"testing"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/llm/claude"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/llm/openaicompat"
)

func TestFactoryResolvesProviderKinds(t *testing.T) {
	factory := NewFactory(time.Second, nil)

	model, err := factory.NewChatModel(domain.AIProvider{ID: "p1", Kind: domain.ProviderAnthropic, Model: "claude"}, "key")
	if err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
	if _, ok := model.(*claude.Client); !ok {
		t.Fatalf("expected anthropic client, got %T", model)
	}

	for _, kind := range []domain.ProviderKind{domain.ProviderOpenAI, domain.ProviderGemini, domain.ProviderOllama} {
		model, err := factory.NewChatModel(domain.AIProvider{ID: "p2", Kind: kind, Model: "m"}, "key")
		if err != nil {
			t.Fatalf("NewChatModel(%s) error = %v", kind, err)
		}
		if _, ok := model.(*openaicompat.Client); !ok {
			t.Fatalf("expected openai compatible client for %s, got %T", kind, model)
		}
	}
}

func TestFactoryRejectsCustomWithoutBaseURL(t *testing.T) {
	factory := NewFactory(time.Second, nil)
	_, err := factory.NewChatModel(domain.AIProvider{ID: "p", Kind: domain.ProviderCustom, Model: "m"}, "")
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}

	if _, err := factory.NewChatModel(domain.AIProvider{ID: "p", Kind: domain.ProviderCustom, Model: "m", BaseURL: "http://llm.local/v1"}, ""); err != nil {
		t.Fatalf("NewChatModel() error = %v", err)
	}
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	factory := NewFactory(time.Second, nil)
	_, err := factory.NewChatModel(domain.AIProvider{ID: "p", Kind: "MISTRAL", Model: "m"}, "")
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}
