package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/llm/claude"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/resilience"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	ollamaBaseURL = "http://localhost:11434/v1"
)

// Factory builds chat models from stored provider configuration.
type Factory struct {
	timeout  time.Duration
	executor *resilience.Executor
}

func NewFactory(timeout time.Duration, executor *resilience.Executor) *Factory {
	return &Factory{timeout: timeout, executor: executor}
}

func (f *Factory) NewChatModel(provider domain.AIProvider, apiKey string) (ports.ChatModel, error) {
	model := strings.TrimSpace(provider.Model)
	if model == "" {
		return nil, domain.WrapError(domain.ErrProvider, "build chat model", fmt.Errorf("provider %s has no model", provider.ID))
	}
	baseURL := strings.TrimSpace(provider.BaseURL)

	switch provider.Kind {
	case domain.ProviderAnthropic:
		return claude.New(apiKey, model, claude.Options{
			BaseURL:            baseURL,
			Timeout:            f.timeout,
			ResilienceExecutor: f.executor,
		}), nil
	case domain.ProviderOpenAI:
		return f.openAICompatible(apiKey, model, baseURL), nil
	case domain.ProviderGemini:
		if baseURL == "" {
			baseURL = geminiBaseURL
		}
		return f.openAICompatible(apiKey, model, baseURL), nil
	case domain.ProviderOllama:
		if baseURL == "" {
			baseURL = ollamaBaseURL
		}
		return f.openAICompatible(apiKey, model, baseURL), nil
	case domain.ProviderCustom:
		if baseURL == "" {
			return nil, domain.WrapError(domain.ErrProvider, "build chat model", fmt.Errorf("custom provider %s requires a base url", provider.ID))
		}
		return f.openAICompatible(apiKey, model, baseURL), nil
	default:
		return nil, domain.WrapError(domain.ErrProvider, "build chat model", fmt.Errorf("unsupported provider kind %q", provider.Kind))
	}
}

func (f *Factory) openAICompatible(apiKey, model, baseURL string) *openaicompat.Client {
	return openaicompat.New(apiKey, model, openaicompat.Options{
		BaseURL:            baseURL,
		Timeout:            f.timeout,
		ResilienceExecutor: f.executor,
	})
}
