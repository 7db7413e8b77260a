package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/core/ports"
)

type AnalysisLimits struct {
	MaxSteps     int
	ContentLimit int
	MaxTokens    int64
}

func (l AnalysisLimits) normalize() AnalysisLimits {
	if l.MaxSteps <= 0 {
		l.MaxSteps = 5
	}
	if l.ContentLimit <= 0 {
		l.ContentLimit = 8000
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 2048
	}
	return l
}

// AnalyzeDocumentUseCase runs the bounded tool-calling analysis for one
// mirrored document and records usage and audit rows.
type AnalyzeDocumentUseCase struct {
	mirror    ports.DocumentMirror
	instances ports.InstanceRepository
	bots      ports.BotRepository
	secrets   ports.SecretBox
	models    ports.ChatModelFactory
	stores    ports.DocumentStoreFactory
	audits    ports.AuditStore
	usage     ports.UsageRecorder
	pricing   ports.CostEstimator
	limits    AnalysisLimits
	logger    *slog.Logger
	now       func() time.Time
}

func NewAnalyzeDocumentUseCase(
	mirror ports.DocumentMirror,
	instances ports.InstanceRepository,
	bots ports.BotRepository,
	secrets ports.SecretBox,
	models ports.ChatModelFactory,
	stores ports.DocumentStoreFactory,
	audits ports.AuditStore,
	usage ports.UsageRecorder,
	pricing ports.CostEstimator,
	limits AnalysisLimits,
	logger *slog.Logger,
) *AnalyzeDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeDocumentUseCase{
		mirror:    mirror,
		instances: instances,
		bots:      bots,
		secrets:   secrets,
		models:    models,
		stores:    stores,
		audits:    audits,
		usage:     usage,
		pricing:   pricing,
		limits:    limits.normalize(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *AnalyzeDocumentUseCase) Analyze(ctx context.Context, documentID, aiBotID, userID string) (*domain.AnalysisOutcome, error) {
	if strings.TrimSpace(aiBotID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "analyze document", errors.New("aiBotId is required"))
	}

	doc, err := uc.mirror.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	instance, err := uc.instances.GetByID(ctx, doc.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	bot, err := uc.bots.GetByID(ctx, aiBotID)
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}

	apiKey, err := uc.secrets.Decrypt(bot.Provider.EncryptedAPIKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, "decrypt provider api key", err)
	}
	model, err := uc.models.NewChatModel(bot.Provider, apiKey)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	store, err := uc.stores.ForInstance(ctx, *instance)
	if err != nil {
		return nil, fmt.Errorf("document store client: %w", err)
	}

	run, err := uc.runAgent(ctx, model, newEntityCatalog(store), *doc, *bot)
	if err != nil {
		return nil, err
	}
	result, err := parseAnalysisResult(run.answer)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	metric := domain.UsageMetric{
		ID:               uuid.NewString(),
		Provider:         strings.ToLower(string(bot.Provider.Kind)),
		Model:            bot.Provider.Model,
		PromptTokens:     run.usage.InputTokens,
		CompletionTokens: run.usage.OutputTokens,
		TotalTokens:      run.usage.Total(),
		RemoteDocumentID: doc.RemoteDocumentID,
		ProviderID:       bot.Provider.ID,
		BotID:            bot.ID,
		CreatedAt:        now,
	}
	if strings.TrimSpace(userID) != "" {
		metric.UserID = &userID
	}
	if err := uc.usage.RecordUsage(ctx, metric); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	audit := domain.ProcessingAudit{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		AIProvider:    bot.Provider.Label(),
		TokensUsed:    run.usage.Total(),
		Changes:       result,
		ToolCalls:     run.toolCalls,
		OriginalTitle: doc.Title,
		ProcessedAt:   now,
	}
	if err := uc.audits.CreateAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("create processing audit: %w", err)
	}

	outcome := &domain.AnalysisOutcome{
		Result:       result,
		AIProvider:   audit.AIProvider,
		InputTokens:  run.usage.InputTokens,
		OutputTokens: run.usage.OutputTokens,
		AuditID:      audit.ID,
		ToolCalls:    run.toolCalls,
	}
	if uc.pricing != nil {
		outcome.EstimatedCost = uc.pricing.Estimate(bot.Provider.Model, run.usage)
	}

	uc.logger.Info("document_analyzed",
		"document_id", doc.ID,
		"remote_document_id", doc.RemoteDocumentID,
		"provider", audit.AIProvider,
		"steps", run.steps,
		"tool_calls", len(run.toolCalls),
		"tokens", audit.TokensUsed,
		"confidence", result.Confidence,
	)
	return outcome, nil
}

type agentRun struct {
	answer    string
	usage     domain.TokenUsage
	toolCalls []domain.ToolCallRecord
	steps     int
}

// runAgent alternates model turns and tool executions. The last permitted
// step keeps the tool definitions but forbids calls so the model has to
// answer.
func (uc *AnalyzeDocumentUseCase) runAgent(
	ctx context.Context,
	model ports.ChatModel,
	catalog *entityCatalog,
	doc domain.LocalDocument,
	bot domain.AIBot,
) (agentRun, error) {
	language := bot.ResponseLanguage
	if language == "" {
		language = domain.LanguageDocument
	}

	run := agentRun{toolCalls: []domain.ToolCallRecord{}}
	messages := []domain.ChatMessage{{
		Role:    domain.RoleUser,
		Content: buildAnalysisPrompt(doc, language, uc.limits.ContentLimit),
	}}
	tools := searchToolDefinitions()
	system := buildSystemPrompt(bot)

	for step := 1; step <= uc.limits.MaxSteps; step++ {
		run.steps = step
		final := step == uc.limits.MaxSteps

		req := domain.ChatRequest{
			System:    system,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: uc.limits.MaxTokens,
		}
		if final {
			req.ToolChoice = domain.ToolChoiceNone
		}

		resp, err := model.Chat(ctx, req)
		if err != nil {
			return agentRun{}, fmt.Errorf("model step %d: %w", step, err)
		}
		run.usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 || final {
			run.answer = resp.Text
			break
		}

		messages = append(messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			input := call.Arguments
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			run.toolCalls = append(run.toolCalls, domain.ToolCallRecord{ToolName: call.Name, Input: input})

			content, err := uc.executeTool(ctx, catalog, call)
			if err != nil {
				return agentRun{}, err
			}
			messages = append(messages, domain.ChatMessage{
				Role:       domain.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	if strings.TrimSpace(run.answer) == "" {
		return agentRun{}, domain.WrapError(domain.ErrProvider, "analyze document", errors.New("model returned no answer"))
	}
	return run, nil
}

// executeTool returns the tool message content. Unknown tools are reported
// back to the model; store failures abort the run.
func (uc *AnalyzeDocumentUseCase) executeTool(ctx context.Context, catalog *entityCatalog, call domain.ToolCall) (string, error) {
	if !isSearchTool(call.Name) {
		encoded, _ := json.Marshal(map[string]string{"error": "unknown tool " + call.Name})
		return string(encoded), nil
	}
	entities, err := catalog.search(ctx, call.Name, queryArgument(call.Arguments))
	if err != nil {
		return "", fmt.Errorf("execute tool %s: %w", call.Name, err)
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}
