package httpadapter

import (
	"encoding/json"
	"time"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
	"github.com/kirillkom/paperless-ai-queue/internal/infrastructure/secrets"
)

type errorResponse struct {
	Error string `json:"error"`
}

type enqueueRequest struct {
	RemoteDocumentID int     `json:"remoteDocumentId"`
	AIBotID          string  `json:"aiBotId"`
	Priority         *int    `json:"priority"`
	LocalDocumentID  *string `json:"localDocumentId"`
}

type queueListResponse struct {
	Items      []domain.QueueItem `json:"items"`
	Stats      domain.QueueStats  `json:"stats"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	Total      int                `json:"total"`
	TotalPages int                `json:"totalPages"`
}

func toQueueListResponse(page *domain.QueuePage) queueListResponse {
	return queueListResponse{
		Items:      page.Items,
		Stats:      page.Stats,
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages(),
	}
}

type retriedResponse struct {
	RetriedCount int `json:"retriedCount"`
}

type deletedResponse struct {
	DeletedCount int `json:"deletedCount"`
}

type analyzeRequest struct {
	AIBotID string `json:"aiBotId"`
}

type analyzeResponse struct {
	Success       bool                    `json:"success"`
	Result        domain.AnalysisResult   `json:"result"`
	AIProvider    string                  `json:"aiProvider"`
	InputTokens   int64                   `json:"inputTokens"`
	OutputTokens  int64                   `json:"outputTokens"`
	EstimatedCost *float64                `json:"estimatedCost"`
	AuditID       string                  `json:"auditId"`
	ToolCalls     []domain.ToolCallRecord `json:"toolCalls"`
}

func toAnalyzeResponse(outcome *domain.AnalysisOutcome) analyzeResponse {
	toolCalls := outcome.ToolCalls
	if toolCalls == nil {
		toolCalls = []domain.ToolCallRecord{}
	}
	return analyzeResponse{
		Success:       true,
		Result:        outcome.Result,
		AIProvider:    outcome.AIProvider,
		InputTokens:   outcome.InputTokens,
		OutputTokens:  outcome.OutputTokens,
		EstimatedCost: outcome.EstimatedCost,
		AuditID:       outcome.AuditID,
		ToolCalls:     toolCalls,
	}
}

type applyRequest struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type automationRequest struct {
	AutoProcessEnabled bool                     `json:"autoProcessEnabled"`
	ScanCronExpression string                   `json:"scanCronExpression"`
	AutoApply          domain.AutoApplySettings `json:"autoApply"`
}

// instanceView never carries credentials; the token is always masked.
type instanceView struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	BaseURL            string                   `json:"baseUrl"`
	APIToken           string                   `json:"apiToken"`
	DefaultAIBotID     *string                  `json:"defaultAiBotId"`
	AutoProcessEnabled bool                     `json:"autoProcessEnabled"`
	ScanCronExpression string                   `json:"scanCronExpression"`
	NextScanAt         *time.Time               `json:"nextScanAt"`
	LastScanAt         *time.Time               `json:"lastScanAt"`
	ImportFilterTagIDs []int                    `json:"importFilterTagIds"`
	AutoApply          domain.AutoApplySettings `json:"autoApply"`
	CreatedAt          time.Time                `json:"createdAt"`
	UpdatedAt          time.Time                `json:"updatedAt"`
}

func toInstanceView(instance *domain.Instance) instanceView {
	tags := instance.ImportFilterTagIDs
	if tags == nil {
		tags = []int{}
	}
	return instanceView{
		ID:                 instance.ID,
		Name:               instance.Name,
		BaseURL:            instance.BaseURL,
		APIToken:           secrets.Mask,
		DefaultAIBotID:     instance.DefaultAIBotID,
		AutoProcessEnabled: instance.AutoProcessEnabled,
		ScanCronExpression: instance.ScanCronExpression,
		NextScanAt:         instance.NextScanAt,
		LastScanAt:         instance.LastScanAt,
		ImportFilterTagIDs: tags,
		AutoApply:          instance.AutoApply,
		CreatedAt:          instance.CreatedAt,
		UpdatedAt:          instance.UpdatedAt,
	}
}
