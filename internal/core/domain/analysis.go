package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// SuggestedEntity references an existing document-store entity when ID is
// set and names a new one otherwise.
type SuggestedEntity struct {
	ID   *int   `json:"id,omitempty"`
	Name string `json:"name"`
}

func (e SuggestedEntity) Existing() bool {
	return e.ID != nil
}

func (e SuggestedEntity) Empty() bool {
	return e.ID == nil && strings.TrimSpace(e.Name) == ""
}

type AnalysisResult struct {
	SuggestedTitle         string            `json:"suggestedTitle"`
	SuggestedCorrespondent SuggestedEntity   `json:"suggestedCorrespondent"`
	SuggestedDocumentType  SuggestedEntity   `json:"suggestedDocumentType"`
	SuggestedTags          []SuggestedEntity `json:"suggestedTags"`
	Confidence             float64           `json:"confidence"`
	Reasoning              string            `json:"reasoning"`
	SuggestedDate          *string           `json:"suggestedDate,omitempty"`
}

type ToolCallRecord struct {
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input"`
}

type ProcessingAudit struct {
	ID            string           `json:"id"`
	DocumentID    string           `json:"documentId"`
	AIProvider    string           `json:"aiProvider"`
	TokensUsed    int64            `json:"tokensUsed"`
	Changes       AnalysisResult   `json:"changes"`
	ToolCalls     []ToolCallRecord `json:"toolCalls"`
	OriginalTitle string           `json:"originalTitle"`
	ProcessedAt   time.Time        `json:"processedAt"`
}

type UsageMetric struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	TotalTokens      int64     `json:"totalTokens"`
	RemoteDocumentID int       `json:"remoteDocumentId"`
	UserID           *string   `json:"userId"`
	ProviderID       string    `json:"providerId"`
	BotID            string    `json:"botId"`
	CreatedAt        time.Time `json:"createdAt"`
}

type AnalysisOutcome struct {
	Result        AnalysisResult
	AIProvider    string
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost *float64
	AuditID       string
	ToolCalls     []ToolCallRecord
}

// Applicable field names, in the order the applier walks them.
const (
	FieldTitle         = "title"
	FieldCorrespondent = "correspondent"
	FieldDocumentType  = "documentType"
	FieldTags          = "tags"
	FieldDate          = "date"
	FieldAll           = "all"
)

var ApplyFieldOrder = []string{FieldTitle, FieldCorrespondent, FieldDocumentType, FieldTags, FieldDate}

type ApplyOutcome struct {
	AppliedFields []string `json:"appliedFields"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
}
