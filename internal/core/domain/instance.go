package domain

import (
	"strings"
	"time"
)

type AutoApplySettings struct {
	Title         bool `json:"title"`
	Correspondent bool `json:"correspondent"`
	DocumentType  bool `json:"documentType"`
	Tags          bool `json:"tags"`
	Date          bool `json:"date"`
}

func (s AutoApplySettings) Any() bool {
	return s.Title || s.Correspondent || s.DocumentType || s.Tags || s.Date
}

func (s AutoApplySettings) Enabled(field string) bool {
	switch field {
	case FieldTitle:
		return s.Title
	case FieldCorrespondent:
		return s.Correspondent
	case FieldDocumentType:
		return s.DocumentType
	case FieldTags:
		return s.Tags
	case FieldDate:
		return s.Date
	default:
		return false
	}
}

// OnlyField returns settings with a single field enabled, or every field for FieldAll.
func OnlyField(field string) (AutoApplySettings, bool) {
	switch field {
	case FieldAll:
		return AutoApplySettings{Title: true, Correspondent: true, DocumentType: true, Tags: true, Date: true}, true
	case FieldTitle:
		return AutoApplySettings{Title: true}, true
	case FieldCorrespondent:
		return AutoApplySettings{Correspondent: true}, true
	case FieldDocumentType:
		return AutoApplySettings{DocumentType: true}, true
	case FieldTags:
		return AutoApplySettings{Tags: true}, true
	case FieldDate:
		return AutoApplySettings{Date: true}, true
	default:
		return AutoApplySettings{}, false
	}
}

// Instance is a configured connection to one document-store deployment.
type Instance struct {
	ID                 string
	Name               string
	BaseURL            string
	EncryptedToken     string
	DefaultAIBotID     *string
	AutoProcessEnabled bool
	ScanCronExpression string
	NextScanAt         *time.Time
	LastScanAt         *time.Time
	ImportFilterTagIDs []int
	AutoApply          AutoApplySettings
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type AutomationUpdate struct {
	AutoProcessEnabled bool
	ScanCronExpression string
	AutoApply          AutoApplySettings
}

type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "OPENAI"
	ProviderAnthropic ProviderKind = "ANTHROPIC"
	ProviderGemini    ProviderKind = "GEMINI"
	ProviderOllama    ProviderKind = "OLLAMA"
	ProviderCustom    ProviderKind = "CUSTOM"
)

func ParseProviderKind(raw string) (ProviderKind, bool) {
	kind := ProviderKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderCustom:
		return kind, true
	default:
		return "", false
	}
}

type AIProvider struct {
	ID              string
	Kind            ProviderKind
	Model           string
	EncryptedAPIKey string
	BaseURL         string
}

// Label is the "<provider>/<model>" identifier recorded on audits.
func (p AIProvider) Label() string {
	return strings.ToLower(string(p.Kind)) + "/" + p.Model
}

type ResponseLanguage string

const (
	LanguageDocument ResponseLanguage = "DOCUMENT"
	LanguageGerman   ResponseLanguage = "GERMAN"
	LanguageEnglish  ResponseLanguage = "ENGLISH"
)

type AIBot struct {
	ID               string
	Name             string
	SystemPrompt     string
	ResponseLanguage ResponseLanguage
	Provider         AIProvider
}
