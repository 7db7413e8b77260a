package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

var analysisResultSchema = buildAnalysisResultSchema()

func buildAnalysisResultSchema() *openapi3.Schema {
	entity := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewIntegerSchema().WithNullable().WithMin(1)).
		WithProperty("name", openapi3.NewStringSchema().WithMinLength(1)).
		WithRequired([]string{"name"})

	return openapi3.NewObjectSchema().
		WithProperty("suggestedTitle", openapi3.NewStringSchema()).
		WithProperty("suggestedCorrespondent", entity).
		WithProperty("suggestedDocumentType", entity).
		WithProperty("suggestedTags", openapi3.NewArraySchema().WithItems(entity)).
		WithProperty("confidence", openapi3.NewFloat64Schema().WithMin(0).WithMax(1)).
		WithProperty("reasoning", openapi3.NewStringSchema()).
		WithProperty("suggestedDate", openapi3.NewStringSchema().WithNullable()).
		WithRequired([]string{
			"suggestedTitle",
			"suggestedCorrespondent",
			"suggestedDocumentType",
			"suggestedTags",
			"confidence",
			"reasoning",
		})
}

// parseAnalysisResult takes the text between the first "{" and the last "}"
// of the model answer and validates it as an AnalysisResult.
func parseAnalysisResult(raw string) (domain.AnalysisResult, error) {
	payload, ok := extractJSONObject(raw)
	if !ok {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrProvider, "parse analysis result", errors.New("model answer contains no JSON object"))
	}

	var generic any
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrProvider, "parse analysis result", err)
	}
	if err := analysisResultSchema.VisitJSON(generic, openapi3.MultiErrors()); err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrProvider, "validate analysis result", err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrProvider, "decode analysis result", err)
	}
	if result.SuggestedTags == nil {
		result.SuggestedTags = []domain.SuggestedEntity{}
	}
	if result.SuggestedDate != nil {
		date := strings.TrimSpace(*result.SuggestedDate)
		if date == "" {
			result.SuggestedDate = nil
		} else if _, err := domain.ParseDocumentDate(date); err != nil {
			return domain.AnalysisResult{}, domain.WrapError(domain.ErrProvider, "validate analysis result", fmt.Errorf("suggestedDate %q is not an ISO date", date))
		} else {
			result.SuggestedDate = &date
		}
	}
	return result, nil
}

func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
