package usecase

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

func TestParseAnalysisResultValid(t *testing.T) {
	result, err := parseAnalysisResult(validAnalysisJSON())
	if err != nil {
		t.Fatalf("parseAnalysisResult() error = %v", err)
	}
	if result.SuggestedTitle != "Invoice ACME 2026-10" {
		t.Fatalf("unexpected title %q", result.SuggestedTitle)
	}
	if !result.SuggestedCorrespondent.Existing() || *result.SuggestedCorrespondent.ID != 3 {
		t.Fatalf("expected existing correspondent 3, got %+v", result.SuggestedCorrespondent)
	}
	if result.SuggestedDocumentType.Existing() || result.SuggestedDocumentType.Name != "Invoice" {
		t.Fatalf("expected new document type, got %+v", result.SuggestedDocumentType)
	}
	if len(result.SuggestedTags) != 2 || result.SuggestedTags[1].Existing() {
		t.Fatalf("unexpected tags %+v", result.SuggestedTags)
	}
	if result.SuggestedDate == nil || *result.SuggestedDate != "2026-10-01" {
		t.Fatalf("unexpected date %v", result.SuggestedDate)
	}
}

func TestParseAnalysisResultIgnoresSurroundingProse(t *testing.T) {
	raw := "Here is my analysis:\n```json\n" + validAnalysisJSON() + "\n```\nLet me know if you need more."
	result, err := parseAnalysisResult(raw)
	if err != nil {
		t.Fatalf("parseAnalysisResult() error = %v", err)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
}

func TestParseAnalysisResultIsIdempotent(t *testing.T) {
	first, err := parseAnalysisResult(validAnalysisJSON())
	if err != nil {
		t.Fatalf("parseAnalysisResult() error = %v", err)
	}
	encoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	second, err := parseAnalysisResult(string(encoded))
	if err != nil {
		t.Fatalf("parseAnalysisResult() second pass error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestParseAnalysisResultConfidenceBounds(t *testing.T) {
	cases := []struct {
		confidence string
		wantErr    bool
	}{
		{confidence: "0", wantErr: false},
		{confidence: "1", wantErr: false},
		{confidence: "0.5", wantErr: false},
		{confidence: "-0.0001", wantErr: true},
		{confidence: "1.0001", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.confidence, func(t *testing.T) {
			raw := strings.Replace(validAnalysisJSON(), `"confidence":0.92`, `"confidence":`+tc.confidence, 1)
			_, err := parseAnalysisResult(raw)
			if tc.wantErr && !errors.Is(err, domain.ErrProvider) {
				t.Fatalf("expected provider error, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("parseAnalysisResult() error = %v", err)
			}
		})
	}
}

func TestParseAnalysisResultRejectsInvalidAnswers(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "no json", raw: "I could not classify this document."},
		{name: "broken json", raw: `{"suggestedTitle": "x",`},
		{name: "missing correspondent", raw: `{"suggestedTitle":"x","suggestedDocumentType":{"name":"Letter"},"suggestedTags":[],"confidence":0.5,"reasoning":"r"}`},
		{name: "null document type", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":null,"suggestedTags":[],"confidence":0.5,"reasoning":"r"}`},
		{name: "tag without name", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"name":"B"},"suggestedTags":[{"id":1}],"confidence":0.5,"reasoning":"r"}`},
		{name: "empty correspondent name", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"id":null,"name":""},"suggestedDocumentType":{"name":"B"},"suggestedTags":[],"confidence":0.5,"reasoning":"r"}`},
		{name: "tag with zero id", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"name":"B"},"suggestedTags":[{"id":0,"name":"Tax"}],"confidence":0.5,"reasoning":"r"}`},
		{name: "document type with negative id", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"id":-3,"name":"B"},"suggestedTags":[],"confidence":0.5,"reasoning":"r"}`},
		{name: "confidence as string", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"name":"B"},"suggestedTags":[],"confidence":"high","reasoning":"r"}`},
		{name: "invalid date", raw: `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"name":"B"},"suggestedTags":[],"confidence":0.5,"reasoning":"r","suggestedDate":"last tuesday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseAnalysisResult(tc.raw); !errors.Is(err, domain.ErrProvider) {
				t.Fatalf("expected provider error, got %v", err)
			}
		})
	}
}

func TestParseAnalysisResultOptionalDate(t *testing.T) {
	base := `{"suggestedTitle":"x","suggestedCorrespondent":{"name":"A"},"suggestedDocumentType":{"name":"B"},"suggestedTags":[],"confidence":0.5,"reasoning":"r"`

	for _, raw := range []string{base + "}", base + `,"suggestedDate":null}`, base + `,"suggestedDate":""}`} {
		result, err := parseAnalysisResult(raw)
		if err != nil {
			t.Fatalf("parseAnalysisResult(%s) error = %v", raw, err)
		}
		if result.SuggestedDate != nil {
			t.Fatalf("expected nil date for %s, got %q", raw, *result.SuggestedDate)
		}
		if result.SuggestedTags == nil {
			t.Fatalf("expected non-nil tags")
		}
	}
}

func TestExtractJSONObject(t *testing.T) {
	if _, ok := extractJSONObject("} before {"); ok {
		t.Fatalf("expected no object when braces are reversed")
	}
	got, ok := extractJSONObject(`text {"a":{"b":1}} tail`)
	if !ok || got != `{"a":{"b":1}}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}
