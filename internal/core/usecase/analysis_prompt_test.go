package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

func TestBuildSystemPromptPrependsCustomPrompt(t *testing.T) {
	if got := buildSystemPrompt(domain.AIBot{}); got != baseSystemPrompt {
		t.Fatalf("expected base prompt without custom prompt")
	}
	got := buildSystemPrompt(domain.AIBot{SystemPrompt: "  Focus on tax documents.  "})
	if !strings.HasPrefix(got, "Focus on tax documents.\n\n") || !strings.HasSuffix(got, baseSystemPrompt) {
		t.Fatalf("unexpected system prompt %q", got)
	}
}

func TestBuildAnalysisPromptTruncatesContent(t *testing.T) {
	doc := domain.LocalDocument{Title: "Scan 001", Content: strings.Repeat("ä", 30)}
	prompt := buildAnalysisPrompt(doc, domain.LanguageGerman, 10)

	if !strings.Contains(prompt, "Document title: Scan 001") {
		t.Fatalf("prompt misses title: %q", prompt)
	}
	if !strings.Contains(prompt, strings.Repeat("ä", 10)+"...") || strings.Contains(prompt, strings.Repeat("ä", 11)) {
		t.Fatalf("expected content cut at 10 characters: %q", prompt)
	}
	if !strings.Contains(prompt, "in German") {
		t.Fatalf("expected German directive: %q", prompt)
	}
	if !strings.Contains(prompt, `"suggestedCorrespondent"`) {
		t.Fatalf("expected result contract in prompt")
	}
}

func TestTruncateContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		limit   int
		want    string
	}{
		{name: "short", content: "hello", limit: 10, want: "hello"},
		{name: "exact", content: "hello", limit: 5, want: "hello"},
		{name: "cut", content: "hello world", limit: 5, want: "hello..."},
		{name: "no limit", content: " hello ", limit: 0, want: "hello"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateContent(tc.content, tc.limit); got != tc.want {
				t.Fatalf("truncateContent() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLanguageDirective(t *testing.T) {
	if !strings.Contains(languageDirective(domain.LanguageEnglish), "English") {
		t.Fatalf("expected English directive")
	}
	if !strings.Contains(languageDirective(domain.LanguageDocument), "language of the document") {
		t.Fatalf("expected document language directive")
	}
}
