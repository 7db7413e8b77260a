package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

const baseSystemPrompt = `You classify scanned documents for a document management system.
Before proposing suggestions call search_tags, search_correspondents and search_document_types
to learn which entities already exist. Reuse an existing entity by returning its id. Only omit
the id when no existing entity fits and a new one should be created.
Answer with a single JSON object and nothing else.`

const resultContract = `Return JSON with exactly these fields:
- "suggestedTitle": a concise, descriptive title.
- "suggestedCorrespondent": {"id": <existing id or omit>, "name": "<name>"}. Never null or omitted.
- "suggestedDocumentType": {"id": <existing id or omit>, "name": "<name>"}. Never null or omitted.
- "suggestedTags": array of {"id": <existing id or omit>, "name": "<name>"}, may be empty.
- "confidence": number between 0 and 1.
- "reasoning": short explanation of the choices.
- "suggestedDate": document date as YYYY-MM-DD, omit when unknown.`

func buildSystemPrompt(bot domain.AIBot) string {
	custom := strings.TrimSpace(bot.SystemPrompt)
	if custom == "" {
		return baseSystemPrompt
	}
	return custom + "\n\n" + baseSystemPrompt
}

func buildAnalysisPrompt(doc domain.LocalDocument, language domain.ResponseLanguage, contentLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document title: %s\n\n", strings.TrimSpace(doc.Title))
	b.WriteString("Document content:\n")
	b.WriteString(truncateContent(doc.Content, contentLimit))
	b.WriteString("\n\n")
	b.WriteString(resultContract)
	b.WriteString("\n\n")
	b.WriteString(languageDirective(language))
	return b.String()
}

// truncateContent cuts at limit characters and marks the cut with "...".
func truncateContent(content string, limit int) string {
	content = strings.TrimSpace(content)
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

func languageDirective(language domain.ResponseLanguage) string {
	switch language {
	case domain.LanguageGerman:
		return "Write the title, names and reasoning in German."
	case domain.LanguageEnglish:
		return "Write the title, names and reasoning in English."
	default:
		return "Write the title, names and reasoning in the language of the document."
	}
}
