package extractor

import (
	"context"
	"testing"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

func TestExtractPlainText(t *testing.T) {
	text, err := New().Extract(context.Background(), []byte("  Invoice 42\n"), "text/plain; charset=utf-8")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Invoice 42" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractRejectsUnsupportedFormat(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractMalformedPDFReturnsError(t *testing.T) {
	_, err := New().Extract(context.Background(), []byte("%PDF-1.4 truncated"), "application/pdf")
	if err == nil {
		t.Fatalf("expected error for malformed pdf")
	}
}
