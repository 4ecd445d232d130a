// Package extractor pulls plain text out of uploaded health reports.
// Accepted inputs are text/plain and application/pdf; everything else is
// rejected before any bytes are inspected.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, mimeType string, data []byte) (string, error) {
	mediaType := mimeType
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mediaType = parsed
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "text/plain":
		text, err = extractPlainText(data)
	case "application/pdf":
		text, err = extractPDFText(data)
	default:
		return "", domain.WrapError(domain.ErrUnsupportedFileType, "extract text",
			fmt.Errorf("mime type %q, want text/plain or application/pdf", mimeType))
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.WrapError(domain.ErrEmptyDocument, "extract text", errors.New("no text after trimming"))
	}
	return text, nil
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.WrapError(domain.ErrUnsupportedFileType, "extract text",
			errors.New("binary payload declared as text/plain"))
	}
	return string(data), nil
}

// extractPDFText concatenates per-page text, pages separated by newlines,
// matching the layout the analyzer prompt was tuned against.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", fmt.Errorf("open pdf: %w", err))
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "extract text",
				fmt.Errorf("read pdf page %d: %w", i, err))
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}
