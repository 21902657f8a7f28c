// Package ingestion turns local or Drive files into page-numbered text.
package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsupported = errors.New("unsupported file type")

// Page is the text of one page. Number is 1-based, or 0 for sources without
// pages.
type Page struct {
	Number int
	Text   string
}

// ExtractPages detects the file type and returns its text via the text
// layer or, for scans and images, OCR.
func ExtractPages(path string) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []Page{{Text: string(b)}}, nil
	case ".pdf":
		pages, err := ExtractPDFPages(path)
		if err == nil && hasText(pages) {
			return pages, nil
		}
		return OCRPages(path)
	case ".png", ".jpg", ".jpeg":
		return OCRPages(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
