package ingestion

import (
	"os/exec"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractPDFPages reads the text layer page by page. When the library finds
// nothing it falls back to pdftotext, whose output separates pages with form
// feeds.
func ExtractPDFPages(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, Page{Number: i, Text: text})
		}
	}
	if len(pages) > 0 {
		return pages, nil
	}

	out, err := exec.Command("pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return nil, nil
	}
	return splitFormFeeds(string(out)), nil
}

func splitFormFeeds(text string) []Page {
	var pages []Page
	for i, part := range strings.Split(text, "\f") {
		if part = strings.TrimSpace(part); part != "" {
			pages = append(pages, Page{Number: i + 1, Text: part})
		}
	}
	return pages
}
