package ingestion

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

var pageImageRegex = regexp.MustCompile(`-(\d+)\.png$`)

// OCRPages runs OCR on images or scanned PDFs. PDFs are rendered to PNGs
// with pdftoppm (poppler) first.
func OCRPages(path string) ([]Page, error) {
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		text, err := runTesseract(path)
		if err != nil {
			return nil, err
		}
		return []Page{{Text: text}}, nil
	}

	dir, err := os.MkdirTemp("", "uda_pdfimg")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := exec.Command("pdftoppm", "-png", path, filepath.Join(dir, "page")).Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm convert failed: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	images := pageImages(matches)

	var pages []Page
	for _, img := range images {
		text, err := runTesseract(img.path)
		if err != nil || text == "" {
			continue
		}
		pages = append(pages, Page{Number: img.number, Text: text})
	}
	return pages, nil
}

type pageImage struct {
	path   string
	number int
}

// pageImages orders pdftoppm output by page. Names are zero-padded to the
// page count, e.g. page-07.png.
func pageImages(paths []string) []pageImage {
	var out []pageImage
	for _, p := range paths {
		m := pageImageRegex.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, pageImage{path: p, number: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].number < out[j].number })
	return out
}

func runTesseract(imgPath string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImage(imgPath); err != nil {
		return "", err
	}
	text, err := client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
