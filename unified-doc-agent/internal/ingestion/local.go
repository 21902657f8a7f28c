package ingestion

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

var allowedExt = []string{".pdf", ".txt", ".md", ".png", ".jpg", ".jpeg"}

// Supported reports whether ExtractPages can read the file.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowedExt {
		if ext == a {
			return true
		}
	}
	return false
}

// Source yields local file paths to index.
type Source interface {
	Origin() string
	Files(ctx context.Context) ([]string, error)
}

// LocalSource walks a directory tree.
type LocalSource struct {
	Root string
}

func (LocalSource) Origin() string { return "local" }

func (s LocalSource) Files(ctx context.Context) ([]string, error) {
	return LoadLocalFiles(ctx, s.Root)
}

func LoadLocalFiles(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if Supported(path) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
