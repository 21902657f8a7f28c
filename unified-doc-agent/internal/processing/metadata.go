package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// Metadata describes one ingested file. ContentHash keys the ingest
// manifest, so a renamed copy of an indexed file is skipped.
type Metadata struct {
	Path        string
	Source      string // "local" or "gdrive"
	ImportedAt  time.Time
	Title       string
	ContentHash string
}

func NewMetadata(path, source string, content []byte) Metadata {
	sum := sha256.Sum256(content)
	return Metadata{
		Path:        path,
		Source:      source,
		ImportedAt:  time.Now().UTC(),
		Title:       filepath.Base(path),
		ContentHash: hex.EncodeToString(sum[:]),
	}
}
