// Package blob stores uploaded file content. Backends share a flat
// key space; the key is persisted on the File record as storagePath.
package blob

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store reads and writes uploaded file content.
type Store interface {
	Save(ctx context.Context, r io.Reader, size int64, name, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// newKey builds a unique storage key preserving the original extension.
func newKey(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return uuid.NewString() + ext
}
