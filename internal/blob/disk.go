package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Disk stores blobs as files under a local directory. Used when no
// object storage is configured.
type Disk struct {
	dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Save(_ context.Context, r io.Reader, _ int64, name, _ string) (string, error) {
	key := newKey(name)

	f, err := os.Create(filepath.Join(d.dir, key))
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write blob file: %w", err)
	}
	return key, nil
}

func (d *Disk) Open(_ context.Context, key string) (io.ReadCloser, error) {
	// Keys are generated server-side but never trust them on the way in.
	if strings.Contains(key, "/") || strings.Contains(key, "..") {
		return nil, fmt.Errorf("invalid blob key %q", key)
	}
	f, err := os.Open(filepath.Join(d.dir, key))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return f, nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	if strings.Contains(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return os.Remove(filepath.Join(d.dir, key))
}
