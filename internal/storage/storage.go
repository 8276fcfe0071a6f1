package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"studiumai/internal/util"
)

// ErrNotFound is returned by Open when the blob does not exist.
var ErrNotFound = errors.New("storage: blob not found")

// BlobStore keeps uploaded source files. Keys are slash separated
// ("<notebookID>/<storedName>") and never contain "..".
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a blob; a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the key for a new upload: "<notebookID>/<unixMillis>-<rand><ext>".
// The original file name only contributes its extension.
func ObjectKey(notebookID, fileName string, now time.Time) string {
	suffix := util.RandomHex(5)
	ext := strings.ToLower(filepath.Ext(safeFilename(fileName)))
	if len(ext) > 16 {
		ext = ""
	}
	return path.Join(safeFilename(notebookID), fmt.Sprintf("%d-%s%s", now.UnixMilli(), suffix, ext))
}

func validKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("storage: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return nil
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}
