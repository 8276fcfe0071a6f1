package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"studiumai/internal/metrics"
	"studiumai/internal/storage"
	"studiumai/internal/util"
	"studiumai/pkg/domain"
	"studiumai/pkg/extract"
)

// sniffBytes is how much of an upload is inspected when the client did not
// declare a usable content type.
const sniffBytes = 3072

// Upload is one file from a multipart request.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadSource stores a file under the notebook and records it as a source.
func (a *App) UploadSource(ctx context.Context, user domain.User, notebookID string, up *Upload) (domain.Source, error) {
	nb, err := a.ownedNotebook(ctx, user, notebookID)
	if err != nil {
		return domain.Source{}, err
	}
	if up == nil || up.Body == nil {
		return domain.Source{}, ErrNoFile
	}
	if up.Size > a.maxUploadBytes {
		return domain.Source{}, ErrFileTooLarge
	}

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.Source{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	fileType := resolveFileType(up.ContentType, up.FileName, head)
	if !extract.Allowed(fileType) {
		return domain.Source{}, ErrInvalidFileType
	}

	now := a.timestamp()
	key := storage.ObjectKey(nb.ID, up.FileName, now)
	body := &cappedReader{r: io.MultiReader(bytes.NewReader(head), up.Body), remaining: a.maxUploadBytes}
	if err := a.blobs.Put(ctx, key, body, up.Size, fileType); err != nil {
		_ = a.blobs.Delete(ctx, key)
		if errors.Is(err, ErrFileTooLarge) {
			return domain.Source{}, ErrFileTooLarge
		}
		return domain.Source{}, fmt.Errorf("store upload: %w", err)
	}

	src := domain.Source{
		ID:         util.NewID(),
		NotebookID: nb.ID,
		FileName:   filepath.Base(up.FileName),
		FileType:   fileType,
		FileSize:   body.read,
		FilePath:   key,
		UploadedAt: now,
	}
	if err := a.store.CreateSource(ctx, src); err != nil {
		_ = a.blobs.Delete(ctx, key)
		return domain.Source{}, fmt.Errorf("save source: %w", err)
	}
	metrics.UploadBytes.Observe(float64(src.FileSize))
	return src, nil
}

// ListSources returns the notebook's sources, newest first.
func (a *App) ListSources(ctx context.Context, user domain.User, notebookID string) ([]domain.Source, error) {
	if _, err := a.ownedNotebook(ctx, user, notebookID); err != nil {
		return nil, err
	}
	sources, err := a.store.ListSources(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// DeleteSource removes the blob and then the row. A missing blob is ignored.
func (a *App) DeleteSource(ctx context.Context, user domain.User, id string) error {
	src, err := a.ownedSource(ctx, user, id)
	if err != nil {
		return err
	}
	a.deleteBlob(ctx, src)
	if err := a.store.DeleteSource(ctx, src.ID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// DownloadSource opens the stored file. The caller closes the reader.
func (a *App) DownloadSource(ctx context.Context, user domain.User, id string) (domain.Source, io.ReadCloser, error) {
	src, err := a.ownedSource(ctx, user, id)
	if err != nil {
		return domain.Source{}, nil, err
	}
	rc, err := a.blobs.Open(ctx, src.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Source{}, nil, ErrFileNotFound
		}
		return domain.Source{}, nil, fmt.Errorf("open source: %w", err)
	}
	return src, rc, nil
}

func (a *App) ownedSource(ctx context.Context, user domain.User, id string) (domain.Source, error) {
	src, ok, err := a.store.GetSource(ctx, id)
	if err != nil {
		return domain.Source{}, fmt.Errorf("get source: %w", err)
	}
	if !ok {
		return domain.Source{}, ErrSourceNotFound
	}
	if err := a.authorizeNotebook(ctx, user, src.NotebookID); err != nil {
		return domain.Source{}, err
	}
	return src, nil
}

func (a *App) deleteBlob(ctx context.Context, src domain.Source) {
	if err := a.blobs.Delete(ctx, src.FilePath); err != nil {
		util.LoggerFromContext(ctx).Warn("source_blob_delete_failed", "source_id", src.ID, "key", src.FilePath, "err", err)
	}
}

// resolveFileType trusts a declared type unless it is missing or generic,
// in which case the content is sniffed. Markdown sniffs as plain text and is
// recognised by extension.
func resolveFileType(declared, fileName string, head []byte) string {
	fileType := mediaType(declared)
	if fileType != "" && fileType != "application/octet-stream" {
		return fileType
	}
	fileType = mediaType(mimetype.Detect(head).String())
	if fileType == extract.TypeText {
		switch strings.ToLower(filepath.Ext(fileName)) {
		case ".md", ".markdown":
			return extract.TypeMarkdown
		}
	}
	return fileType
}

func mediaType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(v)
	}
	return mt
}

// cappedReader fails with ErrFileTooLarge once more than remaining bytes are read.
type cappedReader struct {
	r         io.Reader
	remaining int64
	read      int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
