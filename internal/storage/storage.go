package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"spa-cms/internal/config"
	"spa-cms/internal/logger"
)

// FileStorage abstracts file persistence. Local disk or a GCS bucket.
type FileStorage interface {
	// Save persists file content under category and returns the storage path
	// (used for retrieval, deletion and the public URL).
	Save(ctx context.Context, category, fileID, filename string, reader io.Reader) (storagePath string, err error)
	// Open returns a reader for the stored file.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	// Delete removes the file from storage.
	Delete(ctx context.Context, storagePath string) error
}

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (FileStorage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath), nil
	case "gcs":
		return NewGCSStorage(ctx, cfg.Bucket, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// imageTypes maps every servable content type to its stored extension.
var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ContentType returns the image type for a storage key by extension, or ""
// for anything that is not one of the stored image types.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(strings.TrimSpace(key))) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}
