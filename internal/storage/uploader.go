package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
)

var (
	ErrUnknownCategory = errors.New("unknown upload category")
	ErrFileTooLarge    = errors.New("file too large")
	ErrNotImage        = errors.New("file is not an image")
	ErrNoFiles         = errors.New("no files")
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Uploader is the category-bucketed upload service behind image fields and
// the bare /uploads route.
type Uploader struct {
	fs         FileStorage
	categories map[string]bool
	maxSize    int64
	publicBase string
	log        *logger.Logger
}

// NewUploader wraps fs. An empty categories list accepts any category; a
// maxSize of zero disables the size check.
func NewUploader(fs FileStorage, categories []string, maxSize int64, publicBase string, log *logger.Logger) *Uploader {
	if log == nil {
		log = logger.Nop()
	}
	u := &Uploader{
		fs:         fs,
		maxSize:    maxSize,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		log:        log.With("component", "uploads"),
	}
	if len(categories) > 0 {
		u.categories = make(map[string]bool, len(categories))
		for _, c := range categories {
			u.categories[c] = true
		}
	}
	return u
}

// UploadImages stores every file under category and returns their public
// URLs in order. It is all or nothing: when one file fails, files already
// stored by this call are removed again.
func (u *Uploader) UploadImages(ctx context.Context, files []imaging.File, category string) ([]imaging.Uploaded, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if err := u.checkCategory(category); err != nil {
		return nil, err
	}
	exts := make([]string, len(files))
	for i, f := range files {
		ext, err := u.checkFile(f)
		if err != nil {
			return nil, err
		}
		exts[i] = ext
	}

	stored := make([]string, 0, len(files))
	out := make([]imaging.Uploaded, 0, len(files))
	for i, f := range files {
		p, err := u.fs.Save(ctx, category, uuid.New().String(), fileName(f.Name, exts[i]), bytes.NewReader(f.Data))
		if err != nil {
			u.rollback(ctx, stored)
			u.log.Warn("upload failed", "category", category, "file", f.Name, "error", err)
			return nil, fmt.Errorf("store %s: %w", f.Name, err)
		}
		stored = append(stored, p)
		out = append(out, imaging.Uploaded{URL: u.publicBase + "/" + p})
	}
	u.log.Info("files uploaded", "category", category, "count", len(out))
	return out, nil
}

func (u *Uploader) Storage() FileStorage { return u.fs }

func (u *Uploader) checkCategory(category string) error {
	if category == "" || strings.ContainsAny(category, `/\.`) {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if u.categories != nil && !u.categories[category] {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return nil
}

// checkFile sniffs the content and returns the extension to store it under.
// The client's declared type and file name are not trusted.
func (u *Uploader) checkFile(f imaging.File) (string, error) {
	if u.maxSize > 0 && int64(len(f.Data)) > u.maxSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, f.Name, len(f.Data), u.maxSize)
	}
	ct := http.DetectContentType(f.Data)
	ext, ok := imageTypes[ct]
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrNotImage, f.Name, ct)
	}
	return ext, nil
}

func (u *Uploader) rollback(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := u.fs.Delete(ctx, p); err != nil {
			u.log.Warn("rollback delete failed", "path", p, "error", err)
		}
	}
}

func fileName(name, ext string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.Trim(unsafeName.ReplaceAllString(name, "-"), ".-")
	if name == "" {
		name = "image"
	}
	return name + ext
}

var _ imaging.Uploader = (*Uploader)(nil)
