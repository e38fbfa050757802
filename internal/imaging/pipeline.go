package imaging

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNoURL          = errors.New("upload returned no url")
	ErrSourceTooLarge = errors.New("source image too large")
)

// File is one upload payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploaded is the upload collaborator's answer for one file.
type Uploaded struct {
	URL string `json:"url"`
}

// Uploader stores files under a category and returns their public URLs, one
// per file, in order.
type Uploader interface {
	UploadImages(ctx context.Context, files []File, category string) ([]Uploaded, error)
}

// Slot is a single URL-valued image field.
type Slot interface {
	Spec() *CropSpec
	Category() string
	URL() string
	SetURL(url string)
}

// ListSlot is an image field holding several URLs.
type ListSlot interface {
	Spec() *CropSpec
	Category() string
	URLs() []string
	AppendURLs(urls ...string)
}

// UploadError is surfaced to the affected field only.
type UploadError struct {
	Field string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("image %s: %v", e.Field, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Limits bound the source files the pipeline accepts before decoding.
type Limits struct {
	MaxSourceBytes int64 // zero disables the check
	MaxPixels      int   // zero means DefaultMaxPixels
}

// Pipeline turns raw images into exact-size assets and uploads them.
type Pipeline struct {
	uploader Uploader
	limits   Limits
}

func NewPipeline(u Uploader) *Pipeline {
	return &Pipeline{uploader: u, limits: Limits{MaxPixels: DefaultMaxPixels}}
}

// WithLimits replaces the source limits and returns p.
func (p *Pipeline) WithLimits(l Limits) *Pipeline {
	if l.MaxPixels <= 0 {
		l.MaxPixels = DefaultMaxPixels
	}
	p.limits = l
	return p
}

// Process crops raw to the slot's spec, uploads the result and replaces the
// slot URL. On any failure the slot is left untouched.
func (p *Pipeline) Process(ctx context.Context, field string, slot Slot, src File, r *Rect) error {
	file, err := p.prepare(src, slot.Spec(), r)
	if err != nil {
		return &UploadError{Field: field, Err: err}
	}
	url, err := p.uploadOne(ctx, file, slot.Category())
	if err != nil {
		return &UploadError{Field: field, Err: err}
	}
	slot.SetURL(url)
	return nil
}

// UploadRaw uploads files unmodified and appends the returned URLs to the
// slot. Either all URLs are appended or none are.
func (p *Pipeline) UploadRaw(ctx context.Context, field string, slot ListSlot, files []File) error {
	if len(files) == 0 {
		return nil
	}
	res, err := p.uploader.UploadImages(ctx, files, slot.Category())
	if err != nil {
		return &UploadError{Field: field, Err: err}
	}
	if len(res) != len(files) {
		return &UploadError{Field: field, Err: fmt.Errorf("expected %d urls, got %d", len(files), len(res))}
	}
	urls := make([]string, 0, len(res))
	for _, u := range res {
		if strings.TrimSpace(u.URL) == "" {
			return &UploadError{Field: field, Err: ErrNoURL}
		}
		urls = append(urls, u.URL)
	}
	slot.AppendURLs(urls...)
	return nil
}

func (p *Pipeline) prepare(src File, spec *CropSpec, r *Rect) (File, error) {
	if limit := p.limits.MaxSourceBytes; limit > 0 && int64(len(src.Data)) > limit {
		return File{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrSourceTooLarge, src.Name, len(src.Data), limit)
	}
	if spec == nil {
		return src, nil
	}
	out, err := cropToSpec(src.Data, r, *spec, p.limits.MaxPixels)
	if err != nil {
		return File{}, err
	}
	return File{
		Name:        pngName(src.Name),
		ContentType: "image/png",
		Data:        out,
	}, nil
}

func (p *Pipeline) uploadOne(ctx context.Context, f File, category string) (string, error) {
	res, err := p.uploader.UploadImages(ctx, []File{f}, category)
	if err != nil {
		return "", err
	}
	if len(res) == 0 || strings.TrimSpace(res[0].URL) == "" {
		return "", ErrNoURL
	}
	return res[0].URL, nil
}

func pngName(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + ".png"
}
