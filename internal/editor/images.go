package editor

import (
	"context"
	"fmt"

	"spa-cms/internal/imaging"
	"spa-cms/internal/sections"
)

func (h *Host) imageHolder(key string) (sections.ImageHolder, error) {
	s, err := h.section(key)
	if err != nil {
		return nil, err
	}
	ih, ok := s.(sections.ImageHolder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	return ih, nil
}

// UploadImage crops file to the field's spec and uploads it. The field keeps
// its previous URL when anything fails.
func (h *Host) UploadImage(ctx context.Context, key, field, itemID string, file imaging.File, r *imaging.Rect) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ih, err := h.imageHolder(key)
	if err != nil {
		return err
	}
	slot, err := ih.ImageSlot(field, itemID)
	if err != nil {
		return err
	}
	if err := h.pipeline.Process(ctx, field, slot, file, r); err != nil {
		h.log.Warn("image upload failed", "section", key, "field", field, "error", err)
		return err
	}
	return nil
}

func (h *Host) imageList(key, field, itemID string) (imaging.ListSlot, *imaging.Queue, error) {
	ih, err := h.imageHolder(key)
	if err != nil {
		return nil, nil, err
	}
	return ih.ImageList(field, itemID)
}

// EnqueueImages queues files for the crop dialog of a multi-image field and
// returns the pending file names.
func (h *Host) EnqueueImages(key, field, itemID string, files []imaging.File) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, q, err := h.imageList(key, field, itemID)
	if err != nil {
		return nil, err
	}
	if slot.Spec() == nil {
		return nil, fmt.Errorf("%w: %s.%s", sections.ErrCropRequired, key, field)
	}
	q.Enqueue(files...)
	return q.Names(), nil
}

// CropNext processes the head of the queue and returns the names still
// pending.
func (h *Host) CropNext(ctx context.Context, key, field, itemID string, r *imaging.Rect) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, q, err := h.imageList(key, field, itemID)
	if err != nil {
		return nil, err
	}
	if err := q.CropNext(ctx, h.pipeline, field, slot, r); err != nil {
		h.log.Warn("queued image failed", "section", key, "field", field, "error", err)
		return q.Names(), err
	}
	return q.Names(), nil
}

// SkipNext drops the head of the queue without uploading it.
func (h *Host) SkipNext(key, field, itemID string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, q, err := h.imageList(key, field, itemID)
	if err != nil {
		return nil, err
	}
	if !q.Skip() {
		return nil, &imaging.UploadError{Field: field, Err: imaging.ErrQueueEmpty}
	}
	return q.Names(), nil
}

// UploadRaw uploads files without cropping to a field that has no crop spec.
func (h *Host) UploadRaw(ctx context.Context, key, field, itemID string, files []imaging.File) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, _, err := h.imageList(key, field, itemID)
	if err != nil {
		return err
	}
	if slot.Spec() != nil {
		return fmt.Errorf("%w: %s.%s", sections.ErrCropNotAllowed, key, field)
	}
	if err := h.pipeline.UploadRaw(ctx, field, slot, files); err != nil {
		h.log.Warn("raw upload failed", "section", key, "field", field, "error", err)
		return err
	}
	return nil
}
