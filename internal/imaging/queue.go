package imaging

import (
	"context"
	"errors"
)

var ErrQueueEmpty = errors.New("no queued image")

// Queue holds source files waiting for their crop dialog. Files are kept
// encoded; only the head is decoded, and only while it is being processed.
type Queue struct {
	files []File
}

func (q *Queue) Enqueue(files ...File) {
	q.files = append(q.files, files...)
}

// Head returns the file whose crop is currently pending.
func (q *Queue) Head() (File, bool) {
	if len(q.files) == 0 {
		return File{}, false
	}
	return q.files[0], true
}

func (q *Queue) Len() int {
	return len(q.files)
}

// Names lists the queued file names in submission order.
func (q *Queue) Names() []string {
	out := make([]string, len(q.files))
	for i, f := range q.files {
		out[i] = f.Name
	}
	return out
}

// Skip discards the head without uploading it.
func (q *Queue) Skip() bool {
	if len(q.files) == 0 {
		return false
	}
	q.files[0] = File{}
	q.files = q.files[1:]
	return true
}

// Clear discards every queued file.
func (q *Queue) Clear() {
	q.files = nil
}

// CropNext crops and uploads the head, appends its URL to slot and advances.
// A failed head stays queued so it can be retried with another rectangle or
// skipped.
func (q *Queue) CropNext(ctx context.Context, p *Pipeline, field string, slot ListSlot, r *Rect) error {
	head, ok := q.Head()
	if !ok {
		return &UploadError{Field: field, Err: ErrQueueEmpty}
	}
	file, err := p.prepare(head, slot.Spec(), r)
	if err != nil {
		return &UploadError{Field: field, Err: err}
	}
	url, err := p.uploadOne(ctx, file, slot.Category())
	if err != nil {
		return &UploadError{Field: field, Err: err}
	}
	slot.AppendURLs(url)
	q.Skip()
	return nil
}
