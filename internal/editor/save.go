package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"spa-cms/internal/section"
	"spa-cms/internal/sections"
)

var (
	ErrInvalid         = errors.New("validation failed")
	ErrRejected        = errors.New("rejected by backend")
	ErrSaveFailed      = errors.New("save failed")
	ErrPayloadConflict = errors.New("payload key written by two sections")
)

// SaveError describes a Save that did not persist. Reason is one of
// ErrInvalid, ErrRejected or ErrSaveFailed.
type SaveError struct {
	Reason error
	Errors []section.ValidationError
	Err    error
	order  []string
}

func (e *SaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %d errors", e.Reason, len(e.Errors))
}

func (e *SaveError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}

// Groups returns the errors grouped by section in tab order. Form-level
// errors come last under an empty section key.
func (e *SaveError) Groups() []section.Group {
	return section.GroupErrors(e.Errors, e.order)
}

type SaveResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Save validates every active section and, only if none reports an error,
// assembles the payload and persists it. A successful save closes the host.
// On failure the host stays open for correction.
func (h *Host) Save(ctx context.Context) (*SaveResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	report := h.validate(ctx)
	if !report.Valid {
		h.log.Info("save blocked by validation", "errors", len(report.Errors))
		return nil, &SaveError{Reason: ErrInvalid, Errors: report.Errors, order: h.def.Keys()}
	}

	payload, err := h.assemble()
	if err != nil {
		return nil, &SaveError{Reason: ErrSaveFailed, Err: err, order: h.def.Keys()}
	}

	res := &SaveResult{ID: h.record.ID}
	if h.record.ID == "" {
		res.ID, err = h.gateway.Create(ctx, h.def.Kind, payload)
		res.Created = true
	} else {
		err = h.gateway.Update(ctx, h.def.Kind, h.record.ID, payload)
	}
	if err != nil {
		var fe FieldErrors
		if errors.As(err, &fe) {
			h.log.Info("save rejected", "fields", len(fe))
			return nil, &SaveError{Reason: ErrRejected, Errors: h.normalize(fe), Err: err, order: h.def.Keys()}
		}
		h.log.Error("save failed", "id", h.record.ID, "error", err)
		return nil, &SaveError{Reason: ErrSaveFailed, Err: err, order: h.def.Keys()}
	}

	h.record.ID = res.ID
	h.closed = true
	h.log.Info("record saved", "id", res.ID, "created", res.Created, "status", h.record.Status)
	return res, nil
}

// Payload returns the aggregate payload as Save would send it.
func (h *Host) Payload() (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.assemble()
}

// assemble merges every section's Data into one backend-shape object.
// Inline sections contribute their keys to the top level.
func (h *Host) assemble() (map[string]any, error) {
	payload := map[string]any{"status": string(h.record.Status)}
	for _, s := range h.sections {
		data := s.Data()
		key, inline := layout(s)
		if !inline {
			if _, taken := payload[key]; taken {
				return nil, fmt.Errorf("%w: %s", ErrPayloadConflict, key)
			}
			payload[key] = data
			continue
		}
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("section %s: inline data is %T", s.Key(), data)
		}
		for k, v := range obj {
			if _, taken := payload[k]; taken {
				return nil, fmt.Errorf("%w: %s", ErrPayloadConflict, k)
			}
			payload[k] = v
		}
	}
	return payload, nil
}

func layout(s section.Section) (key string, inline bool) {
	if sp, ok := s.(sections.Specced); ok {
		spec := sp.Spec()
		return spec.PayloadKey(), spec.Inline()
	}
	return s.Key(), false
}

func sliceFor(s section.Section, payload map[string]any) any {
	key, inline := layout(s)
	if inline {
		return payload
	}
	return payload[key]
}

// normalize maps backend field errors onto the sections owning their payload
// paths. Paths no section owns become form-level errors.
func (h *Host) normalize(fe FieldErrors) []section.ValidationError {
	type located struct {
		rank int
		err  section.ValidationError
	}
	paths := make([]string, 0, len(fe))
	for p := range fe {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []located
	for _, p := range paths {
		rank, owner := len(h.sections), ""
		for i, s := range h.sections {
			if owns(s, p) {
				rank, owner = i, s.Key()
				break
			}
		}
		for _, msg := range fe[p] {
			out = append(out, located{rank: rank, err: section.ValidationError{Section: owner, Field: p, Message: msg}})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank < out[j].rank })

	errs := make([]section.ValidationError, len(out))
	for i, l := range out {
		errs[i] = l.err
	}
	return errs
}

func owns(s section.Section, path string) bool {
	key, inline := layout(s)
	if inline {
		sp := s.(sections.Specced)
		return sp.Spec().OwnsPath(path)
	}
	return path == key || strings.HasPrefix(path, key+".")
}
