package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
	"spa-cms/internal/section"
	"spa-cms/internal/sections"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrUnsupported    = errors.New("section does not support this operation")
	ErrClosed         = errors.New("editor is closed")
)

// Record is the aggregate being edited. Sections holds each section's
// latest backend-shape slice, keyed by tab key.
type Record struct {
	ID       string         `json:"id,omitempty"`
	Kind     string         `json:"kind"`
	Status   section.Status `json:"status"`
	Sections map[string]any `json:"sections"`
}

// Host owns one Record and the sections that edit it. All gestures are
// serialised by mu; sections write the Record only through the bound
// change callback, which runs under the same lock.
type Host struct {
	mu       sync.Mutex
	def      *Definition
	gateway  Gateway
	pipeline *imaging.Pipeline
	log      *logger.Logger

	record   Record
	sections []section.Section
	byKey    map[string]section.Section
	closed   bool
}

// NewHost builds a host in the add flow: every section starts from its
// defaults.
func NewHost(def *Definition, gw Gateway, pipeline *imaging.Pipeline, log *logger.Logger) (*Host, error) {
	if log == nil {
		log = logger.Nop()
	}
	h := &Host{
		def:      def,
		gateway:  gw,
		pipeline: pipeline,
		log:      log.With("kind", def.Kind),
		record: Record{
			Kind:     def.Kind,
			Status:   section.StatusDraft,
			Sections: make(map[string]any, len(def.Sections)),
		},
		byKey: make(map[string]section.Section, len(def.Sections)),
	}
	for _, spec := range def.Sections {
		s, err := sections.New(spec)
		if err != nil {
			return nil, err
		}
		if err := h.Register(s); err != nil {
			return nil, err
		}
	}
	if err := h.Verify(); err != nil {
		return nil, err
	}
	return h, nil
}

// Register adds a section and binds its change callback.
func (h *Host) Register(s section.Section) error {
	key := s.Key()
	if _, dup := h.byKey[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSection, key)
	}
	h.byKey[key] = s
	h.sections = append(h.sections, s)
	s.Bind(h.onChange)
	h.record.Sections[key] = s.Data()
	return nil
}

// Verify reports a tab of the definition that has no registered section.
func (h *Host) Verify() error {
	for _, key := range h.def.Keys() {
		if _, ok := h.byKey[key]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingSection, key)
		}
	}
	return nil
}

func (h *Host) onChange(key string, data any) {
	h.record.Sections[key] = data
}

func (h *Host) Kind() string { return h.def.Kind }

func (h *Host) Definition() *Definition { return h.def }

// Load switches the host to the edit flow: it fetches the record and
// hydrates every section with its slice without triggering change
// notifications.
func (h *Host) Load(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	payload, err := h.gateway.GetByID(ctx, h.def.Kind, id)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", h.def.Kind, id, err)
	}
	status, err := section.ParseStatus(stringValue(payload["status"]))
	if err != nil {
		return fmt.Errorf("load %s %s: %w", h.def.Kind, id, err)
	}

	for _, s := range h.sections {
		if err := s.Hydrate(sliceFor(s, payload)); err != nil {
			return fmt.Errorf("load %s %s: %w", h.def.Kind, id, err)
		}
		h.record.Sections[s.Key()] = s.Data()
	}
	h.record.ID = id
	h.record.Status = status
	h.log.Debug("record loaded", "id", id, "status", status)
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// Record returns a shallow copy of the aggregate.
func (h *Host) Record() Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.record
	out.Sections = make(map[string]any, len(h.record.Sections))
	for k, v := range h.record.Sections {
		out.Sections[k] = v
	}
	return out
}

func (h *Host) SetStatus(status string) error {
	st, err := section.ParseStatus(status)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.record.Status = st
	return nil
}

func (h *Host) env() section.Env {
	env := section.Env{Kind: h.def.Kind, RecordID: h.record.ID, Status: h.record.Status}
	if l, ok := h.gateway.(section.Lookup); ok {
		env.Lookup = l
	}
	return env
}

// Validate runs every active section through the aggregator.
func (h *Host) Validate(ctx context.Context) section.Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.validate(ctx)
}

func (h *Host) validate(ctx context.Context) section.Report {
	env := h.env()
	return section.ValidateAll(ctx, env, section.Active(env, h.sections))
}

// section looks up key; callers hold mu.
func (h *Host) section(key string) (section.Section, error) {
	if h.closed {
		return nil, ErrClosed
	}
	s, ok := h.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, key)
	}
	return s, nil
}

func (h *Host) SetValues(key string, values map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, err := h.section(key)
	if err != nil {
		return err
	}
	fe, ok := s.(sections.FieldEditor)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	return fe.SetValues(values)
}

func (h *Host) itemEditor(key string) (sections.ItemEditor, error) {
	s, err := h.section(key)
	if err != nil {
		return nil, err
	}
	ie, ok := s.(sections.ItemEditor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	return ie, nil
}

func (h *Host) AddItem(key string, values map[string]any) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ie, err := h.itemEditor(key)
	if err != nil {
		return "", err
	}
	return ie.AddItem(values)
}

func (h *Host) UpdateItem(key, id string, values map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ie, err := h.itemEditor(key)
	if err != nil {
		return err
	}
	return ie.UpdateItem(id, values)
}

func (h *Host) RemoveItem(key, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ie, err := h.itemEditor(key)
	if err != nil {
		return err
	}
	return ie.RemoveItem(id)
}

// ReorderItems completes the move, including position recompute, before
// the next gesture is accepted.
func (h *Host) ReorderItems(key, fromID, toID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ie, err := h.itemEditor(key)
	if err != nil {
		return err
	}
	return ie.ReorderItems(fromID, toID)
}

// SectionView is the editor-facing state of one tab.
type SectionView struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
	State  any    `json:"state"`
}

// View is a snapshot of the host for rendering.
type View struct {
	Record   Record        `json:"record"`
	Sections []SectionView `json:"sections"`
}

func (h *Host) View() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	env := h.env()
	out := View{Record: h.record, Sections: make([]SectionView, 0, len(h.sections))}
	out.Record.Sections = make(map[string]any, len(h.record.Sections))
	for k, v := range h.record.Sections {
		out.Record.Sections[k] = v
	}
	for _, s := range h.sections {
		sv := SectionView{Key: s.Key(), Active: section.IsActive(s, env), State: s.Data()}
		if spec, ok := h.def.Section(s.Key()); ok {
			sv.Title, sv.Type = spec.Title, spec.Type
		}
		if v, ok := s.(sections.Viewer); ok {
			sv.State = v.View()
		}
		out.Sections = append(out.Sections, sv)
	}
	return out
}
