package sections

import (
	"context"
	"fmt"

	"spa-cms/internal/imaging"
	"spa-cms/internal/section"
)

// FieldsSection is a flat form of named fields.
type FieldsSection struct {
	section.Base
	spec   *Spec
	values map[string]any
	queues map[string]*imaging.Queue
}

func NewFields(spec *Spec) *FieldsSection {
	return &FieldsSection{
		Base:   section.NewBase(spec.Key),
		spec:   spec,
		values: defaults(spec.Fields),
		queues: make(map[string]*imaging.Queue),
	}
}

func (s *FieldsSection) Spec() *Spec { return s.spec }

func (s *FieldsSection) ActiveFor(env section.Env) bool {
	return s.spec.activeFor(env)
}

func (s *FieldsSection) Validate(ctx context.Context, env section.Env) section.Result {
	errs := s.spec.Rules.Evaluate(ctx, env, s.Key(), "", s.values)
	return section.NewResult(errs)
}

func (s *FieldsSection) Data() any {
	return writeFields(s.spec.Fields, s.values)
}

func (s *FieldsSection) Hydrate(snapshot any) error {
	obj, err := asObject(snapshot)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", s.Key(), err)
	}
	s.values = readFields(s.spec.Fields, obj)
	for _, q := range s.queues {
		q.Clear()
	}
	return nil
}

// SetValues applies a user edit. Either every value is accepted or none is.
func (s *FieldsSection) SetValues(values map[string]any) error {
	next := copyValues(s.values)
	for name, raw := range values {
		f, ok := s.spec.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Key(), name)
		}
		v, err := inputValue(f, raw)
		if err != nil {
			return err
		}
		next[name] = v
	}
	s.values = next
	s.Emit(s.Data())
	return nil
}

// Values returns a copy of the UI-shape values.
func (s *FieldsSection) Values() map[string]any {
	return copyValues(s.values)
}

func (s *FieldsSection) View() any {
	return map[string]any{"values": s.Values()}
}

func (s *FieldsSection) ImageSlot(field, itemID string) (imaging.Slot, error) {
	f, err := imageField(s.spec, field, TypeImage)
	if err != nil {
		return nil, err
	}
	return &valueSlot{
		field: f,
		get:   func() any { return s.values[f.Name] },
		set: func(v any) {
			s.values[f.Name] = v
			s.Emit(s.Data())
		},
	}, nil
}

func (s *FieldsSection) ImageList(field, itemID string) (imaging.ListSlot, *imaging.Queue, error) {
	f, err := imageField(s.spec, field, TypeImages)
	if err != nil {
		return nil, nil, err
	}
	q, ok := s.queues[f.Name]
	if !ok {
		q = &imaging.Queue{}
		s.queues[f.Name] = q
	}
	return &valueSlot{
		field: f,
		get:   func() any { return s.values[f.Name] },
		set: func(v any) {
			s.values[f.Name] = v
			s.Emit(s.Data())
		},
	}, q, nil
}
