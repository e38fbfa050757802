package sections

import (
	"fmt"
	"slices"

	"spa-cms/internal/imaging"
)

// valueSlot exposes one image field to the pipeline. Writes go through set,
// which notifies the host.
type valueSlot struct {
	field *Field
	get   func() any
	set   func(v any)
}

func (v *valueSlot) Spec() *imaging.CropSpec { return v.field.Crop }

func (v *valueSlot) Category() string { return v.field.Category }

func (v *valueSlot) URL() string {
	s, _ := v.get().(string)
	return s
}

func (v *valueSlot) SetURL(url string) {
	v.set(url)
}

func (v *valueSlot) URLs() []string {
	list, _ := v.get().([]string)
	return slices.Clone(list)
}

func (v *valueSlot) AppendURLs(urls ...string) {
	v.set(append(v.URLs(), urls...))
}

func imageField(spec *Spec, name string, want FieldType) (*Field, error) {
	f, ok := spec.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, spec.Key, name)
	}
	if f.Type != want {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrNotImageField, spec.Key, name, f.Type)
	}
	return f, nil
}
