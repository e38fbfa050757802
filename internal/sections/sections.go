package sections

import (
	"fmt"

	"spa-cms/internal/imaging"
	"spa-cms/internal/section"
)

// FieldEditor accepts field edits.
type FieldEditor interface {
	SetValues(values map[string]any) error
}

// ItemEditor accepts collection gestures.
type ItemEditor interface {
	AddItem(values map[string]any) (string, error)
	UpdateItem(id string, values map[string]any) error
	RemoveItem(id string) error
	ReorderItems(fromID, toID string) error
}

// ImageHolder exposes image fields to the upload pipeline. itemID is empty
// for flat sections.
type ImageHolder interface {
	ImageSlot(field, itemID string) (imaging.Slot, error)
	ImageList(field, itemID string) (imaging.ListSlot, *imaging.Queue, error)
}

// Viewer renders the editor-facing state of a section.
type Viewer interface {
	View() any
}

// Specced sections were built from a declarative spec.
type Specced interface {
	Spec() *Spec
}

// New builds the section described by spec. spec must be compiled.
func New(spec *Spec) (section.Section, error) {
	switch spec.Type {
	case KindFields:
		return NewFields(spec), nil
	case KindCollection:
		if spec.Collection == nil {
			return nil, fmt.Errorf("section %s: spec is not compiled", spec.Key)
		}
		return NewCollection(spec), nil
	}
	return nil, fmt.Errorf("section %s: unknown type %q", spec.Key, spec.Type)
}

var (
	_ section.Section     = (*FieldsSection)(nil)
	_ section.Conditional = (*FieldsSection)(nil)
	_ FieldEditor         = (*FieldsSection)(nil)
	_ ImageHolder         = (*FieldsSection)(nil)
	_ section.Section     = (*CollectionSection)(nil)
	_ section.Conditional = (*CollectionSection)(nil)
	_ ItemEditor          = (*CollectionSection)(nil)
	_ ImageHolder         = (*CollectionSection)(nil)
)
