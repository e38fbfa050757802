// Package sections builds concrete editor sections from declarative specs.
package sections

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"spa-cms/internal/imaging"
	"spa-cms/internal/section"
)

const (
	KindFields     = "fields"
	KindCollection = "collection"

	// PayloadInline merges a section's fields into the top level of the
	// aggregate payload instead of nesting them under a key.
	PayloadInline = "inline"
)

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeRichText FieldType = "richtext"
	TypeNumber   FieldType = "number"
	TypeBool     FieldType = "bool"
	TypeSelect   FieldType = "select"
	TypeStrings  FieldType = "strings"
	TypeImage    FieldType = "image"
	TypeImages   FieldType = "images"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrInvalidValue   = errors.New("invalid value")
	ErrNotImageField  = errors.New("not an image field")
	ErrCropRequired   = errors.New("field has no crop spec")
	ErrCropNotAllowed = errors.New("field requires cropping")
)

// Field is one input of a section. Name is what the editor UI uses; Path is
// where the value lives in the backend payload and may be dotted for nested
// objects.
type Field struct {
	Name     string            `yaml:"name" json:"name"`
	Label    string            `yaml:"label" json:"label,omitempty"`
	Type     FieldType         `yaml:"type" json:"type"`
	Path     string            `yaml:"path" json:"path,omitempty"`
	Default  any               `yaml:"default" json:"default,omitempty"`
	Options  []string          `yaml:"options" json:"options,omitempty"`
	Crop     *imaging.CropSpec `yaml:"crop" json:"crop,omitempty"`
	Category string            `yaml:"category" json:"category,omitempty"`
}

func (f *Field) PayloadPath() string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

func (f *Field) IsImage() bool {
	return f.Type == TypeImage || f.Type == TypeImages
}

// CollectionSpec configures an ordered list section.
type CollectionSpec struct {
	PositionKey    string        `yaml:"position_key" json:"position_key"`
	Base           int           `yaml:"base" json:"base"`
	PartitionField string        `yaml:"partition_field" json:"partition_field,omitempty"`
	ItemRules      section.Rules `yaml:"item_rules" json:"item_rules,omitempty"`
}

// Spec declares one tab of an editor.
type Spec struct {
	Key        string          `yaml:"key" json:"key"`
	Title      string          `yaml:"title" json:"title"`
	Type       string          `yaml:"type" json:"type"`
	Payload    string          `yaml:"payload" json:"payload,omitempty"`
	ActiveWhen string          `yaml:"active_when" json:"active_when,omitempty"`
	Fields     []*Field        `yaml:"fields" json:"fields"`
	Rules      section.Rules   `yaml:"rules" json:"rules,omitempty"`
	Collection *CollectionSpec `yaml:"collection" json:"collection,omitempty"`

	activeWhen *vm.Program
	fieldMap   map[string]*Field
}

// PayloadKey is the top-level payload key owned by the section, or "" when
// the section is inline.
func (s *Spec) PayloadKey() string {
	if s.Payload == PayloadInline {
		return ""
	}
	if s.Payload != "" {
		return s.Payload
	}
	return s.Key
}

func (s *Spec) Inline() bool {
	return s.Payload == PayloadInline
}

func (s *Spec) Field(name string) (*Field, bool) {
	f, ok := s.fieldMap[name]
	return f, ok
}

// OwnsPath reports whether a top-level payload path belongs to this inline
// section.
func (s *Spec) OwnsPath(path string) bool {
	head, _, _ := strings.Cut(path, ".")
	for _, f := range s.Fields {
		fh, _, _ := strings.Cut(f.PayloadPath(), ".")
		if fh == head {
			return true
		}
	}
	return false
}

// Compile checks the spec and prepares its expressions and rules.
func (s *Spec) Compile() error {
	if s.Key == "" {
		return fmt.Errorf("section: key is required")
	}
	switch s.Type {
	case KindFields:
	case KindCollection:
		if s.Inline() {
			return fmt.Errorf("section %s: a collection cannot be inline", s.Key)
		}
		if s.Collection == nil {
			s.Collection = &CollectionSpec{}
		}
		if s.Collection.PositionKey == "" {
			s.Collection.PositionKey = "position"
		}
		if s.Collection.Base != 0 && s.Collection.Base != 1 {
			return fmt.Errorf("section %s: position base must be 0 or 1", s.Key)
		}
		if err := s.Collection.ItemRules.Compile(); err != nil {
			return fmt.Errorf("section %s: %w", s.Key, err)
		}
	default:
		return fmt.Errorf("section %s: unknown type %q", s.Key, s.Type)
	}

	s.fieldMap = make(map[string]*Field, len(s.Fields))
	for _, f := range s.Fields {
		if err := compileField(f); err != nil {
			return fmt.Errorf("section %s: %w", s.Key, err)
		}
		if _, dup := s.fieldMap[f.Name]; dup {
			return fmt.Errorf("section %s: duplicate field %s", s.Key, f.Name)
		}
		s.fieldMap[f.Name] = f
	}
	if s.Collection != nil && s.Collection.PartitionField != "" {
		if _, ok := s.fieldMap[s.Collection.PartitionField]; !ok {
			return fmt.Errorf("section %s: partition field %s is not declared", s.Key, s.Collection.PartitionField)
		}
	}

	if err := s.Rules.Compile(); err != nil {
		return fmt.Errorf("section %s: %w", s.Key, err)
	}
	if s.ActiveWhen != "" {
		prog, err := expr.Compile(s.ActiveWhen, expr.AsBool())
		if err != nil {
			return fmt.Errorf("section %s: compile active_when: %w", s.Key, err)
		}
		s.activeWhen = prog
	}
	return nil
}

func compileField(f *Field) error {
	if f.Name == "" {
		return fmt.Errorf("field name is required")
	}
	switch f.Type {
	case TypeString, TypeText, TypeRichText, TypeNumber, TypeBool, TypeStrings:
	case TypeSelect:
		if len(f.Options) == 0 {
			return fmt.Errorf("field %s: select needs options", f.Name)
		}
	case TypeImage, TypeImages:
		if f.Category == "" {
			return fmt.Errorf("field %s: image category is required", f.Name)
		}
		if f.Crop != nil {
			if err := f.Crop.Validate(); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	default:
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	if f.Default != nil {
		v, err := coerce(f, f.Default)
		if err != nil {
			return fmt.Errorf("field %s: default: %w", f.Name, err)
		}
		f.Default = v
	}
	return nil
}

// activeFor evaluates active_when. A failing expression keeps the section
// active so that it cannot silently skip validation.
func (s *Spec) activeFor(env section.Env) bool {
	if s.activeWhen == nil {
		return true
	}
	out, err := expr.Run(s.activeWhen, map[string]any{
		"status": string(env.Status),
		"kind":   env.Kind,
		"is_new": env.RecordID == "",
	})
	if err != nil {
		return true
	}
	ok, _ := out.(bool)
	return ok
}
