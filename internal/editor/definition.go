package editor

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"spa-cms/internal/sections"
)

//go:embed definitions/*.yaml
var builtin embed.FS

var (
	ErrUnknownKind      = errors.New("unknown editor kind")
	ErrDuplicateSection = errors.New("duplicate section")
	ErrMissingSection   = errors.New("missing section")
)

// Definition declares an editor: its record kind and its ordered tabs.
type Definition struct {
	Kind      string           `yaml:"kind" json:"kind"`
	Title     string           `yaml:"title" json:"title"`
	SlugField string           `yaml:"slug_field" json:"slug_field,omitempty"`
	Sections  []*sections.Spec `yaml:"sections" json:"sections"`
}

// Compile checks that tab keys and payload keys are unique and compiles
// every section spec.
func (d *Definition) Compile() error {
	if d.Kind == "" {
		return fmt.Errorf("definition: kind is required")
	}
	keys := make(map[string]bool, len(d.Sections))
	payloadKeys := map[string]string{"status": "status"}
	for _, spec := range d.Sections {
		if err := spec.Compile(); err != nil {
			return fmt.Errorf("%s: %w", d.Kind, err)
		}
		if keys[spec.Key] {
			return fmt.Errorf("%s: %w %s", d.Kind, ErrDuplicateSection, spec.Key)
		}
		keys[spec.Key] = true

		var owned []string
		if spec.Inline() {
			for _, f := range spec.Fields {
				head, _, _ := strings.Cut(f.PayloadPath(), ".")
				owned = append(owned, head)
			}
		} else {
			owned = []string{spec.PayloadKey()}
		}
		for _, k := range owned {
			if other, ok := payloadKeys[k]; ok && other != spec.Key {
				return fmt.Errorf("%s: payload key %q used by %s and %s", d.Kind, k, other, spec.Key)
			}
			payloadKeys[k] = spec.Key
		}
	}
	return nil
}

// Keys returns the tab keys in declaration order.
func (d *Definition) Keys() []string {
	out := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		out[i] = s.Key
	}
	return out
}

func (d *Definition) Section(key string) (*sections.Spec, bool) {
	for _, s := range d.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return nil, false
}

// Registry holds the compiled editor definitions. It is read-only after
// loading.
type Registry struct {
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// LoadRegistry parses the definitions shipped with the binary.
func LoadRegistry() (*Registry, error) {
	return ParseDefinitions(builtin, "definitions")
}

// ParseDefinitions reads every *.yaml file under dir.
func ParseDefinitions(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	reg := NewRegistry()
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if err := reg.Add(&def); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return reg, nil
}

// Add compiles and registers def.
func (r *Registry) Add(def *Definition) error {
	if err := def.Compile(); err != nil {
		return err
	}
	if _, ok := r.defs[def.Kind]; ok {
		return fmt.Errorf("editor %s registered twice", def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

func (r *Registry) Get(kind string) (*Definition, error) {
	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return def, nil
}

// List returns the definitions sorted by kind.
func (r *Registry) List() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// SlugFields maps each kind to the payload path holding its slug.
func (r *Registry) SlugFields() map[string]string {
	out := make(map[string]string)
	for kind, d := range r.defs {
		if d.SlugField != "" {
			out[kind] = d.SlugField
		}
	}
	return out
}
