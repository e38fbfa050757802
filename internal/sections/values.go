package sections

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"spa-cms/internal/section"
)

var richText = bluemonday.UGCPolicy()

// zero returns the type-correct empty value of a field, or its declared
// default.
func zero(f *Field) any {
	if f.Default != nil {
		return clone(f.Default)
	}
	switch f.Type {
	case TypeNumber:
		return float64(0)
	case TypeBool:
		return false
	case TypeStrings, TypeImages:
		return []string{}
	default:
		return ""
	}
}

func clone(v any) any {
	if list, ok := v.([]string); ok {
		return slices.Clone(list)
	}
	return v
}

func finite(f *Field, n float64) (any, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%w: %s expects a finite number", ErrInvalidValue, f.Name)
	}
	return n, nil
}

// coerce converts raw into the canonical Go type of the field: string,
// float64, bool or []string.
func coerce(f *Field, raw any) (any, error) {
	if raw == nil {
		return zero(f), nil
	}
	switch f.Type {
	case TypeString, TypeText, TypeRichText, TypeImage:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects text, got %T", ErrInvalidValue, f.Name, raw)
		}
		return s, nil

	case TypeSelect:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects text, got %T", ErrInvalidValue, f.Name, raw)
		}
		if s != "" && !slices.Contains(f.Options, s) {
			return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, f.Name, strings.Join(f.Options, ", "))
		}
		return s, nil

	case TypeNumber:
		if n, ok := section.ToFloat64(raw); ok {
			return finite(f, n)
		}
		if s, ok := raw.(string); ok {
			if strings.TrimSpace(s) == "" {
				return float64(0), nil
			}
			n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expects a number", ErrInvalidValue, f.Name)
			}
			return finite(f, n)
		}
		return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrInvalidValue, f.Name, raw)

	case TypeBool:
		switch b := raw.(type) {
		case bool:
			return b, nil
		case string:
			v, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expects true or false", ErrInvalidValue, f.Name)
			}
			return v, nil
		}
		return nil, fmt.Errorf("%w: %s expects a boolean, got %T", ErrInvalidValue, f.Name, raw)

	case TypeStrings, TypeImages:
		switch list := raw.(type) {
		case []string:
			return slices.Clone(list), nil
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s expects a list of text", ErrInvalidValue, f.Name)
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: %s expects a list, got %T", ErrInvalidValue, f.Name, raw)
	}
	return nil, fmt.Errorf("%w: %s has unknown type", ErrInvalidValue, f.Name)
}

// hydrateValue reads a stored value, falling back to the field default when
// the stored value is missing or of the wrong type.
func hydrateValue(f *Field, raw any, present bool) any {
	if !present {
		return zero(f)
	}
	v, err := coerce(f, raw)
	if err != nil {
		return zero(f)
	}
	return v
}

// inputValue converts a user edit. Rich text is sanitized.
func inputValue(f *Field, raw any) (any, error) {
	v, err := coerce(f, raw)
	if err != nil {
		return nil, err
	}
	if f.Type == TypeRichText {
		v = richText.Sanitize(v.(string))
	}
	return v, nil
}

// readFields pulls every field out of a backend-shape object.
func readFields(fields []*Field, src map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		raw, ok := getPath(src, f.PayloadPath())
		out[f.Name] = hydrateValue(f, raw, ok)
	}
	return out
}

// writeFields builds the backend-shape object for values.
func writeFields(fields []*Field, values map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			v = zero(f)
		}
		setPath(out, f.PayloadPath(), clone(v))
	}
	return out
}

func defaults(fields []*Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Name] = zero(f)
	}
	return out
}

func getPath(m map[string]any, path string) (any, bool) {
	cur := m
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func asObject(snapshot any) (map[string]any, error) {
	switch v := snapshot.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}
	return nil, fmt.Errorf("%w: expected an object, got %T", ErrInvalidValue, snapshot)
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = clone(v)
	}
	return out
}
