package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// Gateway persists aggregate payloads. Payloads are backend shape: snake_case
// keys with nested sub-objects.
type Gateway interface {
	Create(ctx context.Context, kind string, payload map[string]any) (string, error)
	Update(ctx context.Context, kind, id string, payload map[string]any) error
	GetByID(ctx context.Context, kind, id string) (map[string]any, error)
}

// FieldErrors is a backend rejection keyed by payload path.
type FieldErrors map[string][]string

func (fe FieldErrors) Error() string {
	paths := make([]string, 0, len(fe))
	for p := range fe {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, fmt.Sprintf("%s: %s", p, strings.Join(fe[p], "; ")))
	}
	return "rejected fields: " + strings.Join(parts, ", ")
}
