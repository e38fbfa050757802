package section

// ValidationError is one user-input problem. It is returned as data and
// never persisted.
type ValidationError struct {
	Section string `json:"section"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result is what a single section reports.
type Result struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func NewResult(errs []ValidationError) Result {
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func Ok() Result {
	return Result{Valid: true}
}

// Group is the errors of one section.
type Group struct {
	Section string            `json:"section"`
	Errors  []ValidationError `json:"errors"`
}

// Report is the merged outcome of validating several sections.
type Report struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
	order  []string
}

// Groups returns the errors grouped by section, in section-declaration
// order. Sections without errors are omitted.
func (r Report) Groups() []Group {
	return GroupErrors(r.Errors, r.order)
}

// GroupErrors groups errs by section. Sections named in order come first in
// that order; any other section follows in order of first appearance.
func GroupErrors(errs []ValidationError, order []string) []Group {
	if len(errs) == 0 {
		return nil
	}
	byKey := make(map[string][]ValidationError)
	var seen []string
	for _, e := range errs {
		if _, ok := byKey[e.Section]; !ok {
			seen = append(seen, e.Section)
		}
		byKey[e.Section] = append(byKey[e.Section], e)
	}

	groups := make([]Group, 0, len(byKey))
	used := make(map[string]bool, len(byKey))
	for _, key := range order {
		if list, ok := byKey[key]; ok && !used[key] {
			groups = append(groups, Group{Section: key, Errors: list})
			used[key] = true
		}
	}
	for _, key := range seen {
		if !used[key] {
			groups = append(groups, Group{Section: key, Errors: byKey[key]})
			used[key] = true
		}
	}
	return groups
}
