package section

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ValidateAll runs Validate on every section concurrently and waits for all
// of them; it never stops at the first failure. Errors are concatenated in the
// order the sections were given. Callers exclude inactive sections first (see
// Active).
func ValidateAll(ctx context.Context, env Env, sections []Section) Report {
	results := make([]Result, len(sections))
	order := make([]string, len(sections))

	var g errgroup.Group
	for i, s := range sections {
		order[i] = s.Key()
		g.Go(func() error {
			results[i] = validateOne(ctx, env, s)
			return nil
		})
	}
	_ = g.Wait()

	var merged []ValidationError
	for i, res := range results {
		for _, e := range res.Errors {
			if e.Section == "" {
				e.Section = order[i]
			}
			merged = append(merged, e)
		}
	}
	return Report{Valid: len(merged) == 0, Errors: merged, order: order}
}

// Active filters sections down to those that take part in validation for env.
func Active(env Env, sections []Section) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if IsActive(s, env) {
			out = append(out, s)
		}
	}
	return out
}

func validateOne(ctx context.Context, env Env, s Section) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = NewResult([]ValidationError{{
				Section: s.Key(),
				Message: fmt.Sprintf("validation failed: %v", r),
			}})
		}
	}()
	res = s.Validate(ctx, env)
	if !res.Valid && len(res.Errors) == 0 {
		res.Errors = []ValidationError{{Section: s.Key(), Message: "section is invalid"}}
	}
	return res
}
