// Package section defines the contract every editor section implements and
// the aggregator that validates a set of sections as one unit.
package section

import (
	"context"
	"errors"
	"fmt"
)

// Status gates how strictly a record is validated.
type Status string

const (
	StatusDraft Status = "draft"
	StatusLive  Status = "live"
)

var ErrInvalidStatus = errors.New("invalid status")

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusDraft, StatusLive:
		return Status(s), nil
	case "":
		return StatusDraft, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Lookup answers questions that need the backing store, such as whether a
// value is already used by another record.
type Lookup interface {
	ValueTaken(ctx context.Context, kind, field, value, excludeID string) (bool, error)
}

// Env is what a section may know about the record while validating.
type Env struct {
	Kind     string
	RecordID string
	Status   Status
	Lookup   Lookup
}

// ChangeFunc receives the normalised payload slice of a section after a
// user-driven mutation.
type ChangeFunc func(key string, data any)

// Section is one independently developed sub-form of an editor.
//
// Hydrate pushes a stored snapshot into the section without notifying the
// bound ChangeFunc. Every other mutation a section offers must notify it.
type Section interface {
	Key() string
	Validate(ctx context.Context, env Env) Result
	Data() any
	Hydrate(snapshot any) error
	Bind(fn ChangeFunc)
}

// Conditional sections may drop out of validation for some records, for
// example sections that only matter once a record goes live.
type Conditional interface {
	ActiveFor(env Env) bool
}

// IsActive reports whether s takes part in validation for env.
func IsActive(s Section, env Env) bool {
	c, ok := s.(Conditional)
	if !ok {
		return true
	}
	return c.ActiveFor(env)
}

// Base carries the key and change binding shared by concrete sections.
type Base struct {
	key    string
	notify ChangeFunc
}

func NewBase(key string) Base {
	return Base{key: key}
}

func (b *Base) Key() string { return b.key }

func (b *Base) Bind(fn ChangeFunc) { b.notify = fn }

// Emit propagates data to the bound ChangeFunc, if any.
func (b *Base) Emit(data any) {
	if b.notify != nil {
		b.notify(b.key, data)
	}
}
