package template

import (
	"errors"
	"fmt"
)

// ErrTemplateNotFound matches every *NotFoundError
var ErrTemplateNotFound = errors.New("template not found")

// SourceError means a template source is missing or malformed. Scenarios
// cannot proceed past it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("template source %q: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NotFoundError means no entry matched a lookup. Existence probes expect it.
type NotFoundError struct {
	Source string
	Kind   Kind
	Key    string
	// Mapping is set when the miss happened in a shortcut table
	Mapping string
}

func (e *NotFoundError) Error() string {
	if e.Mapping != "" {
		return fmt.Sprintf("no %s entry %q in %s", e.Mapping, e.Key, e.Source)
	}
	return fmt.Sprintf("no %s template with %s %q in %s", e.Kind, e.Kind.KeyField(), e.Key, e.Source)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrTemplateNotFound
}

// IsNotFound reports whether err is, or wraps, a template lookup miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}
