package provision

import (
	"errors"
	"fmt"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Stage names the step of a create operation that failed
type Stage string

const (
	StageValidate   Stage = "validate"
	StageCreate     Stage = "create"
	StageLookup     Stage = "lookup"
	StageCredential Stage = "credential"
	StageLink       Stage = "link"
	StageDelete     Stage = "delete"
	StageUpdate     Stage = "update"
)

// ProvisionError is any failure other than "already exists". It aborts the
// workflow that triggered it.
type ProvisionError struct {
	Kind  template.Kind
	Key   string
	Stage Stage
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision %s %q (%s): %v", e.Kind, e.Key, e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// IsProvisionError reports whether err is, or wraps, a *ProvisionError
func IsProvisionError(err error) bool {
	var pe *ProvisionError
	return errors.As(err, &pe)
}

func provisionErr(kind template.Kind, key string, stage Stage, err error) error {
	return &ProvisionError{Kind: kind, Key: key, Stage: stage, Err: err}
}
