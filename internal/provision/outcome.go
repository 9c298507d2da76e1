package provision

import (
	"encoding/json"
	"fmt"
)

// Outcome is the result of a successful Create
type Outcome int

const (
	// Created means the resource did not exist and was created
	Created Outcome = iota + 1
	// AlreadyExists means the server reported a conflict; nothing was changed
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalJSON writes the outcome as its name
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}
