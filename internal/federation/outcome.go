package federation

import (
	"context"
	"errors"
	"fmt"
)

// State is the result of an identity-brokering flow as seen by a fixture.
// The flow itself runs in Keycloak; fixtures only set up its preconditions
// and check what it left behind.
type State int

const (
	NoLink State = iota
	AutoLinked
	ManuallyLinkedPendingConfirmation
	ManuallyLinkedConfirmed
	Overridden
	Rejected
)

func (s State) String() string {
	switch s {
	case NoLink:
		return "NoLink"
	case AutoLinked:
		return "AutoLinked"
	case ManuallyLinkedPendingConfirmation:
		return "ManuallyLinkedPendingConfirmation"
	case ManuallyLinkedConfirmed:
		return "ManuallyLinkedConfirmed"
	case Overridden:
		return "Overridden"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RejectReason explains a Rejected outcome
type RejectReason string

const (
	ReasonUnverified        RejectReason = "Unverified"
	ReasonNotEligible       RejectReason = "NotEligible"
	ReasonExistingUsersOnly RejectReason = "ExistingUsersOnly"
)

// Outcome is an expected linking outcome. Reason is only set for Rejected.
type Outcome struct {
	State  State
	Reason RejectReason
}

// Reject builds a Rejected outcome
func Reject(reason RejectReason) Outcome {
	return Outcome{State: Rejected, Reason: reason}
}

func (o Outcome) String() string {
	if o.State == Rejected && o.Reason != "" {
		return fmt.Sprintf("Rejected(%s)", o.Reason)
	}
	return o.State.String()
}

// Linked reports whether the outcome leaves a link behind. Pending manual
// links are not confirmed yet, so Keycloak holds no link for them.
func (o Outcome) Linked() bool {
	switch o.State {
	case AutoLinked, ManuallyLinkedConfirmed, Overridden:
		return true
	}
	return false
}

// Observation is the link state of one user and alias as read from the server
type Observation struct {
	Username          string `json:"username"`
	Alias             string `json:"identityProvider"`
	Linked            bool   `json:"linked"`
	FederatedUserID   string `json:"federatedUserId,omitempty"`
	FederatedUsername string `json:"federatedUsername,omitempty"`
}

// Observe reads the current link state. A missing user observes as unlinked.
func (l *Linker) Observe(ctx context.Context, realm, username, alias string) (*Observation, error) {
	obs := &Observation{Username: username, Alias: alias}

	link, err := l.lookup(ctx, realm, username, alias)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return obs, nil
		}
		return nil, err
	}
	if link != nil {
		obs.Linked = true
		obs.FederatedUserID = link.UserID
		obs.FederatedUsername = link.UserName
	}
	return obs, nil
}

// Verify checks an observation against the expected outcome. previousID is
// the federated id captured before the flow ran; for Overridden the new id
// must be non-empty and differ from it.
func (obs *Observation) Verify(expected Outcome, previousID string) error {
	if obs.Linked != expected.Linked() {
		if obs.Linked {
			return fmt.Errorf("expected %s for %s/%s but user is linked to %q",
				expected, obs.Username, obs.Alias, obs.FederatedUserID)
		}
		return fmt.Errorf("expected %s for %s/%s but user is not linked", expected, obs.Username, obs.Alias)
	}

	if expected.State == Overridden {
		if obs.FederatedUserID == "" {
			return fmt.Errorf("expected %s for %s/%s but federated user id is empty", expected, obs.Username, obs.Alias)
		}
		if obs.FederatedUserID == previousID {
			return fmt.Errorf("expected %s for %s/%s but federated user id is still %q",
				expected, obs.Username, obs.Alias, previousID)
		}
	}
	return nil
}

// VerifyLinked checks only whether a link exists, whatever flow produced it
func (obs *Observation) VerifyLinked(want bool) error {
	switch {
	case want && !obs.Linked:
		return fmt.Errorf("expected %s/%s to be linked but user is not linked", obs.Username, obs.Alias)
	case !want && obs.Linked:
		return fmt.Errorf("expected %s/%s to be unlinked but user is linked to %q",
			obs.Username, obs.Alias, obs.FederatedUserID)
	}
	return nil
}
