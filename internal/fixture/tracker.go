package fixture

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Resource identifies one provisioned resource
type Resource struct {
	Kind  template.Kind `json:"kind"`
	Scope string        `json:"scope,omitempty"`
	Key   string        `json:"key"`
}

func (r Resource) String() string {
	if r.Scope == "" {
		return fmt.Sprintf("%s/%s", r.Kind, r.Key)
	}
	return fmt.Sprintf("%s/%s/%s", r.Scope, r.Kind, r.Key)
}

// Tracker remembers the resources a workflow created so that they can be
// removed afterwards, whatever happened in between
type Tracker struct {
	session *provision.Session
	log     logr.Logger

	mu      sync.Mutex
	created []Resource
}

// NewTracker creates an empty Tracker
func NewTracker(session *provision.Session) *Tracker {
	return &Tracker{session: session, log: session.Logger().WithName("tracker")}
}

// Track records a created resource
func (t *Tracker) Track(kind template.Kind, scope, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created = append(t.created, Resource{Kind: kind, Scope: scope, Key: key})
}

// Resources returns the tracked resources in creation order
func (t *Tracker) Resources() []Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Resource, len(t.created))
	copy(out, t.created)
	return out
}

// Teardown deletes the tracked resources in reverse creation order. It keeps
// going after failures and returns them aggregated. Resources that are
// already gone do not count as failures.
func (t *Tracker) Teardown(ctx context.Context) error {
	t.mu.Lock()
	created := t.created
	t.created = nil
	t.mu.Unlock()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		res := created[i]
		p, err := t.session.For(res.Kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deleted, err := p.Delete(ctx, res.Scope, res.Key)
		if err != nil {
			errs = append(errs, fmt.Errorf("teardown of %s: %w", res, err))
			continue
		}
		t.log.V(1).Info("Removed fixture", "resource", res.String(), "deleted", deleted)
	}

	return utilerrors.NewAggregate(errs)
}
