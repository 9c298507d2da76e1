package fixture

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/profile"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Applier provisions plans through a session and records what it created
type Applier struct {
	session *provision.Session
	store   *template.Store
	tracker *Tracker
	log     logr.Logger
}

// NewApplier creates an Applier reading templates from store
func NewApplier(session *provision.Session, store *template.Store) *Applier {
	return &Applier{
		session: session,
		store:   store,
		tracker: NewTracker(session),
		log:     session.Logger().WithName("fixture"),
	}
}

// Tracker returns the tracker holding every resource this applier created
func (a *Applier) Tracker() *Tracker {
	return a.tracker
}

// lookup finds key in source, falling back to the kind's shortcut table
func (a *Applier) lookup(source string, kind template.Kind, key string) (*template.Template, error) {
	tmpl, err := a.store.FindByKey(source, kind, key)
	if template.IsNotFound(err) {
		if byShortcut, mErr := a.store.FindByMappingKey(source, kind, key); mErr == nil {
			return byShortcut, nil
		}
	}
	return tmpl, err
}

func (a *Applier) resolve(plan *Plan, kind template.Kind, key string, subs map[string]string) (*template.Resolved, error) {
	tmpl, err := a.lookup(plan.Source(kind), kind, key)
	if err != nil {
		return nil, err
	}
	r := template.Resolve(tmpl, subs)
	if left := r.Unresolved(); len(left) > 0 {
		a.log.Info("Template has unresolved placeholders", "kind", kind, "key", r.Key, "placeholders", left)
	}
	return r, nil
}

// Apply provisions the plan in order: realm, profile attributes, clients,
// identity providers, users. It stops at the first failure and returns the
// manifest built so far together with the error. Created resources stay
// tracked either way; call Tracker().Teardown to remove them.
func (a *Applier) Apply(ctx context.Context, plan *Plan) (*Manifest, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	m := &Manifest{BaseURL: a.session.API().BaseURL()}

	subs := plan.SubstitutionsFor(plan.Realm)
	realm, err := a.resolve(plan, template.KindRealm, plan.Realm, subs)
	if err != nil {
		return m, err
	}
	// a shortcut may have resolved to a different realm name
	subs[RealmNameKey] = realm.Key

	outcome, err := a.session.Realms.Create(ctx, "", realm)
	if err != nil {
		return m, err
	}
	a.track(outcome, template.KindRealm, "", realm.Key)
	m.Realm = RealmEntry{Name: realm.Key, Outcome: outcome}
	log := a.log.WithValues("realm", realm.Key)

	if plan.Profile != "" {
		names, err := a.applyProfile(ctx, plan, realm.Key)
		if err != nil {
			return m, err
		}
		m.ProfileAttributes = names
	}

	for _, key := range plan.Clients {
		r, err := a.resolve(plan, template.KindClient, key, subs)
		if err != nil {
			return m, err
		}
		outcome, err := a.session.Clients.Create(ctx, realm.Key, r)
		if err != nil {
			return m, err
		}
		a.track(outcome, template.KindClient, realm.Key, r.Key)

		uris, err := a.session.Clients.RedirectURIs(ctx, realm.Key, r.Key)
		if err != nil {
			return m, err
		}
		m.Clients = append(m.Clients, ClientEntry{ClientID: r.Key, Outcome: outcome, RedirectURIs: uris})
	}

	for _, key := range plan.IdentityProviders {
		r, err := a.resolve(plan, template.KindIdentityProvider, key, subs)
		if err != nil {
			return m, err
		}
		outcome, err := a.session.IdentityProviders.Create(ctx, realm.Key, r)
		if err != nil {
			return m, err
		}
		a.track(outcome, template.KindIdentityProvider, realm.Key, r.Key)
		m.IdentityProviders = append(m.IdentityProviders, IdentityProviderEntry{Alias: r.Key, Outcome: outcome})
	}

	for _, key := range plan.Users {
		r, err := a.resolve(plan, template.KindUser, key, subs)
		if err != nil {
			return m, err
		}
		outcome, err := a.session.Users.Create(ctx, realm.Key, r)
		if err != nil {
			return m, err
		}
		a.track(outcome, template.KindUser, realm.Key, r.Key)

		id, err := a.session.Users.ID(ctx, realm.Key, r.Key)
		if err != nil {
			return m, fmt.Errorf("failed to look up user %s: %w", r.Key, err)
		}
		links, err := a.session.Linker.Links(ctx, realm.Key, id)
		if err != nil {
			return m, err
		}
		m.Users = append(m.Users, UserEntry{Username: r.Key, ID: id, Outcome: outcome, Links: linkEntries(links)})
	}

	log.Info("Applied fixture plan",
		"clients", len(m.Clients), "identityProviders", len(m.IdentityProviders), "users", len(m.Users))
	return m, nil
}

func (a *Applier) track(outcome provision.Outcome, kind template.Kind, scope, key string) {
	if outcome == provision.Created {
		a.tracker.Track(kind, scope, key)
	}
}

// applyProfile merges the plan's profile attributes into realm. The profile
// entry is a profileMapping shortcut or a realm name in the profiles array.
func (a *Applier) applyProfile(ctx context.Context, plan *Plan, realm string) ([]string, error) {
	source := plan.ProfileSource()

	_, attrs, err := profile.AttributesByMappingKey(a.store, source, plan.Profile)
	if template.IsNotFound(err) {
		attrs, err = profile.AttributesFromSource(a.store, source, plan.Profile)
	}
	if err != nil {
		return nil, err
	}

	merger := a.session.Profiles
	if plan.LenientProfile {
		merger = profile.NewMerger(a.session.API(), a.log, profile.WithLenient())
	}
	if err := merger.MergeAttributes(ctx, realm, attrs); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		names = append(names, attr.Name())
	}
	return names, nil
}

// Removal is the result of deleting one planned resource
type Removal struct {
	Resource
	Deleted bool `json:"deleted"`
}

// Remove deletes every resource the plan names, whether or not this process
// created it: users, identity providers, clients, then the realm. Missing
// resources are reported with Deleted false. Failures are aggregated.
func (a *Applier) Remove(ctx context.Context, plan *Plan) ([]Removal, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	subs := plan.SubstitutionsFor(plan.Realm)
	realm, err := a.resolve(plan, template.KindRealm, plan.Realm, subs)
	if err != nil {
		return nil, err
	}
	subs[RealmNameKey] = realm.Key

	var (
		removals []Removal
		errs     []error
	)
	for _, kind := range []template.Kind{template.KindUser, template.KindIdentityProvider, template.KindClient} {
		p, err := a.session.For(kind)
		if err != nil {
			return nil, err
		}
		for _, key := range plan.Keys(kind) {
			r, err := a.resolve(plan, kind, key, subs)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			deleted, err := p.Delete(ctx, realm.Key, r.Key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			removals = append(removals, Removal{Resource: Resource{Kind: kind, Scope: realm.Key, Key: r.Key}, Deleted: deleted})
		}
	}

	deleted, err := a.session.Realms.Delete(ctx, "", realm.Key)
	if err != nil {
		errs = append(errs, err)
	} else {
		removals = append(removals, Removal{Resource: Resource{Kind: template.KindRealm, Key: realm.Key}, Deleted: deleted})
	}

	return removals, utilerrors.NewAggregate(errs)
}
