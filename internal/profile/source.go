package profile

import (
	"fmt"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

const (
	profilesField       = "profiles"
	profileMappingField = "profileMapping"
)

// ParseAttributes accepts {"attributes": [...]}, a bare array of attributes
// or a single attribute object.
func ParseAttributes(doc interface{}) ([]Attribute, error) {
	switch d := doc.(type) {
	case map[string]interface{}:
		if raw, ok := d["attributes"]; ok {
			list, ok := raw.([]interface{})
			if !ok {
				return nil, fmt.Errorf("attributes is not an array")
			}
			return ParseAttributes(list)
		}
		if _, ok := d["name"]; ok {
			return ParseAttributes([]interface{}{d})
		}
		return nil, fmt.Errorf("expected an attributes array or a single attribute")
	case []interface{}:
		out := make([]Attribute, 0, len(d))
		for i, item := range d {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("attribute %d is not an object", i)
			}
			out = append(out, Attribute(obj))
		}
		if err := validate(out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an attributes array or a single attribute")
	}
}

// AttributesFromSource returns the attributes of the userProfile entry whose
// realmName equals realm in source's profiles array.
func AttributesFromSource(store *template.Store, source, realm string) ([]Attribute, error) {
	root, err := store.Document(source)
	if err != nil {
		return nil, err
	}

	obj, ok := root.(map[string]interface{})
	if !ok {
		return nil, &template.SourceError{Source: source, Err: fmt.Errorf("document root is not an object")}
	}
	raw, ok := obj[profilesField]
	if !ok {
		return nil, &template.NotFoundError{Source: source, Key: realm, Mapping: profilesField}
	}
	profiles, ok := raw.([]interface{})
	if !ok {
		return nil, &template.SourceError{Source: source, Err: fmt.Errorf("%q is not an array", profilesField)}
	}

	for _, item := range profiles {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := entry["realmName"].(string); name != realm {
			continue
		}
		userProfile, ok := entry["userProfile"]
		if !ok {
			break
		}
		attrs, err := ParseAttributes(userProfile)
		if err != nil {
			return nil, &template.SourceError{Source: source, Err: fmt.Errorf("profile of realm %s: %w", realm, err)}
		}
		return attrs, nil
	}

	return nil, &template.NotFoundError{Source: source, Key: realm, Mapping: profilesField}
}

// AttributesByMappingKey resolves key through profileMapping to a realm name
// and returns that realm's attributes. It also returns the realm name.
func AttributesByMappingKey(store *template.Store, source, key string) (string, []Attribute, error) {
	mapping, err := store.LoadMapping(source, profileMappingField)
	if err != nil {
		return "", nil, err
	}
	realm, ok := mapping[key]
	if !ok {
		return "", nil, &template.NotFoundError{Source: source, Key: key, Mapping: profileMappingField}
	}
	attrs, err := AttributesFromSource(store, source, realm)
	return realm, attrs, err
}
