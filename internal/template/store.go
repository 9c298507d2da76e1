package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"
)

// Store reads template documents from a file system. Every call re-reads and
// re-parses its source; nothing is cached.
type Store struct {
	fsys fs.FS
	log  logr.Logger
}

// NewStore creates a store over fsys
func NewStore(fsys fs.FS, log logr.Logger) *Store {
	return &Store{fsys: fsys, log: log.WithName("template-store")}
}

// NewDirStore creates a store over a directory on disk
func NewDirStore(dir string, log logr.Logger) *Store {
	return NewStore(os.DirFS(dir), log)
}

// Document returns the parsed root of a source. JSON and YAML are both accepted.
func (s *Store) Document(source string) (interface{}, error) {
	data, err := fs.ReadFile(s.fsys, source)
	if err != nil {
		return nil, &SourceError{Source: source, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &SourceError{Source: source, Err: errors.New("document is empty")}
	}

	// JSON sources are decoded as written. YAMLToJSON would re-encode their numbers.
	if !strings.EqualFold(path.Ext(source), ".json") {
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("failed to parse: %w", err)}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, &SourceError{Source: source, Err: fmt.Errorf("failed to parse: %w", err)}
	}
	if root == nil {
		return nil, &SourceError{Source: source, Err: errors.New("document is empty")}
	}
	return root, nil
}

// LoadCollection returns the entries of kind's collection array in document
// order. A document without the collection yields no templates.
func (s *Store) LoadCollection(source string, kind Kind) ([]*Template, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}

	root, err := s.Document(source)
	if err != nil {
		return nil, err
	}

	items, err := collectionOf(root, kind)
	if err != nil {
		return nil, &SourceError{Source: source, Err: err}
	}

	templates := make([]*Template, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		body, ok := item.(map[string]interface{})
		if !ok {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("%s[%d] is not an object", kind.Collection(), i)}
		}
		key, _ := body[kind.KeyField()].(string)
		if key == "" {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("%s[%d] has no %q", kind.Collection(), i, kind.KeyField())}
		}
		if seen[key] {
			return nil, &SourceError{Source: source, Err: fmt.Errorf("duplicate %s %q", kind.KeyField(), key)}
		}
		seen[key] = true

		templates = append(templates, &Template{Kind: kind, Key: key, Source: source, Body: body})
	}

	s.log.V(1).Info("Loaded templates", "source", source, "kind", kind, "count", len(templates))
	return templates, nil
}

// collectionOf finds kind's array under root. Realm documents may also be a
// bare array of realms or a single realm object.
func collectionOf(root interface{}, kind Kind) ([]interface{}, error) {
	switch r := root.(type) {
	case map[string]interface{}:
		if raw, ok := r[kind.Collection()]; ok {
			items, ok := raw.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%q is not an array", kind.Collection())
			}
			return items, nil
		}
		if kind == KindRealm {
			if _, ok := r[kind.KeyField()]; ok {
				return []interface{}{r}, nil
			}
		}
		return nil, nil
	case []interface{}:
		if kind == KindRealm {
			return r, nil
		}
		return nil, fmt.Errorf("document root is an array, expected an object with %q", kind.Collection())
	default:
		return nil, fmt.Errorf("document root is not an object")
	}
}

// FindByKey returns the entry whose key field equals key
func (s *Store) FindByKey(source string, kind Kind, key string) (*Template, error) {
	templates, err := s.LoadCollection(source, kind)
	if err != nil {
		return nil, err
	}

	for _, t := range templates {
		if t.Key == key {
			return t, nil
		}
	}

	return nil, &NotFoundError{Source: source, Kind: kind, Key: key}
}

// Keys lists the keys of kind's collection in document order
func (s *Store) Keys(source string, kind Kind) ([]string, error) {
	templates, err := s.LoadCollection(source, kind)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(templates))
	for _, t := range templates {
		keys = append(keys, t.Key)
	}
	return keys, nil
}

// LoadMapping reads an optional shortcut table. An absent field is an empty mapping.
func (s *Store) LoadMapping(source, field string) (map[string]string, error) {
	root, err := s.Document(source)
	if err != nil {
		return nil, err
	}

	mapping := map[string]string{}
	obj, ok := root.(map[string]interface{})
	if !ok {
		return mapping, nil
	}
	raw, ok := obj[field]
	if !ok || raw == nil {
		return mapping, nil
	}
	entries, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &SourceError{Source: source, Err: fmt.Errorf("%q is not an object", field)}
	}
	for k, v := range entries {
		switch val := v.(type) {
		case string:
			mapping[k] = val
		case json.Number, bool:
			mapping[k] = fmt.Sprint(val)
		default:
			return nil, &SourceError{Source: source, Err: fmt.Errorf("%s.%s is not a scalar", field, k)}
		}
	}
	return mapping, nil
}

// FindByMappingKey resolves shortcut through kind's mapping field, then looks the key up
func (s *Store) FindByMappingKey(source string, kind Kind, shortcut string) (*Template, error) {
	mapping, err := s.LoadMapping(source, kind.MappingField())
	if err != nil {
		return nil, err
	}
	key, ok := mapping[shortcut]
	if !ok {
		return nil, &NotFoundError{Source: source, Kind: kind, Key: shortcut, Mapping: kind.MappingField()}
	}
	return s.FindByKey(source, kind, key)
}
