package template

import (
	"regexp"
)

// placeholderPattern matches ${namespace.key} tokens
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)

// Resolve returns a deep copy of t with every ${name} token for which subs
// has an entry replaced. Unknown tokens are kept verbatim, so a template can be
// resolved against only the values relevant to it. Both string values and
// object keys are substituted, at any depth. Substituted text is not rescanned.
func Resolve(t *Template, subs map[string]string) *Resolved {
	body, _ := resolveValue(t.Body, subs).(map[string]interface{})
	if body == nil {
		body = map[string]interface{}{}
	}
	key, _ := body[t.Kind.KeyField()].(string)
	if key == "" {
		key = t.Key
	}
	return &Resolved{Kind: t.Kind, Key: key, Body: body}
}

// ResolveString substitutes tokens in a single string
func ResolveString(s string, subs map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token[2 : len(token)-1]
		if v, ok := subs[name]; ok {
			return v
		}
		return token
	})
}

func resolveValue(v interface{}, subs map[string]string) interface{} {
	switch val := v.(type) {
	case string:
		return ResolveString(val, subs)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[ResolveString(k, subs)] = resolveValue(item, subs)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, subs)
		}
		return out
	default:
		// Numbers, booleans and null are immutable
		return val
	}
}

// Placeholders lists the distinct placeholder names used anywhere in t
func Placeholders(t *Template) []string {
	return collectPlaceholders(t.Body)
}

func collectPlaceholders(v interface{}) []string {
	set := map[string]struct{}{}
	var walk func(interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case string:
			for _, m := range placeholderPattern.FindAllStringSubmatch(val, -1) {
				set[m[1]] = struct{}{}
			}
		case map[string]interface{}:
			for k, item := range val {
				walk(k)
				walk(item)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	return sortedKeys(set)
}
