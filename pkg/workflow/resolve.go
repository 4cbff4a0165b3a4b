package workflow

import (
	"regexp"
	"strings"
)

// varRef matches whole-string variable references. Only whole strings
// substitute; embedded "${...}" interpolation is not a feature.
var varRef = regexp.MustCompile(`^\$([A-Za-z_][\w.]*)$`)

// Resolve substitutes "$name" references in a value against the
// workflow context. Strings that are not whole-string references pass
// through untouched, so resolving an already-resolved literal is a
// no-op. Maps and slices resolve element-wise. Unresolved references
// yield nil, not errors.
func Resolve(value any, ctx map[string]any) any {
	switch v := value.(type) {
	case string:
		if m := varRef.FindStringSubmatch(v); m != nil {
			val, _ := lookupPath(ctx, m[1])
			return val
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// lookupPath walks a dotted path through nested string-keyed maps.
// The bool reports presence, so a stored nil is distinguishable from
// a missing key.
func lookupPath(ctx map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = ctx
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
