package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveWholeStringReferences(t *testing.T) {
	ctx := map[string]any{
		"sessionId": "s1",
		"count":     3,
		"nested":    map[string]any{"inner": map[string]any{"value": "deep"}},
		"nullable":  nil,
	}

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"simple reference", "$sessionId", "s1"},
		{"non-string passthrough", 42, 42},
		{"literal string untouched", "plain text", "plain text"},
		{"dotted path", "$nested.inner.value", "deep"},
		{"unresolved reference", "$missing", nil},
		{"unresolved dotted path", "$nested.missing.deeper", nil},
		{"stored null preserved", "$nullable", nil},
		{"embedded reference not substituted", "prefix $sessionId", "prefix $sessionId"},
		{"dollar alone untouched", "$", "$"},
		{"dollar digit untouched", "$1", "$1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.value, ctx))
		})
	}
}

func TestResolveRecursesIntoMapsAndSlices(t *testing.T) {
	ctx := map[string]any{"a": "A", "b": "B"}

	got := Resolve(map[string]any{
		"x":    "$a",
		"list": []any{"$b", "lit", 7},
		"deep": map[string]any{"y": "$a"},
	}, ctx)

	assert.Equal(t, map[string]any{
		"x":    "A",
		"list": []any{"B", "lit", 7},
		"deep": map[string]any{"y": "A"},
	}, got)
}

func TestResolveIdempotent(t *testing.T) {
	ctx := map[string]any{"v": "resolved"}

	once := Resolve("$v", ctx)
	twice := Resolve(once, ctx)
	assert.Equal(t, once, twice)

	// A resolved literal that happens to not look like a reference
	// passes through unchanged however often it is resolved.
	lit := Resolve("resolved", ctx)
	assert.Equal(t, "resolved", lit)
}
