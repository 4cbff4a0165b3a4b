package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindLibraryInvalid, "duplicate container id")
	assert.Equal(t, "[LIBRARY_INVALID] duplicate container id", err.Error())

	wrapped := Wrap(KindMatchTransient, "selector evaluation failed", errors.New("connection reset"))
	assert.Contains(t, wrapped.Error(), "MATCH_TRANSIENT")
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestKindPredicates(t *testing.T) {
	err := Newf(KindCapabilityMissing, "container %q lacks %q", "x", "click")

	assert.True(t, IsKind(err, KindCapabilityMissing))
	assert.False(t, IsKind(err, KindOperationNotDeclared))
	assert.Equal(t, KindCapabilityMissing, KindOf(err))

	// Survives fmt wrapping.
	outer := fmt.Errorf("enqueue rejected: %w", err)
	assert.True(t, IsKind(outer, KindCapabilityMissing))
	assert.Equal(t, KindCapabilityMissing, KindOf(outer))

	plain := errors.New("plain")
	assert.False(t, IsKind(plain, KindCapabilityMissing))
	assert.Equal(t, Kind(""), KindOf(plain))
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("io timeout")
	err := Wrap(KindBridgeUnavailable, "bridge call failed", inner)
	assert.ErrorIs(t, err, inner)
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(New(KindMatchTransient, "jitter")))
	assert.True(t, Transient(New(KindBridgeUnavailable, "down")))
	assert.False(t, Transient(New(KindMatchInvalid, "bad schema")))
}

func TestWithDetail(t *testing.T) {
	err := New(KindContextBadArg, "arg not serializable").WithDetail("arg", 2)
	assert.Equal(t, 2, err.Details["arg"])
}
