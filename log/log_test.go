package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WithFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := New(buf, DebugLevel).WithFilter("info:race.* debug:commentary")
	require.NoError(t, err)

	l.Named("race.stream").Debug("hidden")
	l.Named("race.stream").Info("shown")
	l.Named("commentary").Debug("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "also shown")
}

func TestGetFromContext(t *testing.T) {
	l := New(&bytes.Buffer{}, WarnLevel)
	ctx := AddToContext(context.Background(), l)
	assert.Same(t, l, GetFromContext(ctx))
	assert.Same(t, Default(), GetFromContext(context.Background()))
}
