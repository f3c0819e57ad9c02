package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	h := NewHandlebars()

	out, err := h.Render("Hello {{name}}!", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)

	out, err = h.Render("{{#each items}}[{{this}}]{{/each}}", map[string]any{"items": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "[a][b]", out)
}

func TestRenderMissingKeyIsEmpty(t *testing.T) {
	out, err := NewHandlebars().Render("Hi {{missing}}.", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi .", out)
}

func TestRenderMalformedTemplate(t *testing.T) {
	_, err := NewHandlebars().Render("Hi {{#if name}}", map[string]any{"name": "x"})
	assert.Error(t, err)
}
