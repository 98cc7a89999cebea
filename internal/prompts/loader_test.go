package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_SystemPrompt(t *testing.T) {
	ClearCache()

	prompt, err := Get(Codegen, KeySystem)
	require.NoError(t, err)
	assert.Contains(t, prompt, "GenScene(Scene)")
	assert.Contains(t, prompt, "Return ONLY valid Python code")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(Codegen, "nonexistent-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() { MustGet("nonexistent.json", "some-key") })
	assert.NotPanics(t, func() {
		assert.NotEmpty(t, MustGet(Codegen, KeyFix))
	})
}

func TestRender_Fix(t *testing.T) {
	out, err := Render(KeyFix, map[string]string{
		"Summary": "NameError: name 'Circel' is not defined",
		"Error":   "Traceback ...\nNameError: name 'Circel' is not defined",
		"Source":  "class GenScene(Scene):\n    pass",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Error Summary:\nNameError: name 'Circel' is not defined")
	assert.Contains(t, out, "Original code:\nclass GenScene(Scene):\n    pass")
	assert.NotContains(t, out, "{{.")
}

func TestRender_Chart(t *testing.T) {
	out, err := Render(KeyChart, map[string]string{
		"Request": "population over time",
		"Spec":    "Chart type: bubble\n",
		"Dataset": "/data/pop.csv",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "population over time")
	assert.Contains(t, out, "Chart type: bubble")
	assert.Contains(t, out, "/data/pop.csv")
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		want     string
	}{
		{"replaces", "Hello {{.Name}}, welcome to {{.Place}}!", map[string]string{"Name": "Ada", "Place": "Manim"}, "Hello Ada, welcome to Manim!"},
		{"no placeholders", "plain", map[string]string{"Key": "Value"}, "plain"},
		{"empty data", "Hello {{.Name}}", nil, "Hello {{.Name}}"},
		{"value not re-expanded", "{{.A}}", map[string]string{"A": "{{.B}}", "B": "x"}, "{{.B}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.template, tt.data))
		})
	}
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List(Codegen)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyChart, KeyFix, KeyFixRules, KeyGenerate, KeySystem}, keys)
}
