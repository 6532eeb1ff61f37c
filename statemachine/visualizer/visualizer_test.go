package visualizer

import (
	"testing"
	"time"

	"github.com/amp-labs/stage-engine/statemachine"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutFile = "testdata/checkout.yaml"

func loadCheckout(t *testing.T) *statemachine.Config {
	t.Helper()

	config, err := statemachine.LoadConfig(checkoutFile)
	require.NoError(t, err)

	return config
}

func TestGoldenDiagrams(t *testing.T) {
	t.Parallel()

	config := loadCheckout(t)

	tests := []struct {
		name     string
		generate func() (string, error)
	}{
		{
			name:     "checkout_mermaid",
			generate: func() (string, error) { return GenerateMermaid(config) },
		},
		{
			name: "checkout_mermaid_live",
			generate: func() (string, error) {
				return GenerateMermaidWithOptions(config, DefaultOptions().
					WithDirection("LR").
					WithMarkdown(false).
					WithCurrent("payment").
					WithHighlightPath([]string{"cart", "payment"}))
			},
		},
		{
			name:     "checkout_dot",
			generate: func() (string, error) { return GenerateDOT(config) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := tt.generate()
			require.NoError(t, err)

			g := goldie.New(t)
			g.Assert(t, tt.name, []byte(out))
		})
	}
}

func TestGenerateFromFile(t *testing.T) {
	t.Parallel()

	config := loadCheckout(t)

	mermaid, err := GenerateMermaidFromFile(checkoutFile)
	require.NoError(t, err)

	expected, err := GenerateMermaid(config)
	require.NoError(t, err)
	assert.Equal(t, expected, mermaid)

	dot, err := GenerateDOTFromFile(checkoutFile)
	require.NoError(t, err)
	assert.Contains(t, dot, `digraph "checkout"`)

	_, err = GenerateMermaidFromFile("testdata/missing.yaml")
	require.Error(t, err)

	_, err = GenerateDOTFromFile("testdata/missing.yaml")
	require.Error(t, err)
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()

	_, err := GenerateMermaid(nil)
	require.ErrorIs(t, err, ErrConfigNil)

	_, err = GenerateDOT(&statemachine.Config{Stages: []statemachine.Stage{{Name: "a"}}})
	require.ErrorIs(t, err, ErrNoInitialStage)
}

func TestLabelOptions(t *testing.T) {
	t.Parallel()

	config := statemachine.NewBuilder("").
		AddStage("a",
			statemachine.OnIf("go", "b", func(any, any) bool { return true }),
			statemachine.After(time.Minute, "go"),
			statemachine.WithEffect("spin"),
		).
		AddStage("b").
		Config()

	out, err := GenerateMermaid(config)
	require.NoError(t, err)
	assert.Contains(t, out, "a --> b: go [guard] after 1m0s")
	assert.Contains(t, out, "a: a (spin)")
	assert.Contains(t, out, "b --> [*]", "stages without a way out are terminal")

	plain := DefaultOptions().WithShowGuards(false).WithShowTimers(false).WithShowEffects(false)

	out, err = GenerateMermaidWithOptions(config, plain)
	require.NoError(t, err)
	assert.Contains(t, out, "a --> b: go\n")
	assert.NotContains(t, out, "(spin)")

	dot, err := GenerateDOTWithOptions(config, plain)
	require.NoError(t, err)
	assert.Contains(t, dot, `digraph "stages"`)
	assert.Contains(t, dot, `"a" -> "b" [label=" go "];`)
	assert.NotContains(t, dot, "tooltip")
}

func TestOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.True(t, opts.ShowGuards)
	assert.True(t, opts.Markdown)
	assert.Equal(t, "TB", opts.rankdir())

	opts = opts.WithDirection("LR")
	assert.Equal(t, "LR", opts.rankdir())

	opts = opts.WithDirection("sideways")
	assert.Equal(t, "TB", opts.rankdir())
}
