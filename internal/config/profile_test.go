//go:build !integration && !e2e

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/model-router-go/internal/models"
)

func TestLoadProfile(t *testing.T) {
	profile, err := LoadProfile(filepath.Join("testdata", "profile.yaml"))
	require.NoError(t, err)

	assert.NotEmpty(t, profile.SnapshotID)
	assert.Equal(t, models.ModeAuto, profile.Mode)
	require.Len(t, profile.Providers, 2)
	require.Len(t, profile.Rules, 2)

	openai := profile.Provider("openai")
	require.NotNil(t, openai)
	gpt4o := openai.Model("gpt-4o")
	require.NotNil(t, gpt4o)
	assert.InDelta(t, 2.5, gpt4o.Price.InputPerMTok, 1e-9)
	assert.True(t, gpt4o.HasCapability(models.CapQuality))

	ollama := profile.Provider("ollama")
	require.NotNil(t, ollama)
	assert.True(t, ollama.LocalOnly)

	rule := profile.Rules[1]
	assert.Equal(t, "quick-questions", rule.ID)
	require.NotNil(t, rule.If.MaxContextKB)
	assert.Equal(t, 8, *rule.If.MaxContextKB)

	require.NotNil(t, profile.Budget)
	assert.Equal(t, 5.0, profile.Budget.DailyUSD)
	assert.True(t, profile.Budget.HardStop)
	assert.Equal(t, 80, profile.Budget.WarningThreshold)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join("testdata", "no-such-profile.yaml"))
	assert.Error(t, err)
}

func TestParseProfileRejectsInvalid(t *testing.T) {
	valid := func(mutations string) string {
		return `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price:
          inputPerMillionTokens: 1
          outputPerMillionTokens: 2
default:
  prefer: ["p1:m1"]
` + mutations
	}

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "not yaml at all",
			yaml:    "{invalid",
			wantMsg: "parse profile yaml",
		},
		{
			name: "missing default",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price:
          inputPerMillionTokens: 1
          outputPerMillionTokens: 2
`,
			wantMsg: "default",
		},
		{
			name: "missing price",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "price",
		},
		{
			name:    "unknown mode",
			yaml:    valid("mode: turbo\n"),
			wantMsg: "mode",
		},
		{
			name:    "malformed prefer token in schema",
			yaml:    valid("rules:\n  - id: r1\n    then:\n      prefer: [\"no-colon\"]\n"),
			wantMsg: "prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseProfileSemanticChecks(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name: "duplicate provider id",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
  - id: p1
    kind: openai
    models:
      - name: m2
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "duplicate provider id p1",
		},
		{
			name: "duplicate model name",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "duplicate model m1",
		},
		{
			name: "duplicate rule id",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
rules:
  - id: r1
    then:
      prefer: ["p1:m1"]
  - id: r1
    then:
      prefer: ["p1:m1"]
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "duplicate rule id r1",
		},
		{
			name: "invalid glob pattern",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
rules:
  - id: r1
    if:
      filePathMatches: ["src/[invalid"]
    then:
      prefer: ["p1:m1"]
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "invalid glob pattern",
		},
		{
			name: "context bounds inverted",
			yaml: `
providers:
  - id: p1
    kind: openai
    models:
      - name: m1
        price: {inputPerMillionTokens: 1, outputPerMillionTokens: 2}
rules:
  - id: r1
    if:
      minContextKB: 64
      maxContextKB: 8
    then:
      prefer: ["p1:m1"]
default:
  prefer: ["p1:m1"]
`,
			wantMsg: "minContextKB exceeds maxContextKB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseProfileStampsFreshSnapshotID(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "profile.yaml"))
	require.NoError(t, err)

	first, err := ParseProfile(data)
	require.NoError(t, err)
	second, err := ParseProfile(data)
	require.NoError(t, err)

	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
}

func TestProfileStoreReload(t *testing.T) {
	initial, err := LoadProfile(filepath.Join("testdata", "profile.yaml"))
	require.NoError(t, err)

	store := NewProfileStore(initial)
	held := store.Snapshot()
	assert.Same(t, initial, held)

	// A failed reload must leave the previous snapshot active.
	badPath := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("{invalid"), 0o644))
	require.Error(t, store.Reload(badPath))
	assert.Same(t, initial, store.Snapshot())

	// A successful reload swaps in a new snapshot; the held reference
	// keeps observing the old one.
	require.NoError(t, store.Reload(filepath.Join("testdata", "profile.yaml")))
	swapped := store.Snapshot()
	assert.NotSame(t, initial, swapped)
	assert.NotEqual(t, initial.SnapshotID, swapped.SnapshotID)
	assert.Same(t, initial, held)
}
