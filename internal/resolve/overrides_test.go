package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverrides(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	return path
}

func TestLoadOverrides(t *testing.T) {
	path := writeOverrides(t, `
overrides:
  "Galileo (IRE)": hrs_galileo
  "Sadler's Wells": hrs_sadlers
`)

	o, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Len())

	id, ok := o.Lookup(NormalizeName("Galileo"))
	require.True(t, ok)
	assert.Equal(t, "hrs_galileo", id)

	// Apostrophe variants normalize to the same key.
	id, ok = o.Lookup(NormalizeName("Sadlers Wells"))
	require.True(t, ok)
	assert.Equal(t, "hrs_sadlers", id)

	_, ok = o.Lookup(NormalizeName("Frankel"))
	assert.False(t, ok)
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	_, err := LoadOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadOverrides_InvalidYAML(t *testing.T) {
	path := writeOverrides(t, "overrides: [not, a, map]")
	_, err := LoadOverrides(path)
	require.Error(t, err)
}

func TestLoadOverrides_EmptyID(t *testing.T) {
	path := writeOverrides(t, `
overrides:
  "Galileo": ""
`)
	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid override")
}

func TestLoadOverrides_ConflictingNames(t *testing.T) {
	// Two spellings that normalize to the same key but pin different ids.
	path := writeOverrides(t, `
overrides:
  "Sadler's Wells": hrs_1
  "Sadlers Wells": hrs_2
`)
	_, err := LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting")
}

func TestMatcher_OverrideBeatsAmbiguity(t *testing.T) {
	// Two same-named candidates would normally force an abstain; the
	// pinned match resolves it.
	src := &fakeSource{byName: map[string][]Candidate{
		"EXAMPLE": {
			{ID: "hrs_gb", Region: "gb"},
			{ID: "hrs_ire", Region: "ire"},
		},
	}}

	path := writeOverrides(t, `
overrides:
  "Example": hrs_gb
`)
	o, err := LoadOverrides(path)
	require.NoError(t, err)

	m := NewMatcher(src).WithOverrides(o)
	match, err := m.Resolve(context.Background(), "Example", "")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "hrs_gb", match.HorseID)
	assert.Equal(t, ConfidenceHigh, match.Confidence)
}

func TestMatcher_NilOverridesIsNoop(t *testing.T) {
	m := NewMatcher(&fakeSource{byName: map[string][]Candidate{}}).WithOverrides(nil)
	match, err := m.Resolve(context.Background(), "Example", "")
	require.NoError(t, err)
	assert.Nil(t, match)
}
