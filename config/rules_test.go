package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/priority"
)

func TestParseRules_FullDocument(t *testing.T) {
	doc := `
version: 1.0.0
rules:
  critical_fields:
    - id
    - sku
  high_fields:
    - price
  low_patterns:
    - description
  background_patterns:
    - reviews
  long_array_threshold: 25
  long_string_threshold: 200
  array_length_threshold: 10
  background_array_fields:
    - reviews
  medium_array_fields:
    - items
`

	rules, err := ParseRules([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "sku"}, rules.CriticalFields)
	assert.Equal(t, []string{"price"}, rules.HighFields)
	assert.Equal(t, 25, rules.LongArrayThreshold)
	assert.Equal(t, 200, rules.LongStringThreshold)
	assert.Equal(t, 10, rules.ArrayLengthThreshold)
}

func TestParseRules_PartialDocumentKeepsDefaults(t *testing.T) {
	doc := `
rules:
  critical_fields:
    - order_id
`

	rules, err := ParseRules([]byte(doc))
	require.NoError(t, err)

	// Overridden field
	assert.Equal(t, []string{"order_id"}, rules.CriticalFields)

	// Untouched fields keep defaults
	defaults := priority.DefaultRules()
	assert.Equal(t, defaults.HighFields, rules.HighFields)
	assert.Equal(t, defaults.LongArrayThreshold, rules.LongArrayThreshold)
	assert.Equal(t, defaults.BackgroundArrayFields, rules.BackgroundArrayFields)
}

func TestParseRules_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown top-level key",
			doc: `
rules:
  critical_fields: [id]
extras:
  foo: bar
`,
		},
		{
			name: "unknown rule field",
			doc: `
rules:
  criticial_fields: [id]
`,
		},
		{
			name: "threshold as string",
			doc: `
rules:
  long_array_threshold: "lots"
`,
		},
		{
			name: "negative threshold",
			doc: `
rules:
  long_array_threshold: -1
`,
		},
		{
			name: "empty field name",
			doc: `
rules:
  critical_fields: [""]
`,
		},
		{
			name: "bad version format",
			doc: `
version: one-point-oh
rules:
  critical_fields: [id]
`,
		},
		{
			name: "missing rules section",
			doc:  `version: 1.0.0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "schema violations should classify as invalid")
		})
	}
}

func TestParseRules_InvalidYAML(t *testing.T) {
	_, err := ParseRules([]byte("rules: [unclosed"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadRulesFile(t *testing.T) {
	tmpDir := t.TempDir()

	doc := `
version: 2.0.0
rules:
  critical_fields:
    - id
    - name
  long_string_threshold: 750
`
	path := filepath.Join(tmpDir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rules.CriticalFields)
	assert.Equal(t, 750, rules.LongStringThreshold)
}

func TestLoadRulesFile_Missing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRulesFile_WrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("rules: {}"), 0644))

	_, err := LoadRulesFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON and YAML")
}
