package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepairJSONScenarioC(t *testing.T) {
	// spec.md Scenario C: a chapter fact truncated mid-ability-name.
	input := `{"characters":[{"name":"韩立","abilities":[{"name":"御剑"`

	repaired, err := RepairJSON(input)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(repaired)), "repaired output must be valid JSON: %s", repaired)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	chars, ok := out["characters"].([]any)
	require.True(t, ok)
	require.Len(t, chars, 1)
}

func TestRepairJSONOnAnyPrefixOfValidDocument(t *testing.T) {
	// Testable property 7: repair applied to any prefix of a valid JSON
	// string yields a parseable document.
	full := `{"a":1,"b":[1,2,3],"c":{"d":"hello","e":true},"f":"tail value"}`

	for i := 1; i <= len(full); i++ {
		prefix := full[:i]
		repaired, err := RepairJSON(prefix)
		require.NoError(t, err)
		require.True(t, json.Valid([]byte(repaired)), "prefix %q repaired to invalid JSON: %s", prefix, repaired)
	}
}

func TestRepairJSONCompleteDocumentUnchanged(t *testing.T) {
	full := `{"a":1,"b":2}`
	repaired, err := RepairJSON(full)
	require.NoError(t, err)
	require.True(t, json.Valid([]byte(repaired)))
	require.Equal(t, full, repaired)
}

func TestRepairJSONEmptyInput(t *testing.T) {
	repaired, err := RepairJSON("")
	require.NoError(t, err)
	require.Equal(t, "", repaired)
}
