package extract

import (
	"context"
	"testing"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"

	"github.com/stretchr/testify/require"
)

func TestScanPhase1FindsDialogueAttributedName(t *testing.T) {
	text := `韩立冷道："此事休要再提。"韩立冷道："此事休要再提。"韩立冷道："此事休要再提。"`
	candidates := ScanPhase1(context.Background(), text)

	var found bool
	for _, c := range candidates {
		if c.Name == "韩立" {
			found = true
			require.Equal(t, domain.ConfidenceHigh, c.Confidence)
		}
	}
	require.True(t, found)
}

func TestScanPhase1InfersLocationSuffix(t *testing.T) {
	candidates := ScanPhase1(context.Background(), "落霞峰落霞峰落霞峰落霞峰")
	var found bool
	for _, c := range candidates {
		if c.Name == "落霞峰" {
			found = true
			require.Equal(t, domain.EntityLocation, c.EntityType)
		}
	}
	require.True(t, found)
}

func TestClassifyPhase2FallsBackOnLLMFailure(t *testing.T) {
	candidates := []Candidate{{Name: "韩立", Frequency: 10}}
	client := llm.NewMockClientWithResponses("not json")
	entries := ClassifyPhase2(context.Background(), client, candidates)
	require.Len(t, entries, 1)
	require.Equal(t, "韩立", entries[0].Name)
}
