package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeSceneTransitionsDetectsNameContainmentVote(t *testing.T) {
	scenes := []Scene{
		{Chapter: 1, Index: 0, Location: "七玄门"},
		{Chapter: 1, Index: 1, Location: "七玄门藏经阁"},
	}
	votes, _ := AnalyzeSceneTransitions(scenes)
	weight := votes.WeightOf("七玄门藏经阁", "七玄门")
	require.Equal(t, 2, weight)
}

func TestAnalyzeSceneTransitionsDetectsSiblingGroup(t *testing.T) {
	scenes := []Scene{
		{Chapter: 1, Index: 0, Location: "甲"},
		{Chapter: 1, Index: 1, Location: "乙"},
		{Chapter: 1, Index: 2, Location: "甲"},
		{Chapter: 1, Index: 3, Location: "乙"},
		{Chapter: 1, Index: 4, Location: "甲"},
		{Chapter: 1, Index: 5, Location: "乙"},
	}
	_, analysis := AnalyzeSceneTransitions(scenes)
	require.Len(t, analysis.SiblingGroups, 1)
	require.ElementsMatch(t, []string{"甲", "乙"}, analysis.SiblingGroups[0])
}

func TestAnalyzeSceneTransitionsExcludesTravelFromSiblings(t *testing.T) {
	scenes := []Scene{
		{Chapter: 1, Index: 0, Location: "甲"},
		{Chapter: 1, Index: 1, Location: "乙", EventType: "旅行"},
		{Chapter: 1, Index: 2, Location: "甲"},
		{Chapter: 1, Index: 3, Location: "乙", EventType: "旅行"},
		{Chapter: 1, Index: 4, Location: "甲"},
		{Chapter: 1, Index: 5, Location: "乙", EventType: "旅行"},
	}
	_, analysis := AnalyzeSceneTransitions(scenes)
	require.Empty(t, analysis.SiblingGroups)
}

func TestAnalyzeSceneTransitionsDetectsHubNode(t *testing.T) {
	scenes := []Scene{
		{Chapter: 1, Index: 0, Location: "广场"},
		{Chapter: 1, Index: 1, Location: "甲"},
		{Chapter: 1, Index: 2, Location: "广场"},
		{Chapter: 1, Index: 3, Location: "乙"},
		{Chapter: 1, Index: 4, Location: "广场"},
		{Chapter: 1, Index: 5, Location: "丙"},
		{Chapter: 1, Index: 6, Location: "广场"},
		{Chapter: 1, Index: 7, Location: "丁"},
		{Chapter: 1, Index: 8, Location: "广场"},
	}
	_, analysis := AnalyzeSceneTransitions(scenes)
	require.Contains(t, analysis.HubNodes, "广场")
	require.Len(t, analysis.HubNodes["广场"], 4)
}

func TestAnalyzeSceneTransitionsIgnoresCrossChapterTransitions(t *testing.T) {
	scenes := []Scene{
		{Chapter: 1, Index: 0, Location: "甲"},
		{Chapter: 2, Index: 0, Location: "乙"},
	}
	votes, analysis := AnalyzeSceneTransitions(scenes)
	require.Empty(t, analysis.SiblingGroups)
	require.Equal(t, 0, votes.WeightOf("乙", "甲"))
}
