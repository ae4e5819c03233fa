package worldstructure

import (
	"context"
	"testing"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"

	"github.com/stretchr/testify/require"
)

func TestDetectGenreAssignsFantasyOnceScoreReached(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	agent := NewAgent("novel-1", nil)

	text := "韩立修炼多年，炼丹炉中的丹药终于炼成，他渡劫飞升成仙，灵气涌动，法宝出鞘。"
	fact := domain.ChapterFact{}
	agent.detectGenre(&ws, text, fact)

	require.Equal(t, domain.GenreFantasy, ws.NovelGenreHint)
}

func TestDetectGenreDoesNotReassignOnceSet(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	ws.NovelGenreHint = domain.GenreWuxia
	agent := NewAgent("novel-1", nil)

	agent.detectGenre(&ws, "修炼修仙灵气法宝丹药阵法飞升渡劫", domain.ChapterFact{})
	require.Equal(t, domain.GenreWuxia, ws.NovelGenreHint)
}

func TestApplyHeuristicsAssignsCelestialLayer(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	agent := NewAgent("novel-1", nil)

	fact := domain.ChapterFact{Locations: []domain.Location{{Name: "凌霄殿", Type: "宫殿"}}}
	agent.applyHeuristics(&ws, fact)

	require.Equal(t, "celestial", ws.LocationLayerMap["凌霄殿"])
	found := false
	for _, l := range ws.Layers {
		if l.LayerID == "celestial" {
			found = true
		}
	}
	require.True(t, found)
}

func TestApplyHeuristicsDefaultsToOverworldLayer(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	agent := NewAgent("novel-1", nil)

	fact := domain.ChapterFact{Locations: []domain.Location{{Name: "落霞峰", Type: "山峰"}}}
	agent.applyHeuristics(&ws, fact)

	require.Equal(t, domain.DefaultOverworldLayerID, ws.LocationLayerMap["落霞峰"])
	require.Equal(t, domain.TierRegion, ws.LocationTiers["落霞峰"])
	require.Equal(t, "mountain", ws.LocationIcons["落霞峰"])
}

func TestApplyHeuristicsAssignsMacroRegionSelfMapped(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	agent := NewAgent("novel-1", nil)

	fact := domain.ChapterFact{Locations: []domain.Location{{Name: "东洲", Type: "洲"}}}
	agent.applyHeuristics(&ws, fact)

	require.Equal(t, "东洲", ws.LocationRegionMap["东洲"])
	var overworld *domain.Layer
	for i := range ws.Layers {
		if ws.Layers[i].LayerID == domain.DefaultOverworldLayerID {
			overworld = &ws.Layers[i]
		}
	}
	require.NotNil(t, overworld)
	require.Len(t, overworld.Regions, 1)
	require.Equal(t, "east", overworld.Regions[0].CardinalDir)
}

func TestApplyHeuristicsRespectsLayerOverride(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	agent := NewAgent("novel-1", nil)
	agent.LoadOverrides(map[string][]string{"location_layer": {"凌霄殿"}})
	ws.LocationLayerMap["凌霄殿"] = "overworld"

	fact := domain.ChapterFact{Locations: []domain.Location{{Name: "凌霄殿", Type: "宫殿"}}}
	agent.applyHeuristics(&ws, fact)

	require.Equal(t, "overworld", ws.LocationLayerMap["凌霄殿"])
}

func TestShouldTriggerLLMEarlyChapters(t *testing.T) {
	agent := NewAgent("novel-1", nil)
	require.True(t, agent.shouldTriggerLLM(1, nil, domain.ChapterFact{}, domain.NewWorldStructure("novel-1")))
	require.False(t, agent.shouldTriggerLLM(7, nil, domain.ChapterFact{}, domain.NewWorldStructure("novel-1")))
}

func TestShouldTriggerLLMOnMacroGeographyThreshold(t *testing.T) {
	agent := NewAgent("novel-1", nil)
	fact := domain.ChapterFact{Locations: []domain.Location{
		{Name: "东洲", Type: "洲"},
		{Name: "西域", Type: "域"},
	}}
	require.True(t, agent.shouldTriggerLLM(11, nil, fact, domain.NewWorldStructure("novel-1")))
}

func TestShouldTriggerLLMOnPeriodicCheckpoint(t *testing.T) {
	agent := NewAgent("novel-1", nil)
	require.True(t, agent.shouldTriggerLLM(20, nil, domain.ChapterFact{}, domain.NewWorldStructure("novel-1")))
	require.False(t, agent.shouldTriggerLLM(21, nil, domain.ChapterFact{}, domain.NewWorldStructure("novel-1")))
}

func TestProcessChapterAppliesLLMOperations(t *testing.T) {
	client := llm.NewMockClientWithResponses(`{"operations":[{"op":"SET_TIER","name":"落霞峰","tier":"site"}],"reasoning":"山洞入口"}`)
	agent := NewAgent("novel-1", client)
	ws := domain.NewWorldStructure("novel-1")

	fact := domain.ChapterFact{Locations: []domain.Location{{Name: "落霞峰", Type: "山峰"}}}
	ws = agent.ProcessChapter(context.Background(), ws, 1, "正文", fact)

	require.Equal(t, domain.TierSite, ws.LocationTiers["落霞峰"])
}

func TestOpSetTierRespectsOverride(t *testing.T) {
	ws := domain.NewWorldStructure("novel-1")
	ws.LocationTiers["落霞峰"] = domain.TierRegion
	agent := NewAgent("novel-1", nil)
	agent.LoadOverrides(map[string][]string{"location_tier": {"落霞峰"}})

	agent.opSetTier(&ws, llmOperation{Op: "SET_TIER", Name: "落霞峰", Tier: "site"})
	require.Equal(t, domain.TierRegion, ws.LocationTiers["落霞峰"])
}
