package hierarchy

import (
	"context"
	"testing"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"

	"github.com/stretchr/testify/require"
)

func TestReviewerReviewReturnsVotesForKnownOrphans(t *testing.T) {
	resp := `{"suggestions":[{"child":"落霞峰","parent":"青云国","confidence":"high"}]}`
	r := &Reviewer{Client: llm.NewMockClientWithResponses(resp)}

	parents := map[string]string{}
	tiers := map[string]domain.Tier{"落霞峰": domain.TierCity, "青云国": domain.TierKingdom}
	votes := r.Review(context.Background(), tiers, parents, SceneAnalysis{}, domain.GenreFantasy)

	require.Equal(t, 5, votes.WeightOf("落霞峰", "青云国"))
}

func TestReviewerReviewSkipsWorldAndContinentTierRoots(t *testing.T) {
	r := &Reviewer{Client: llm.NewMockClientWithResponses(`{"suggestions":[]}`)}
	parents := map[string]string{}
	tiers := map[string]domain.Tier{"天下": domain.TierWorld}
	votes := r.Review(context.Background(), tiers, parents, SceneAnalysis{}, domain.GenreFantasy)
	require.Equal(t, 0, votes.WeightOf("天下", "anything"))
}

func TestReviewerValidateHierarchyAppliesMatchingCorrection(t *testing.T) {
	resp := `{"corrections":[{"child":"藏经阁","wrong_parent":"天下","correct_parent":"七玄门","confidence":"high"}]}`
	r := &Reviewer{Client: llm.NewMockClientWithResponses(resp)}

	parents := map[string]string{"藏经阁": "天下", "七玄门": "天下"}
	tiers := map[string]domain.Tier{"藏经阁": domain.TierBuilding, "七玄门": domain.TierRegion, "天下": domain.TierWorld}

	out := r.ValidateHierarchy(context.Background(), parents, tiers, domain.GenreFantasy, "天下")
	require.Equal(t, "七玄门", out["藏经阁"])
}

func TestReviewerValidateHierarchySkipsStaleCorrection(t *testing.T) {
	resp := `{"corrections":[{"child":"藏经阁","wrong_parent":"七玄门","correct_parent":"青云国","confidence":"high"}]}`
	r := &Reviewer{Client: llm.NewMockClientWithResponses(resp)}

	parents := map[string]string{"藏经阁": "天下"}
	tiers := map[string]domain.Tier{"藏经阁": domain.TierBuilding, "天下": domain.TierWorld}

	out := r.ValidateHierarchy(context.Background(), parents, tiers, domain.GenreFantasy, "天下")
	require.Equal(t, "天下", out["藏经阁"])
}
