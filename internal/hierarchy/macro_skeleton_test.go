package hierarchy

import (
	"context"
	"testing"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"

	"github.com/stretchr/testify/require"
)

func TestMacroSkeletonGeneratorSkipsTooFewLocations(t *testing.T) {
	gen := &MacroSkeletonGenerator{Client: llm.NewMockClientWithResponses(`{}`)}
	votes, synonyms := gen.Generate(context.Background(), "测试", domain.GenreFantasy,
		map[string]domain.Tier{"甲": domain.TierCity}, nil)
	require.Nil(t, synonyms)
	require.Equal(t, 0, votes.WeightOf("甲", "乙"))
}

func TestMacroSkeletonGeneratorParsesValidResponse(t *testing.T) {
	resp := `{"uber_root":"天下","skeleton":[{"child":"落霞峰","parent":"青云国","confidence":"high"}],"synonyms":[{"canonical":"青云国","alias":"青云王国"}]}`
	gen := &MacroSkeletonGenerator{Client: llm.NewMockClientWithResponses(resp)}
	tiers := map[string]domain.Tier{"落霞峰": domain.TierCity, "青云国": domain.TierKingdom, "青云王国": domain.TierKingdom}
	votes, synonyms := gen.Generate(context.Background(), "测试", domain.GenreFantasy, tiers, nil)

	require.Equal(t, 5, votes.WeightOf("落霞峰", "青云国"))
	require.Len(t, synonyms, 1)
	require.Equal(t, "青云国", synonyms[0].Canonical)
}

func TestMacroSkeletonGeneratorRejectsHallucinatedPair(t *testing.T) {
	resp := `{"uber_root":"天下","skeleton":[{"child":"落霞峰","parent":"虚构地名","confidence":"high"}]}`
	gen := &MacroSkeletonGenerator{Client: llm.NewMockClientWithResponses(resp)}
	tiers := map[string]domain.Tier{"落霞峰": domain.TierCity, "青云国": domain.TierKingdom, "青云王国": domain.TierKingdom}
	votes, _ := gen.Generate(context.Background(), "测试", domain.GenreFantasy, tiers, nil)

	require.Equal(t, 0, votes.WeightOf("落霞峰", "虚构地名"))
}
