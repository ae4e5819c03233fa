package hierarchy

import (
	"context"
	"encoding/json"
	"sort"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"
)

// confidenceWeight maps a skeleton suggestion's confidence to a vote
// weight high enough to anchor the tree without overriding 50+ chapters
// of bottom-up votes.
var confidenceWeight = map[string]int{"high": 5, "medium": 3}

var skeletonTiers = map[domain.Tier]bool{
	domain.TierWorld: true, domain.TierContinent: true, domain.TierKingdom: true,
	domain.TierRegion: true, domain.TierCity: true,
}

type skeletonEdge struct {
	Child      string `json:"child"`
	Parent     string `json:"parent"`
	Confidence string `json:"confidence"`
}

type skeletonSynonym struct {
	Canonical string `json:"canonical"`
	Alias     string `json:"alias"`
}

type skeletonResponse struct {
	UberRoot string             `json:"uber_root"`
	Skeleton []skeletonEdge     `json:"skeleton"`
	Synonyms []skeletonSynonym  `json:"synonyms"`
}

// MacroSkeletonGenerator produces a 2-3 level top-down geographic skeleton
// via one LLM call, injected as high-weight anchor votes for the
// consolidator to reconcile against bottom-up per-chapter extraction.
type MacroSkeletonGenerator struct {
	Client llm.Client
}

// Generate returns skeleton votes and synonym pairs. Returns empty results
// (not an error) when there are too few locations to be worth anchoring,
// or when the LLM call fails — the consolidator runs fine without it.
func (g *MacroSkeletonGenerator) Generate(ctx context.Context, novelTitle string, genreHint domain.GenreHint, tiers map[string]domain.Tier, currentParents map[string]string) (*domain.ParentVote, []SynonymPair) {
	votes := domain.NewParentVote()
	if len(tiers) < 3 || g.Client == nil {
		return votes, nil
	}

	req := buildSkeletonRequest(novelTitle, genreHint, tiers, currentParents)
	resp, err := g.Client.Complete(ctx, req)
	if err != nil {
		logger.Warn("macro skeleton generation failed (non-fatal): %v", err)
		return votes, nil
	}

	var parsed skeletonResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		logger.Warn("macro skeleton response unparseable (non-fatal): %v", err)
		return votes, nil
	}

	known := make(map[string]bool, len(tiers))
	for name := range tiers {
		known[name] = true
	}
	for _, e := range parsed.Skeleton {
		if !known[e.Child] || !known[e.Parent] {
			continue
		}
		weight, ok := confidenceWeight[e.Confidence]
		if !ok {
			continue
		}
		votes.Add(e.Child, e.Parent, weight)
	}

	var pairs []SynonymPair
	for _, s := range parsed.Synonyms {
		if known[s.Canonical] && known[s.Alias] {
			pairs = append(pairs, SynonymPair{Canonical: s.Canonical, Alias: s.Alias})
		}
	}
	return votes, pairs
}

func buildSkeletonRequest(novelTitle string, genreHint domain.GenreHint, tiers map[string]domain.Tier, currentParents map[string]string) llm.Request {
	children := map[string]bool{}
	for c := range currentParents {
		children[c] = true
	}
	parentCounts := map[string]int{}
	for _, p := range currentParents {
		if !children[p] {
			parentCounts[p]++
		}
	}
	uberRoot, bestCount := "", -1
	for p, count := range parentCounts {
		if count > bestCount || (count == bestCount && p < uberRoot) {
			uberRoot, bestCount = p, count
		}
	}

	var rootChildren []string
	if uberRoot != "" {
		for c, p := range currentParents {
			if p == uberRoot {
				rootChildren = append(rootChildren, c)
			}
		}
		sort.Strings(rootChildren)
	}

	tiered := map[domain.Tier][]string{}
	for name, tier := range tiers {
		if skeletonTiers[tier] {
			tiered[tier] = append(tiered[tier], name)
		}
	}
	for tier := range tiered {
		sort.Strings(tiered[tier])
		if len(tiered[tier]) > 60 {
			tiered[tier] = tiered[tier][:60]
		}
	}

	blob, _ := json.Marshal(map[string]any{
		"novel_title":    novelTitle,
		"genre_hint":     genreHint,
		"uber_root":      uberRoot,
		"root_children":  rootChildren,
		"tiered_locations": tiered,
	})
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "你是中文小说地理骨架规划助手，基于城市级以上地点生成 2-3 层顶层地理骨架，输出 uber_root、skeleton（child/parent/confidence）与 synonyms（canonical/alias）。只使用给定地点名称，不得臆造。严格输出 JSON。"},
			{Role: "user", Content: string(blob)},
		},
		JSONFormat: true,
	}
}
