package hierarchy

import (
	"context"
	"encoding/json"
	"sort"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"
)

const reviewBatchSize = 70
const maxReviewBatches = 3

var reviewConfidenceWeight = map[string]int{"high": 5, "medium": 3, "low": 1}

// Reviewer is the LLM-assisted pass that resolves orphan roots the
// heuristic and vote-based stages could not place, and audits the final
// tree for structurally suspicious placements.
type Reviewer struct {
	Client llm.Client
}

type reviewSuggestion struct {
	Child      string `json:"child"`
	Parent     string `json:"parent"`
	Confidence string `json:"confidence"`
}

type reviewResponse struct {
	Suggestions []reviewSuggestion `json:"suggestions"`
}

// Review batches orphan roots not already at world/continent tier and asks
// the LLM to suggest parents, in chunks of ~70 so each batch sees the
// confirmed suggestions of the ones before it.
func (r *Reviewer) Review(ctx context.Context, tiers map[string]domain.Tier, parents map[string]string, analysis SceneAnalysis, genreHint domain.GenreHint) *domain.ParentVote {
	votes := domain.NewParentVote()
	if r.Client == nil {
		return votes
	}

	var orphans []string
	for _, root := range unparentedNames(parents, collectAllNames(parents, tiers), "") {
		tier := tiers[root]
		if tier == domain.TierWorld || tier == domain.TierContinent {
			continue
		}
		orphans = append(orphans, root)
	}
	sort.Strings(orphans)
	if len(orphans) == 0 {
		return votes
	}

	confirmed := map[string]string{}
	batches := 0
	for i := 0; i < len(orphans) && batches < maxReviewBatches; i += reviewBatchSize {
		end := i + reviewBatchSize
		if end > len(orphans) {
			end = len(orphans)
		}
		batch := orphans[i:end]
		batches++

		req := buildReviewRequest(batch, tiers, confirmed, analysis, genreHint)
		resp, err := r.Client.Complete(ctx, req)
		if err != nil {
			logger.Warn("hierarchy review batch %d failed (non-fatal): %v", batches, err)
			continue
		}
		var parsed reviewResponse
		if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
			logger.Warn("hierarchy review batch %d unparseable (non-fatal): %v", batches, err)
			continue
		}

		known := make(map[string]bool, len(tiers))
		for name := range tiers {
			known[name] = true
		}
		for _, s := range parsed.Suggestions {
			if !known[s.Child] || !known[s.Parent] {
				continue
			}
			weight, ok := reviewConfidenceWeight[s.Confidence]
			if !ok {
				continue
			}
			votes.Add(s.Child, s.Parent, weight)
			confirmed[s.Child] = s.Parent
		}
	}
	return votes
}

func buildReviewRequest(batch []string, tiers map[string]domain.Tier, confirmed map[string]string, analysis SceneAnalysis, genreHint domain.GenreHint) llm.Request {
	blob, _ := json.Marshal(map[string]any{
		"orphans":             batch,
		"tiers":               tiers,
		"confirmed_so_far":    confirmed,
		"sibling_groups":      analysis.SiblingGroups,
		"hub_nodes":           analysis.HubNodes,
		"genre_hint":          genreHint,
	})
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "你是中文小说地点层级归属助手，为给定的孤立根地点建议所属的上级地点，只能从已知地点中选择，输出 child/parent/confidence(high/medium/low)。严格输出 JSON。"},
			{Role: "user", Content: string(blob)},
		},
		JSONFormat: true,
	}
}

type correction struct {
	Child         string `json:"child"`
	WrongParent   string `json:"wrong_parent"`
	CorrectParent string `json:"correct_parent"`
	Confidence    string `json:"confidence"`
}

type validateResponse struct {
	Corrections []correction `json:"corrections"`
}

// ValidateHierarchy is a post-consolidation structural audit. It flags
// building/site-tier nodes sitting directly under the uber-root as
// suspicious and asks the LLM for corrections; a correction is only
// applied if it still matches the node's *current* parent.
func (r *Reviewer) ValidateHierarchy(ctx context.Context, parents map[string]string, tiers map[string]domain.Tier, genreHint domain.GenreHint, uberRoot string) map[string]string {
	if r.Client == nil || uberRoot == "" {
		return parents
	}

	var suspicious []string
	for _, child := range childrenOf(parents, uberRoot) {
		tier := tiers[child]
		if tier == domain.TierBuilding || tier == domain.TierSite {
			suspicious = append(suspicious, child)
		}
	}
	if len(suspicious) == 0 {
		return parents
	}

	rootChildren := childrenOf(parents, uberRoot)
	flattened := map[string][]string{}
	for _, c := range rootChildren {
		flattened[c] = childrenOf(parents, c)
	}

	blob, _ := json.Marshal(map[string]any{
		"uber_root":       uberRoot,
		"suspicious":      suspicious,
		"root_children":   rootChildren,
		"flattened_view":  flattened,
		"tiers":           tiers,
		"genre_hint":      genreHint,
	})
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "你是中文小说地点层级审校助手，检查直接挂在天下/世界根节点下的建筑或场所级地点是否归属有误，给出修正 {child, wrong_parent, correct_parent, confidence}。严格输出 JSON。"},
			{Role: "user", Content: string(blob)},
		},
		JSONFormat: true,
	}

	resp, err := r.Client.Complete(ctx, req)
	if err != nil {
		logger.Warn("hierarchy validation failed (non-fatal): %v", err)
		return parents
	}
	var parsed validateResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		logger.Warn("hierarchy validation response unparseable (non-fatal): %v", err)
		return parents
	}

	out := cloneMap(parents)
	for _, c := range parsed.Corrections {
		if c.Confidence != "high" && c.Confidence != "medium" {
			continue
		}
		if out[c.Child] != c.WrongParent {
			continue
		}
		safeSetParent(out, c.Child, c.CorrectParent)
	}
	return out
}
