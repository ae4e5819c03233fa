package hierarchy

import (
	"sort"
	"strings"

	"novelpipe/internal/domain"
)

// Scene is one (chapter, index, location) point in the novel's reading
// order, used to infer spatial containment from consecutive transitions.
type Scene struct {
	Chapter   int
	Index     int
	Location  string
	EventType string
}

// SceneAnalysis carries the auxiliary signals SceneTransitionAnalyzer
// derives alongside its parent votes.
type SceneAnalysis struct {
	SiblingGroups [][]string
	HubNodes      map[string][]string
}

type transitionEdge struct {
	count      int
	eventTypes map[string]bool
}

type locPair struct{ a, b string }

// AnalyzeSceneTransitions builds a directed transition graph of
// consecutive, same-chapter scenes and derives parent votes, sibling
// groups, and hub nodes from it. Purely algorithmic, zero LLM cost.
func AnalyzeSceneTransitions(scenes []Scene) (*domain.ParentVote, SceneAnalysis) {
	filtered := make([]Scene, 0, len(scenes))
	for _, s := range scenes {
		if s.Location != "" {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) < 2 {
		return domain.NewParentVote(), SceneAnalysis{HubNodes: map[string][]string{}}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Chapter != filtered[j].Chapter {
			return filtered[i].Chapter < filtered[j].Chapter
		}
		return filtered[i].Index < filtered[j].Index
	})

	graph := buildTransitionGraph(filtered)
	votes, siblingGroups, hubNodes := inferContainment(graph)

	analysis := SceneAnalysis{HubNodes: map[string][]string{}}
	for node, neighbors := range hubNodes {
		var list []string
		for n := range neighbors {
			list = append(list, n)
		}
		sort.Strings(list)
		analysis.HubNodes[node] = list
	}
	for _, g := range siblingGroups {
		var list []string
		for n := range g {
			list = append(list, n)
		}
		sort.Strings(list)
		analysis.SiblingGroups = append(analysis.SiblingGroups, list)
	}
	return votes, analysis
}

func buildTransitionGraph(scenes []Scene) map[string]map[string]*transitionEdge {
	graph := map[string]map[string]*transitionEdge{}
	for i := 0; i+1 < len(scenes); i++ {
		cur, next := scenes[i], scenes[i+1]
		if cur.Chapter != next.Chapter {
			continue
		}
		if cur.Location == next.Location {
			continue
		}
		if graph[cur.Location] == nil {
			graph[cur.Location] = map[string]*transitionEdge{}
		}
		edge, ok := graph[cur.Location][next.Location]
		if !ok {
			edge = &transitionEdge{eventTypes: map[string]bool{}}
			graph[cur.Location][next.Location] = edge
		}
		edge.count++
		if next.EventType != "" {
			edge.eventTypes[next.EventType] = true
		}
	}
	return graph
}

func inferContainment(graph map[string]map[string]*transitionEdge) (*domain.ParentVote, []map[string]bool, map[string]map[string]bool) {
	votes := domain.NewParentVote()

	bidirectional := map[locPair]int{}
	for a, targets := range graph {
		for b, edgeAB := range targets {
			edgeBA, ok := graph[b][a]
			if !ok {
				continue
			}
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			key := locPair{lo, hi}
			if _, seen := bidirectional[key]; seen {
				continue
			}
			bidirectional[key] = edgeAB.count + edgeBA.count
		}
	}

	var siblingPairs []locPair
	for key, total := range bidirectional {
		if total < 3 {
			continue
		}
		travel := false
		if e, ok := graph[key.a][key.b]; ok && (e.eventTypes["旅行"] || e.eventTypes["travel"]) {
			travel = true
		}
		if e, ok := graph[key.b][key.a]; ok && (e.eventTypes["旅行"] || e.eventTypes["travel"]) {
			travel = true
		}
		if !travel {
			siblingPairs = append(siblingPairs, key)
		}
	}
	siblingGroups := mergeSiblingGroups(siblingPairs)

	for a, targets := range graph {
		for b := range targets {
			switch {
			case len(b) > len(a) && strings.HasPrefix(b, a):
				votes.Add(b, a, 2)
			case len(a) > len(b) && strings.HasPrefix(a, b):
				votes.Add(a, b, 2)
			}
		}
	}

	neighborCounts := map[string]map[string]bool{}
	for key := range bidirectional {
		if neighborCounts[key.a] == nil {
			neighborCounts[key.a] = map[string]bool{}
		}
		if neighborCounts[key.b] == nil {
			neighborCounts[key.b] = map[string]bool{}
		}
		neighborCounts[key.a][key.b] = true
		neighborCounts[key.b][key.a] = true
	}

	hubNodes := map[string]map[string]bool{}
	for node, neighbors := range neighborCounts {
		if len(neighbors) < 4 {
			continue
		}
		hubNodes[node] = neighbors
		for neighbor := range neighbors {
			votes.Add(neighbor, node, 1)
		}
	}

	return votes, siblingGroups, hubNodes
}

func mergeSiblingGroups(pairs []locPair) []map[string]bool {
	parent := map[string]string{}
	var find func(string) string
	find = func(x string) string {
		p, ok := parent[x]
		if !ok {
			return x
		}
		root := find(p)
		parent[x] = root
		return root
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, p := range pairs {
		union(p.a, p.b)
	}

	groups := map[string]map[string]bool{}
	for _, p := range pairs {
		for _, node := range []string{p.a, p.b} {
			root := find(node)
			if groups[root] == nil {
				groups[root] = map[string]bool{}
			}
			groups[root][node] = true
		}
	}

	var out []map[string]bool
	for _, g := range groups {
		if len(g) >= 2 {
			out = append(out, g)
		}
	}
	return out
}
