// Package hierarchy consolidates the per-chapter location_parents votes
// gathered during analysis into a single coherent tree: one uber-root, no
// cycles, and every edge pointing from a smaller location to a larger one.
package hierarchy

import (
	"sort"
	"strings"

	"novelpipe/internal/domain"
	"novelpipe/internal/logging"
)

var logger = logging.NewComponentLogger("hierarchy")

const (
	provinceTier = domain.TierContinent
	rootTier     = domain.TierWorld
	uberRootName = "天下"
)

// SynonymPair merges alias into canonical during stage 1.
type SynonymPair struct {
	Canonical string
	Alias     string
}

// Input bundles everything the consolidator needs to run one pass.
type Input struct {
	LocationParents map[string]string
	LocationTiers   map[string]domain.Tier
	GenreHint       domain.GenreHint
	IsForeign       bool
	Votes           *domain.ParentVote
	SavedParents    map[string]string
	SynonymPairs    []SynonymPair
}

// Result is the updated tree after consolidation.
type Result struct {
	LocationParents map[string]string
	LocationTiers   map[string]domain.Tier
}

// Consolidate runs the full stage pipeline described in spec.md §4.8.
func Consolidate(in Input) Result {
	parents := cloneMap(in.LocationParents)
	tiers := cloneTierMap(in.LocationTiers)
	votes := in.Votes
	if votes == nil {
		votes = domain.NewParentVote()
	}

	breakPreexistingCycles(parents, votes)
	mergeSynonyms(parents, tiers, in.SynonymPairs)
	snapshot := cloneMap(parents)

	skipChineseGeo := in.GenreHint == domain.GenreFantasy || in.GenreHint == domain.GenreUrban || in.IsForeign

	if !skipChineseGeo {
		fixProvinceTiers(parents, tiers)
		fixProvinceInversions(parents, tiers)
	}

	fixUniversalTierInversions(parents, tiers)
	rescueNoiseRoots(parents, tiers, votes)
	dampOscillation(parents, tiers, snapshot)

	if skipChineseGeo {
		uberRoot := ""
		if !in.IsForeign {
			uberRoot = uberRootName
		}
		runTieredCatchAll(parents, tiers, uberRoot, in.SavedParents)
		return Result{LocationParents: parents, LocationTiers: tiers}
	}

	applyChineseGeographyStages(parents, tiers)
	rescueGeo(parents, tiers)
	promoteLargeSubtrees(parents, tiers, in.SavedParents)
	runTieredCatchAll(parents, tiers, uberRootName, in.SavedParents)

	return Result{LocationParents: parents, LocationTiers: tiers}
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTierMap(m map[string]domain.Tier) map[string]domain.Tier {
	out := make(map[string]domain.Tier, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// safeSetParent refuses to create a self-loop or a cycle.
func safeSetParent(parents map[string]string, child, parent string) bool {
	if child == "" || parent == "" || child == parent {
		return false
	}
	prior := parents[child]
	parents[child] = parent
	if walkHasCycle(parents, child) {
		if prior == "" {
			delete(parents, child)
		} else {
			parents[child] = prior
		}
		logger.Warn("refused to set %s -> %s: would create a cycle", child, parent)
		return false
	}
	return true
}

func walkHasCycle(parents map[string]string, start string) bool {
	visited := map[string]bool{start: true}
	cur := start
	for {
		parent, ok := parents[cur]
		if !ok || parent == "" {
			return false
		}
		if visited[parent] {
			return true
		}
		visited[parent] = true
		cur = parent
	}
}

// ── Stage 0: break pre-existing cycles ──────────────────────────────

func breakPreexistingCycles(parents map[string]string, votes *domain.ParentVote) {
	names := sortedKeys(parents)
	for _, start := range names {
		cycle := findCycle(parents, start)
		if cycle == nil {
			continue
		}
		weakestChild, weakestParent := "", ""
		weakestWeight := -1
		for _, child := range cycle {
			parent := parents[child]
			w := votes.WeightOf(child, parent)
			if weakestWeight == -1 || w < weakestWeight || (w == weakestWeight && child > weakestChild) {
				weakestChild, weakestParent, weakestWeight = child, parent, w
			}
		}
		if weakestChild != "" {
			delete(parents, weakestChild)
			logger.Info("broke cycle at %s -> %s (weight %d)", weakestChild, weakestParent, weakestWeight)
		}
	}
}

// findCycle returns the cycle's member nodes (in walk order) starting from
// start, or nil if the chain from start terminates without revisiting.
func findCycle(parents map[string]string, start string) []string {
	visited := map[string]int{}
	var order []string
	cur := start
	for i := 0; ; i++ {
		if idx, ok := visited[cur]; ok {
			return order[idx:]
		}
		visited[cur] = i
		order = append(order, cur)
		parent, ok := parents[cur]
		if !ok || parent == "" {
			return nil
		}
		cur = parent
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── Stage 1: synonym merge ──────────────────────────────────────────

func mergeSynonyms(parents map[string]string, tiers map[string]domain.Tier, pairs []SynonymPair) {
	for _, p := range pairs {
		for child, parent := range parents {
			if parent == p.Alias {
				parents[child] = p.Canonical
			}
		}
		delete(parents, p.Alias)
		delete(tiers, p.Alias)
	}
}

// ── Stage 3/4: province tier + inversion fixes (skipped for fantasy/urban/foreign) ──

func fixProvinceTiers(parents map[string]string, tiers map[string]domain.Tier) {
	known := collectAllNames(parents, tiers)
	for prov := range provinces {
		if known[prov] {
			tiers[prov] = provinceTier
		}
	}
}

func fixProvinceInversions(parents map[string]string, tiers map[string]domain.Tier) {
	for prov := range provinces {
		currentParent, ok := parents[prov]
		if !ok || currentParent == "" {
			continue
		}
		if provinces[currentParent] || currentParent == uberRootName {
			continue
		}
		if domain.TierIndex(tiers[currentParent]) <= domain.TierIndex(domain.TierContinent) {
			continue
		}
		delete(parents, prov)
		safeSetParent(parents, currentParent, prov)
	}
}

// ── Stage 5: universal tier-inversion fixes ─────────────────────────

func fixUniversalTierInversions(parents map[string]string, tiers map[string]domain.Tier) {
	type inversion struct{ child, parent string }
	var inverted []inversion

	for child, parent := range parents {
		childSuf, childOk := getSuffixRank(child)
		parentSuf, parentOk := getSuffixRank(parent)
		if childOk && parentOk {
			if parentSuf > childSuf {
				inverted = append(inverted, inversion{child, parent})
			}
			continue
		}
		childTier, parentTier := domain.TierIndex(tiers[child]), domain.TierIndex(tiers[parent])
		if childTier < 0 || parentTier < 0 {
			continue
		}
		if parentTier > childTier {
			inverted = append(inverted, inversion{child, parent})
		}
	}

	for _, inv := range inverted {
		delete(parents, inv.child)
		if _, hasParent := parents[inv.parent]; !hasParent {
			safeSetParent(parents, inv.parent, inv.child)
		}
	}
}

// ── Stage 6: noise-root rescue ───────────────────────────────────────

func rescueNoiseRoots(parents map[string]string, tiers map[string]domain.Tier, votes *domain.ParentVote) {
	roots := findRoots(parents)
	for _, root := range roots {
		if !isSubLocationName(root) {
			continue
		}
		children := childrenOf(parents, root)
		if len(children) == 0 {
			continue
		}
		best := pickBestChild(children, tiers, votes, root)
		for _, c := range children {
			if c == best {
				continue
			}
			safeSetParent(parents, c, best)
		}
		delete(parents, root)
		safeSetParent(parents, root, best)
	}
}

func isSubLocationName(name string) bool {
	if provinces[name] || name == uberRootName {
		return false
	}
	for _, suffix := range locationSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len([]rune(suffix)) {
			return true
		}
	}
	return false
}

func pickBestChild(children []string, tiers map[string]domain.Tier, votes *domain.ParentVote, root string) string {
	best, bestRank := "", 1<<30
	for _, c := range children {
		rank := domain.TierIndex(tiers[c])
		if rank < 0 {
			rank = 1 << 29
		}
		if votes.WeightOf(c, root) > 0 {
			rank -= 1
		}
		if best == "" || rank < bestRank || (rank == bestRank && c < best) {
			best, bestRank = c, rank
		}
	}
	return best
}

func findRoots(parents map[string]string) []string {
	children := map[string]bool{}
	for c := range parents {
		children[c] = true
	}
	seen := map[string]bool{}
	var roots []string
	for _, p := range parents {
		if children[p] {
			continue
		}
		if !seen[p] {
			seen[p] = true
			roots = append(roots, p)
		}
	}
	sort.Strings(roots)
	return roots
}

func childrenOf(parents map[string]string, name string) []string {
	var out []string
	for c, p := range parents {
		if p == name {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// ── Stage 7: oscillation damping ────────────────────────────────────

func dampOscillation(parents map[string]string, tiers map[string]domain.Tier, snapshot map[string]string) {
	for child, parent := range parents {
		if snapshot[parent] != child {
			continue
		}
		if edgeUnambiguouslyJustified(child, parent, tiers) {
			continue
		}
		parents[child] = snapshot[child]
	}
}

func edgeUnambiguouslyJustified(child, parent string, tiers map[string]domain.Tier) bool {
	childSuf, childOk := getSuffixRank(child)
	parentSuf, parentOk := getSuffixRank(parent)
	if childOk && parentOk {
		return parentSuf < childSuf
	}
	childTier, parentTier := domain.TierIndex(tiers[child]), domain.TierIndex(tiers[parent])
	if childTier < 0 || parentTier < 0 {
		return false
	}
	return parentTier < childTier
}

// ── Stages 9-10: Chinese geography bridging ─────────────────────────

func applyChineseGeographyStages(parents map[string]string, tiers map[string]domain.Tier) {
	for name := range collectAllNames(parents, tiers) {
		if province, local, ok := parseCompoundName(name); ok {
			if _, known := parents[local]; !known {
				parents[local] = province
			}
			if tiers[province] == "" {
				tiers[province] = provinceTier
			}
			provinces[province] = true
		}
	}

	known := collectAllNames(parents, tiers)
	for name := range known {
		if base, ok := parseLocationSuffix(name, known); ok {
			safeSetParent(parents, name, base)
			continue
		}
		if base, ok := parseVariantName(name, known); ok {
			safeSetParent(parents, name, base)
		}
	}

	for _, root := range unparentedNames(parents, known, uberRootName) {
		if province, ok := geoProvinceOf(root); ok {
			provinces[province] = true
			safeSetParent(parents, root, province)
		}
	}

	for prov := range provinces {
		if _, known := parents[prov]; !known {
			if tiers[prov] != "" || hasAnyChild(parents, prov) {
				safeSetParent(parents, prov, uberRootName)
			}
		}
	}
	for _, root := range unparentedNames(parents, known, uberRootName) {
		if strings.HasSuffix(root, "国") {
			safeSetParent(parents, root, uberRootName)
		}
	}
}

func hasAnyChild(parents map[string]string, name string) bool {
	for _, p := range parents {
		if p == name {
			return true
		}
	}
	return false
}

func collectAllNames(parents map[string]string, tiers map[string]domain.Tier) map[string]bool {
	out := map[string]bool{}
	for c, p := range parents {
		out[c] = true
		out[p] = true
	}
	for n := range tiers {
		out[n] = true
	}
	return out
}

func parseCompoundName(name string) (province, local string, ok bool) {
	best := ""
	for _, prefix := range provincePrefixes {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) && len(prefix) > len(best) {
			suffix := name[len(prefix):]
			if suffix == "路上" || suffix == "一带" || suffix == "方面" || suffix == "地方" {
				continue
			}
			best = prefix
		}
	}
	if best == "" {
		return "", "", false
	}
	return best, name[len(best):], true
}

func parseLocationSuffix(name string, known map[string]bool) (base string, ok bool) {
	bestSuffix := ""
	for _, suffix := range locationSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) && len(suffix) > len(bestSuffix) {
			candidate := name[:len(name)-len(suffix)]
			if known[candidate] {
				base, bestSuffix = candidate, suffix
			}
		}
	}
	return base, base != ""
}

func parseVariantName(name string, known map[string]bool) (base string, ok bool) {
	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			candidate := name[:len(name)-len(suffix)]
			if known[candidate] {
				return candidate, true
			}
		}
	}
	return "", false
}

// ── Stage 10 (geo-rescue) ────────────────────────────────────────────

func rescueGeo(parents map[string]string, tiers map[string]domain.Tier) {
	known := collectAllNames(parents, tiers)
	for _, name := range allGeoKeys() {
		if !known[name] {
			continue
		}
		province, ok := geoProvinceOf(name)
		if !ok {
			continue
		}
		if ancestorChainIncludes(parents, name, province) {
			continue
		}
		oldParent := parents[name]
		if oldParent != "" {
			for _, sibling := range childrenOf(parents, oldParent) {
				if sibling != name {
					safeSetParent(parents, sibling, name)
				}
			}
			safeSetParent(parents, oldParent, name)
		}
		provinces[province] = true
		parents[name] = ""
		safeSetParent(parents, name, province)
	}
}

func ancestorChainIncludes(parents map[string]string, start, target string) bool {
	visited := map[string]bool{start: true}
	cur := start
	for {
		parent, ok := parents[cur]
		if !ok || parent == "" {
			return false
		}
		if parent == target {
			return true
		}
		if visited[parent] {
			return false
		}
		visited[parent] = true
		cur = parent
	}
}

// ── Stage 11: large-subtree promotion ───────────────────────────────

func promoteLargeSubtrees(parents map[string]string, tiers map[string]domain.Tier, saved map[string]string) {
	for _, root := range findRoots(parents) {
		if root == uberRootName || provinces[root] {
			continue
		}
		if countDescendants(parents, root) < 5 {
			continue
		}
		target := uberRootName
		if saved != nil {
			if sp, ok := saved[root]; ok && sp != "" {
				target = sp
			}
		}
		safeSetParent(parents, root, target)
	}
}

func countDescendants(parents map[string]string, root string) int {
	count := 0
	var walk func(string)
	walk = func(name string) {
		for _, c := range childrenOf(parents, name) {
			count++
			walk(c)
		}
	}
	walk(root)
	return count
}

// ── Stage 12: tiered catch-all ───────────────────────────────────────

func runTieredCatchAll(parents map[string]string, tiers map[string]domain.Tier, uberRoot string, saved map[string]string) {
	known := collectAllNames(parents, tiers)
	orphans := unparentedNames(parents, known, uberRoot)
	for _, orphan := range orphans {
		if orphan == uberRoot {
			continue
		}

		if base, ok := longestPrefixMatch(orphan, known, parents); ok {
			safeSetParent(parents, orphan, base)
			continue
		}

		if uberRoot != "" {
			if dominant, ok := dominantDescendant(parents, uberRoot); ok {
				safeSetParent(parents, orphan, dominant)
				continue
			}
		}

		if saved != nil {
			if sp, ok := saved[orphan]; ok && sp != "" && sp != uberRoot {
				if _, stillExists := known[sp]; stillExists {
					safeSetParent(parents, orphan, sp)
					continue
				}
			}
		}

		if uberRoot == "" {
			continue
		}
		rank := domain.TierIndex(tiers[orphan])
		if rank >= 0 && rank <= domain.TierIndex(domain.TierCity) {
			safeSetParent(parents, orphan, uberRoot)
		}
	}
}

// unparentedNames returns every known location name that has no parent
// edge yet, excluding uberRoot itself. Unlike findRoots (which only sees
// nodes that appear as someone's parent), this also catches isolated
// locations that never appear on either side of an edge.
func unparentedNames(parents map[string]string, known map[string]bool, uberRoot string) []string {
	var out []string
	for name := range known {
		if name == uberRoot || name == "" {
			continue
		}
		if p, ok := parents[name]; ok && p != "" {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func longestPrefixMatch(name string, known map[string]bool, parents map[string]string) (string, bool) {
	best := ""
	for candidate := range known {
		if candidate == name {
			continue
		}
		if strings.HasPrefix(name, candidate) && len(candidate) > len(best) {
			best = candidate
		}
	}
	return best, best != ""
}

// dominantDescendant walks up to 3 levels from root looking for the
// descendant with the most sub-descendants, skipping realm-keyword nodes.
func dominantDescendant(parents map[string]string, root string) (string, bool) {
	type node struct {
		name  string
		depth int
	}
	queue := []node{{root, 0}}
	best, bestCount := "", -1
	visited := map[string]bool{root: true}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n.depth >= 3 {
			continue
		}
		for _, c := range childrenOf(parents, n.name) {
			if visited[c] {
				continue
			}
			visited[c] = true
			queue = append(queue, node{c, n.depth + 1})
			if isRealmKeywordNode(c) {
				continue
			}
			count := countDescendants(parents, c)
			if count > bestCount {
				best, bestCount = c, count
			}
		}
	}
	if bestCount >= 2 {
		return best, true
	}
	return "", false
}

func isRealmKeywordNode(name string) bool {
	for _, kw := range []string{"三界", "仙界", "魔界"} {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
