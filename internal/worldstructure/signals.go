package worldstructure

import (
	"regexp"
	"strings"

	"novelpipe/internal/domain"
)

// signalType is the closed set of structural events a chapter can exhibit.
type signalType string

const (
	signalRegionDivision signalType = "region_division"
	signalLayerTransition signalType = "layer_transition"
	signalInstanceEntry  signalType = "instance_entry"
	signalMacroGeography signalType = "macro_geography"
)

// signal is one detected structural event, carrying the excerpt that
// triggered it for later LLM context.
type signal struct {
	Type    signalType `json:"type"`
	Excerpt string     `json:"excerpt"`
}

var regionDivPattern = regexp.MustCompile(`(分|划)为[0-9一二三四五六七八九十]+[大]?(部洲|大陆|界|域|国)`)

var layerTransKeywords = []string{"上了天", "到天宫", "进了地府", "入冥界", "潜入海底"}
var layerTransLocKeywords = []string{"天宫", "天庭", "天界", "地府", "冥界", "海底", "龙宫"}

var instanceEntryKeywords = []string{"走进洞", "入洞", "进了洞", "进入阵"}
var instanceTypePattern = regexp.MustCompile(`(洞|府|宫|阵|秘境|幻境|禁地)`)

// scanSignals implements spec §4.6 step 3: a single pass over the chapter
// text and its extracted locations, producing every structural signal
// present. Order of signal types within the slice follows detection order,
// not severity.
func (a *Agent) scanSignals(chapterNum int, chapterText string, fact domain.ChapterFact) []signal {
	var out []signal

	if m := regionDivPattern.FindString(chapterText); m != "" {
		out = append(out, signal{Type: signalRegionDivision, Excerpt: m})
	}

	for _, kw := range layerTransKeywords {
		if idx := strings.Index(chapterText, kw); idx >= 0 {
			out = append(out, signal{Type: signalLayerTransition, Excerpt: excerptAround(chapterText, idx, len(kw))})
			break
		}
	}

	for _, kw := range instanceEntryKeywords {
		if idx := strings.Index(chapterText, kw); idx >= 0 {
			out = append(out, signal{Type: signalInstanceEntry, Excerpt: excerptAround(chapterText, idx, len(kw))})
			break
		}
	}

	macroCount := 0
	for _, loc := range fact.Locations {
		if containsAny(loc.Type, macroGeoSuffixes) {
			macroCount++
		}
	}
	if macroCount > 0 {
		out = append(out, signal{Type: signalMacroGeography, Excerpt: ""})
	}

	return out
}

func excerptAround(text string, byteIdx, matchLen int) string {
	r := []rune(text)
	byteToRune := make(map[int]int, len(r))
	pos := 0
	for i, rn := range text {
		byteToRune[i] = pos
		_ = rn
		pos++
	}
	start := byteToRune[byteIdx]
	const pad = 15
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := start + matchLen + pad
	if hi > len(r) {
		hi = len(r)
	}
	return string(r[lo:hi])
}

// shouldTriggerLLM implements spec §4.6 step 5: the five independent
// conditions under which a heuristic-only pass is insufficient.
func (a *Agent) shouldTriggerLLM(chapterNum int, signals []signal, fact domain.ChapterFact, ws domain.WorldStructure) bool {
	if chapterNum <= 5 {
		return true
	}
	for _, s := range signals {
		if s.Type == signalRegionDivision {
			return true
		}
	}
	for _, s := range signals {
		if s.Type != signalLayerTransition {
			continue
		}
		if !containsAny(s.Excerpt, layerTransLocKeywords) {
			continue
		}
		layerID := detectLayer(s.Excerpt)
		if layerID != "" && !hasLayer(ws, layerID) {
			return true
		}
	}

	macroCount := 0
	for _, loc := range fact.Locations {
		if containsAny(loc.Type, macroGeoSuffixes) {
			macroCount++
		}
	}
	if macroCount >= 2 {
		return true
	}

	if chapterNum%20 == 0 {
		return true
	}
	return false
}
