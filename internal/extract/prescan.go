package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"sync"
	"unicode"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxPhase1Input caps how much chapter text Phase 1 scans; beyond this,
// counts are scaled up by the truncation ratio.
const maxPhase1Input = 1_000_000

// maxCandidates is the cap on how many Phase 1 candidates survive into
// Phase 2 classification, ordered by frequency descending.
const maxCandidates = 500

// ngramWorkers bounds how many rune-segments the n-gram counter processes
// concurrently, so a full-novel scan never ties up the calling goroutine
// (AnalysisService's own event loop, when Phase 1 runs inline with a
// chapter pipeline) for the duration of the whole scan.
const ngramWorkers = 4

var stopwords = map[string]bool{
	"这个": true, "那个": true, "什么": true, "自己": true, "一个": true, "没有": true,
	"知道": true, "时候": true, "现在": true, "因为": true, "可以": true,
}

// dialogueVerbPatterns mine 2-4 char candidate names attributed to speech.
var dialogueVerbPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\p{Han}]{2,4}?)(?:冷|淡淡|轻|笑|喝|怒|叹)?道[:：]?\s*[“"]`),
	regexp.MustCompile(`[“"][^”"]{1,60}[”"]\s*([\p{Han}]{2,4})道`),
	regexp.MustCompile(`[，。！？]\s*([\p{Han}]{2,4})道[:：]`),
}

var titleLinePattern = regexp.MustCompile(`^第[0-9一二三四五六七八九十百千]+[章回节]\s*(.*)$`)

// Suffix dictionaries mapping a trailing character to an inferred entity
// type, per spec §4.5.
var suffixTypeHints = map[rune]domain.EntityType{
	'山': domain.EntityLocation, '峰': domain.EntityLocation, '河': domain.EntityLocation,
	'江': domain.EntityLocation, '湖': domain.EntityLocation, '城': domain.EntityLocation,
	'殿': domain.EntityLocation, '宫': domain.EntityLocation, '观': domain.EntityLocation,
	'室': domain.EntityLocation, '房': domain.EntityLocation, '洞': domain.EntityLocation,
	'府': domain.EntityLocation,
	'门': domain.EntityOrg, '派': domain.EntityOrg, '宗': domain.EntityOrg,
	'会': domain.EntityOrg, '盟': domain.EntityOrg, '堂': domain.EntityOrg,
	'剑': domain.EntityItem, '刀': domain.EntityItem, '珠': domain.EntityItem,
	'丹': domain.EntityItem, '符': domain.EntityItem, '鼎': domain.EntityItem,
	'子': domain.EntityPerson, '翁': domain.EntityPerson, '侠': domain.EntityPerson,
}

// Candidate is one Phase 1 output awaiting (or past) Phase 2 classification.
type Candidate struct {
	Name       string
	Frequency  int
	EntityType domain.EntityType
	Confidence domain.Confidence
	Source     domain.EntitySource
}

// ScanPhase1 runs the statistical pre-scan: dialogue attribution mining,
// title-line extraction, suffix-type inference, and character n-gram
// frequency, merged and capped to maxCandidates by frequency. The n-gram
// count, the CPU-heavy part on a full novel, runs across a bounded
// goroutine pool so it never blocks the caller's goroutine for the whole
// scan. ctx cancellation aborts the in-flight shards early.
func ScanPhase1(ctx context.Context, text string) []Candidate {
	r := []rune(text)
	scale := 1.0
	if len(r) > maxPhase1Input {
		scale = float64(len(r)) / float64(maxPhase1Input)
		r = r[:maxPhase1Input]
		text = string(r)
	}

	freq := make(map[string]int)
	source := make(map[string]domain.EntitySource)

	for _, pat := range dialogueVerbPatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if stopwords[name] {
				continue
			}
			freq[name]++
			source[name] = domain.SourceDialogue
		}
	}

	for _, line := range splitLines(text) {
		if m := titleLinePattern.FindStringSubmatch(line); m != nil {
			for _, tok := range extractHanTokens(m[1]) {
				if stopwords[tok] {
					continue
				}
				freq[tok]++
				if _, ok := source[tok]; !ok {
					source[tok] = domain.SourceTitle
				}
			}
		}
	}

	ngramMinFreq := ngramThreshold(len(r))
	ngramCounts, err := countNgramsPooled(ctx, text, 2, 4)
	if err != nil {
		logger.Warn("entity phase 1 n-gram scan cancelled: %v", err)
	}
	for name, count := range ngramCounts {
		if stopwords[name] || count < ngramMinFreq {
			continue
		}
		if _, exists := freq[name]; exists {
			continue
		}
		freq[name] = count
		source[name] = domain.SourceNgram
	}

	var out []Candidate
	for name, count := range freq {
		scaled := int(float64(count) * scale)
		cand := Candidate{Name: name, Frequency: scaled, Source: source[name]}
		cand.EntityType = inferTypeFromSuffix(name)
		cand.Confidence = confidenceFor(cand)
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

func ngramThreshold(textLen int) int {
	switch {
	case textLen < 200_000:
		return 3
	case textLen < 1_000_000:
		return 5
	default:
		return 10
	}
}

func confidenceFor(c Candidate) domain.Confidence {
	switch c.Source {
	case domain.SourceDialogue, domain.SourceTitle:
		return domain.ConfidenceHigh
	case domain.SourceSuffix:
		return domain.ConfidenceMedium
	case domain.SourceFreq:
		if c.Frequency >= 10 {
			return domain.ConfidenceMedium
		}
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceLow
	}
}

func inferTypeFromSuffix(name string) domain.EntityType {
	r := []rune(name)
	if len(r) == 0 {
		return domain.EntityUnknown
	}
	last := r[len(r)-1]
	if t, ok := suffixTypeHints[last]; ok {
		return t
	}
	return domain.EntityUnknown
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i, r := range text {
		if r == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}

func extractHanTokens(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) >= 2 && len(cur) <= 8 {
			out = append(out, string(cur))
		}
		cur = nil
	}
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// hanSegments splits text into its maximal runs of Han characters, which
// is also the n-gram counter's natural unit of work: a shard never needs
// to see its neighbors.
func hanSegments(text string) [][]rune {
	var segments [][]rune
	var cur []rune
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cur = append(cur, r)
		} else if len(cur) > 0 {
			segments = append(segments, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		segments = append(segments, cur)
	}
	return segments
}

func countSegmentNgrams(segment []rune, minN, maxN int) map[string]int {
	counts := make(map[string]int)
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(segment); i++ {
			counts[string(segment[i:i+n])]++
		}
	}
	return counts
}

// countNgramsPooled counts n-grams across text's Han-character segments
// using a bounded goroutine pool, adapted from engine.go's
// executeDispatches semaphore-gated fan-out, combined with errgroup for
// wait/error propagation as in SubAgentOrchestrator.Execute.
func countNgramsPooled(ctx context.Context, text string, minN, maxN int) (map[string]int, error) {
	segments := hanSegments(text)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(ngramWorkers)

	var mu sync.Mutex
	total := make(map[string]int)

	for _, segment := range segments {
		segment := segment
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			local := countSegmentNgrams(segment, minN, maxN)

			mu.Lock()
			for k, v := range local {
				total[k] += v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

// classificationResult is the Phase 2 structured-output schema.
type classificationResult struct {
	Entities []struct {
		Name       string   `json:"name"`
		EntityType string   `json:"entity_type"`
		Aliases    []string `json:"aliases,omitempty"`
	} `json:"entities"`
	Rejected []string `json:"rejected"`
}

// ClassifyPhase2 sends Phase 1 candidates to the LLM for canonical typing
// and alias grouping. On any failure, Phase 1 results are returned
// unchanged (reduced confidence is the caller's responsibility to track).
func ClassifyPhase2(ctx context.Context, client llm.Client, candidates []Candidate) []domain.EntityDictEntry {
	entries := make([]domain.EntityDictEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, domain.EntityDictEntry{
			Name: c.Name, EntityType: c.EntityType, Frequency: c.Frequency,
			Confidence: c.Confidence, Source: c.Source,
		})
	}

	resp, err := client.Complete(ctx, buildPhase2Request(candidates))
	if err != nil {
		logger.Warn("entity phase 2 classification failed, keeping phase 1 results: %v", err)
		return entries
	}

	var result classificationResult
	if err := json.Unmarshal([]byte(resp.Content), &result); err != nil {
		logger.Warn("entity phase 2 response unparseable, keeping phase 1 results: %v", err)
		return entries
	}

	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		byName[e.Name] = i
	}
	rejected := make(map[string]bool, len(result.Rejected))
	for _, name := range result.Rejected {
		rejected[name] = true
	}

	for _, classified := range result.Entities {
		idx, ok := byName[classified.Name]
		if !ok {
			continue
		}
		entries[idx].EntityType = domain.EntityType(classified.EntityType)
		entries[idx].Aliases = classified.Aliases
	}

	out := entries[:0]
	for _, e := range entries {
		if !rejected[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

func buildPhase2Request(candidates []Candidate) llm.Request {
	blob, _ := json.Marshal(candidates)
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "你是一个中文小说实体分类助手，将候选名称分类为 person/location/item/org/concept，合并同一实体的多个称呼为别名组，并列出应当剔除的噪声候选。严格输出 JSON。"},
			{Role: "user", Content: string(blob)},
		},
		JSONFormat: true,
	}
}
