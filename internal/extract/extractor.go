package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"
	"novelpipe/internal/logging"
)

var logger = logging.NewComponentLogger("extract")

// ExtractionError marks a chapter as unrecoverably failed: the LLM
// returned non-JSON, or a schema mismatch that repair could not fix.
type ExtractionError struct {
	ChapterNum int
	Reason     string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: chapter %d: %s", e.ChapterNum, e.Reason)
}

// retryLenFraction is how much the chapter text is truncated to before a
// single retry after a transient timeout.
const retryLenFraction = 2

// maxChapterLen is the point past which a chapter is segmented before
// being sent to the LLM (§4.3); segments are extracted independently and
// their facts are unioned.
const maxChapterLen = 6000

const systemPrompt = `你是一个中文长篇小说的事实抽取助手。根据提供的章节正文、已知实体词典与历史摘要，抽取本章出现的人物、关系、地点、物品事件、组织事件、剧情事件、概念与空间关系，严格按 JSON 格式输出，不要输出任何解释文字。`

// ChapterFactExtractor assembles the prompt described in spec §4.3 and
// calls the LLM, retrying once on a transient timeout with a shorter
// chapter excerpt.
type ChapterFactExtractor struct {
	Client llm.Client
	Model  string
}

// Extract produces a ChapterFact for the given chapter text, given the
// entity dictionary excerpt and the context summary built by BuildContext.
func (e *ChapterFactExtractor) Extract(ctx context.Context, novelID string, chapterNum int, chapterText string, entityExcerpt string, contextSummary string) (domain.ChapterFact, error) {
	segments := segmentChapter(chapterText, maxChapterLen)

	var merged domain.ChapterFact
	merged.NovelID = novelID
	merged.ChapterNum = chapterNum

	for i, segment := range segments {
		fact, err := e.extractSegment(ctx, chapterNum, segment, entityExcerpt, contextSummary)
		if err != nil {
			return domain.ChapterFact{}, err
		}
		if i == 0 {
			merged = fact
			merged.NovelID = novelID
			merged.ChapterNum = chapterNum
		} else {
			merged = unionFacts(merged, fact)
		}
	}

	return ValidateFact(merged), nil
}

func (e *ChapterFactExtractor) extractSegment(ctx context.Context, chapterNum int, text, entityExcerpt, contextSummary string) (domain.ChapterFact, error) {
	req := buildRequest(text, entityExcerpt, contextSummary)

	resp, err := e.Client.Complete(ctx, req)
	if err != nil {
		if llm.IsTimeout(err) {
			logger.Warn("chapter %d: timed out, retrying with truncated text", chapterNum)
			shorter := truncateRunes(text, len([]rune(text))/retryLenFraction)
			resp, err = e.Client.Complete(ctx, buildRequest(shorter, entityExcerpt, contextSummary))
			if err != nil {
				return domain.ChapterFact{}, &ExtractionError{ChapterNum: chapterNum, Reason: "timeout after retry: " + err.Error()}
			}
		} else {
			return domain.ChapterFact{}, &ExtractionError{ChapterNum: chapterNum, Reason: err.Error()}
		}
	}

	var fact domain.ChapterFact
	if err := json.Unmarshal([]byte(resp.Content), &fact); err != nil {
		return domain.ChapterFact{}, &ExtractionError{ChapterNum: chapterNum, Reason: "non-JSON or schema mismatch: " + err.Error()}
	}
	fact.IsTruncated = resp.IsTruncated
	return fact, nil
}

func buildRequest(chapterText, entityExcerpt, contextSummary string) llm.Request {
	prompt := fmt.Sprintf("已知实体词典：\n%s\n\n历史摘要：\n%s\n\n本章正文：\n%s", entityExcerpt, contextSummary, chapterText)
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		JSONFormat: true,
	}
}

func segmentChapter(text string, maxLen int) []string {
	r := []rune(text)
	if len(r) <= maxLen {
		return []string{text}
	}
	var segments []string
	for i := 0; i < len(r); i += maxLen {
		end := i + maxLen
		if end > len(r) {
			end = len(r)
		}
		segments = append(segments, string(r[i:end]))
	}
	return segments
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	if n < 0 {
		n = 0
	}
	return string(r[:n])
}

// unionFacts merges b into a by concatenating list fields; ValidateFact
// is responsible for dedup afterward.
func unionFacts(a, b domain.ChapterFact) domain.ChapterFact {
	a.Characters = append(a.Characters, b.Characters...)
	a.Relationships = append(a.Relationships, b.Relationships...)
	a.Locations = append(a.Locations, b.Locations...)
	a.ItemEvents = append(a.ItemEvents, b.ItemEvents...)
	a.OrgEvents = append(a.OrgEvents, b.OrgEvents...)
	a.Events = append(a.Events, b.Events...)
	a.NewConcepts = append(a.NewConcepts, b.NewConcepts...)
	a.SpatialRelationships = append(a.SpatialRelationships, b.SpatialRelationships...)
	a.WorldDeclarations = append(a.WorldDeclarations, b.WorldDeclarations...)
	a.IsTruncated = a.IsTruncated || b.IsTruncated
	return a
}
