package extract

import (
	"context"
	"testing"

	"novelpipe/internal/llm"

	"github.com/stretchr/testify/require"
)

func TestChapterFactExtractorParsesMockResponse(t *testing.T) {
	client := llm.NewMockClientWithResponses(`{"characters":[{"name":"韩立"}]}`)
	extractor := &ChapterFactExtractor{Client: client}

	fact, err := extractor.Extract(context.Background(), "novel-1", 1, "正文内容", "", "")
	require.NoError(t, err)
	require.Equal(t, "novel-1", fact.NovelID)
	require.Equal(t, 1, fact.ChapterNum)
	require.Len(t, fact.Characters, 1)
	require.Equal(t, "韩立", fact.Characters[0].Name)
}

func TestChapterFactExtractorRejectsNonJSON(t *testing.T) {
	client := llm.NewMockClientWithResponses("not json at all")
	extractor := &ChapterFactExtractor{Client: client}

	_, err := extractor.Extract(context.Background(), "novel-1", 1, "正文内容", "", "")
	require.Error(t, err)
	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestSegmentChapterSplitsLongText(t *testing.T) {
	text := make([]rune, maxChapterLen+10)
	for i := range text {
		text[i] = '字'
	}
	segments := segmentChapter(string(text), maxChapterLen)
	require.Len(t, segments, 2)
}
