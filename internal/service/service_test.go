package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"novelpipe/internal/broadcast"
	"novelpipe/internal/domain"
	"novelpipe/internal/extract"
	"novelpipe/internal/llm"
	"novelpipe/internal/store"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const noChangeResponse = `{"operations":[{"op":"NO_CHANGE"}],"reasoning":"ok"}`

func factJSON(chapterNum int) string {
	return `{"novel_id":"n1","chapter_num":` + itoa(chapterNum) + `,"characters":[{"name":"韩立"}],"locations":[{"name":"七玄门","type":"门派"}]}`
}

func itoa(n int) string {
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func setupNovel(t *testing.T, s *store.Store, chapters int) {
	t.Helper()
	require.NoError(t, s.UpsertNovel("n1", "Test Novel", "fantasy"))
	for i := 1; i <= chapters; i++ {
		require.NoError(t, s.SaveChapter("n1", i, "第一章 正文 韩立 七玄门"))
	}
}

func TestStartAnalysisRunsToCompletion(t *testing.T) {
	s := openTestStore(t)
	setupNovel(t, s, 3)

	extractorClient := llm.NewMockClientWithResponses(factJSON(1), factJSON(2), factJSON(3))
	agentClient := llm.NewMockClientWithResponses(noChangeResponse)
	extractor := &extract.ChapterFactExtractor{Client: extractorClient}
	hub := broadcast.NewHub()

	svc := NewAnalysisService(s, extractor, agentClient, hub, 0)
	task, err := svc.StartAnalysis(context.Background(), "n1", StartOptions{})
	require.NoError(t, err)

	waitForTerminal(t, svc, task.ID)

	final, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, final.Status)
	require.Equal(t, 3, final.CurrentChapter)

	facts, err := s.ListChapterFacts("n1")
	require.NoError(t, err)
	require.Len(t, facts, 3)
}

func TestStartAnalysisRefusesSecondActiveTask(t *testing.T) {
	s := openTestStore(t)
	setupNovel(t, s, 1)
	require.NoError(t, s.SaveTask(domain.AnalysisTask{ID: "existing", NovelID: "n1", Status: domain.TaskRunning}))

	extractor := &extract.ChapterFactExtractor{Client: llm.NewMockClientWithResponses(factJSON(1))}
	svc := NewAnalysisService(s, extractor, llm.NewMockClientWithResponses(noChangeResponse), nil, 0)

	_, err := svc.StartAnalysis(context.Background(), "n1", StartOptions{})
	require.Error(t, err)
}

func TestStartAnalysisSkipsAlreadyCompletedChapterWithoutForce(t *testing.T) {
	s := openTestStore(t)
	setupNovel(t, s, 2)
	require.NoError(t, s.SaveChapterFact(domain.ChapterFact{NovelID: "n1", ChapterNum: 1}))

	extractorClient := llm.NewMockClientWithResponses(factJSON(2))
	extractor := &extract.ChapterFactExtractor{Client: extractorClient}
	svc := NewAnalysisService(s, extractor, llm.NewMockClientWithResponses(noChangeResponse), nil, 0)

	task, err := svc.StartAnalysis(context.Background(), "n1", StartOptions{})
	require.NoError(t, err)
	waitForTerminal(t, svc, task.ID)

	final, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, final.Status)

	first, err := s.GetChapterFact("n1", 1)
	require.NoError(t, err)
	require.Empty(t, first.Characters)
}

func TestPauseRejectsUnknownTaskAndPersistsPausedStatus(t *testing.T) {
	s := openTestStore(t)
	setupNovel(t, s, 1)
	require.NoError(t, s.SaveTask(domain.AnalysisTask{ID: "t1", NovelID: "n1", Status: domain.TaskRunning}))

	svc := NewAnalysisService(s, &extract.ChapterFactExtractor{Client: llm.NewMockClientWithResponses(factJSON(1))}, llm.NewMockClientWithResponses(noChangeResponse), nil, 0)
	require.Error(t, svc.Pause("unknown-task"))

	require.NoError(t, svc.Pause("t1"))
	task, err := s.GetTask("t1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskPaused, task.Status)
}

func waitForTerminal(t *testing.T, svc *AnalysisService, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := svc.Store.GetTask(taskID)
		require.NoError(t, err)
		if task.Status == domain.TaskCompleted || task.Status == domain.TaskFailed || task.Status == domain.TaskCancelled {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status in time", taskID)
}
