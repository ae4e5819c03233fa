package store

import (
	"path/filepath"
	"testing"

	"novelpipe/internal/domain"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNovelAndChapterRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", "wuxia"))
	require.NoError(t, s.SaveChapter("novel-1", 1, "第一章 正文内容"))

	text, err := s.GetChapter("novel-1", 1)
	require.NoError(t, err)
	require.Equal(t, "第一章 正文内容", text)

	max, err := s.MaxChapterNum("novel-1")
	require.NoError(t, err)
	require.Equal(t, 1, max)
}

func TestChapterFactRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))

	fact := domain.ChapterFact{
		NovelID:    "novel-1",
		ChapterNum: 3,
		Characters: []domain.Character{{Name: "韩立"}},
	}
	require.NoError(t, s.SaveChapterFact(fact))

	got, err := s.GetChapterFact("novel-1", 3)
	require.NoError(t, err)
	require.Equal(t, "韩立", got.Characters[0].Name)

	all, err := s.ListChapterFacts("novel-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestWorldStructureRoundTripDefaultsWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))

	ws, err := s.GetWorldStructure("novel-1")
	require.NoError(t, err)
	require.Equal(t, "novel-1", ws.NovelID)
	require.Contains(t, ws.Layers, domain.DefaultOverworldLayerID)
}

func TestWorldStructureSaveRejectsCycle(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))

	ws := domain.NewWorldStructure("novel-1")
	ws.LocationParents["a"] = "b"
	ws.LocationParents["b"] = "a"

	err := s.SaveWorldStructure(ws)
	require.Error(t, err)
}

func TestOverrideRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))
	require.NoError(t, s.SaveOverride("novel-1", "落霞峰", "tier", "site"))

	overrides, err := s.ListOverrides("novel-1")
	require.NoError(t, err)
	require.Equal(t, `"site"`, string(overrides["落霞峰"]["tier"]))
}

func TestEntityDictionaryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))
	require.NoError(t, s.UpsertEntity("novel-1", domain.EntityDictEntry{
		NovelID: "novel-1", Name: "黄枫谷", EntityType: domain.EntityLocation,
	}))

	entities, err := s.ListEntities("novel-1")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, "黄枫谷", entities[0].Name)
}

func TestTaskRoundTripAndActiveLookup(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertNovel("novel-1", "Test Novel", ""))

	task := domain.AnalysisTask{ID: "task-1", NovelID: "novel-1", Status: domain.TaskRunning, TotalChapters: 10}
	require.NoError(t, s.SaveTask(task))

	loaded, err := s.GetTask("task-1")
	require.NoError(t, err)
	require.Equal(t, domain.TaskRunning, loaded.Status)
	require.Equal(t, 10, loaded.TotalChapters)

	active, ok, err := s.GetActiveTaskForNovel("novel-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "task-1", active.ID)

	task.Status = domain.TaskCompleted
	task.CurrentChapter = 10
	require.NoError(t, s.SaveTask(task))

	_, ok, err = s.GetActiveTaskForNovel("novel-1")
	require.NoError(t, err)
	require.False(t, ok)

	tasks, err := s.ListTasksForNovel("novel-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, domain.TaskCompleted, tasks[0].Status)
}

func TestGetTaskMissingReturnsError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTask("missing")
	require.Error(t, err)
}
