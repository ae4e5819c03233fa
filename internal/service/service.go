// Package service owns the per-novel analysis task lifecycle: starting,
// pausing, resuming, and cancelling a sequential chapter-by-chapter run of
// the extraction and world-structure pipeline, and broadcasting progress
// as it goes. The lifecycle shape (mutex-guarded bookkeeping maps, a
// sync.Once-guarded Stop, Start/Stop rather than a generic worker pool) is
// adapted from the donor's internal/app/scheduler.Scheduler, generalized
// from cron-triggered jobs to one sequential loop per novel.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"novelpipe/internal/broadcast"
	"novelpipe/internal/domain"
	"novelpipe/internal/extract"
	"novelpipe/internal/hierarchy"
	"novelpipe/internal/llm"
	"novelpipe/internal/logging"
	"novelpipe/internal/observability"
	"novelpipe/internal/store"
	"novelpipe/internal/worldstructure"

	"github.com/google/uuid"
)

var logger = logging.NewComponentLogger("service")

// entityExcerptCap bounds how much of the entity dictionary is sent to the
// extractor per chapter; mirrors the context budget's character-based
// reasoning per spec §4.2.
const entityExcerptCap = 4000

// StartOptions customizes a single StartAnalysis call.
type StartOptions struct {
	// Force reprocesses chapters that already have a persisted fact.
	Force bool
	// ExcludeChapters is skipped entirely, regardless of Force.
	ExcludeChapters map[int]bool
}

// AnalysisService orchestrates the chapter pipeline for every novel in the
// store. One instance is shared process-wide; it is safe for concurrent
// use by multiple callers (cmd/novelctl, tests).
type AnalysisService struct {
	Store      *store.Store
	Extractor  *extract.ChapterFactExtractor
	LLMClient  llm.Client
	Hub        *broadcast.Hub
	Metrics    *observability.Collector

	ContextBudgetChars int

	mu          sync.Mutex
	signals     map[string]domain.TaskStatus
	activeLoops map[string]bool
	layouts     *layoutCache
}

// NewAnalysisService wires a ready-to-use service. contextBudgetChars
// defaults to the donor-derived 8000-character figure (config.DefaultContextBudget)
// when zero.
func NewAnalysisService(st *store.Store, extractor *extract.ChapterFactExtractor, llmClient llm.Client, hub *broadcast.Hub, contextBudgetChars int) *AnalysisService {
	if contextBudgetChars <= 0 {
		contextBudgetChars = 8000
	}
	return &AnalysisService{
		Store:              st,
		Extractor:          extractor,
		LLMClient:          llmClient,
		Hub:                hub,
		ContextBudgetChars: contextBudgetChars,
		signals:            make(map[string]domain.TaskStatus),
		activeLoops:        make(map[string]bool),
		layouts:            newLayoutCache(),
	}
}

// StartAnalysis creates a new task for novelID and launches its chapter
// loop in a background goroutine. Refuses to start a second task for a
// novel that already has a running or paused task, per spec §5's
// per-novel serialization rule.
func (s *AnalysisService) StartAnalysis(ctx context.Context, novelID string, opts StartOptions) (domain.AnalysisTask, error) {
	if existing, ok, err := s.Store.GetActiveTaskForNovel(novelID); err != nil {
		return domain.AnalysisTask{}, fmt.Errorf("service: check active task: %w", err)
	} else if ok {
		return domain.AnalysisTask{}, fmt.Errorf("service: novel %s already has an active task %s (%s)", novelID, existing.ID, existing.Status)
	}

	maxChapter, err := s.Store.MaxChapterNum(novelID)
	if err != nil {
		return domain.AnalysisTask{}, fmt.Errorf("service: max chapter: %w", err)
	}

	task := domain.AnalysisTask{
		ID:            uuid.NewString(),
		NovelID:       novelID,
		Status:        domain.TaskRunning,
		TotalChapters: maxChapter,
	}
	if err := s.Store.SaveTask(task); err != nil {
		return domain.AnalysisTask{}, fmt.Errorf("service: save task: %w", err)
	}

	s.mu.Lock()
	s.signals[task.ID] = domain.TaskRunning
	s.activeLoops[task.ID] = true
	s.mu.Unlock()

	go s.runLoop(ctx, task, opts)

	return task, nil
}

// Resume relaunches the chapter loop for a paused task. A new loop starts
// only if the previous one has actually exited, tracked via activeLoops.
func (s *AnalysisService) Resume(ctx context.Context, taskID string) error {
	task, err := s.Store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskPaused {
		return fmt.Errorf("service: task %s is %s, not paused", taskID, task.Status)
	}

	s.mu.Lock()
	if s.activeLoops[taskID] {
		s.mu.Unlock()
		return fmt.Errorf("service: task %s's loop has not exited yet", taskID)
	}
	s.activeLoops[taskID] = true
	s.signals[taskID] = domain.TaskRunning
	s.mu.Unlock()

	task.Status = domain.TaskRunning
	if err := s.Store.SaveTask(task); err != nil {
		s.mu.Lock()
		delete(s.activeLoops, taskID)
		s.mu.Unlock()
		return fmt.Errorf("service: save task: %w", err)
	}
	s.publishTaskStatus(task)

	go s.runLoop(ctx, task, StartOptions{})
	return nil
}

// Pause signals a running task to stop between chapters. The desired
// status is persisted and broadcast immediately; the chapter currently in
// flight still completes.
func (s *AnalysisService) Pause(taskID string) error {
	return s.signalStatus(taskID, domain.TaskPaused)
}

// Cancel signals a running or paused task to stop permanently.
func (s *AnalysisService) Cancel(taskID string) error {
	return s.signalStatus(taskID, domain.TaskCancelled)
}

func (s *AnalysisService) signalStatus(taskID string, desired domain.TaskStatus) error {
	task, err := s.Store.GetTask(taskID)
	if err != nil {
		return err
	}
	if !domain.ActiveTaskStatuses[task.Status] {
		return fmt.Errorf("service: task %s is %s, not active", taskID, task.Status)
	}

	s.mu.Lock()
	s.signals[taskID] = desired
	s.mu.Unlock()

	task.Status = desired
	if err := s.Store.SaveTask(task); err != nil {
		return fmt.Errorf("service: save task: %w", err)
	}
	s.publishTaskStatus(task)
	return nil
}

func (s *AnalysisService) desiredStatus(taskID string) domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals[taskID]
}

func (s *AnalysisService) markLoopExited(taskID string) {
	s.mu.Lock()
	delete(s.activeLoops, taskID)
	s.mu.Unlock()
}

func (s *AnalysisService) publishTaskStatus(task domain.AnalysisTask) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(broadcast.Event{
		Type:    broadcast.EventTaskStatus,
		NovelID: task.NovelID,
		TaskID:  task.ID,
		Status:  string(task.Status),
		Done:    task.CurrentChapter,
		Total:   task.TotalChapters,
	})
}

// runLoop drives task through chapters in ascending order until it
// completes, fails, or is paused/cancelled. It always leaves activeLoops
// cleared on exit so a later Resume can relaunch.
func (s *AnalysisService) runLoop(ctx context.Context, task domain.AnalysisTask, opts StartOptions) {
	s.Metrics.IncrementActiveTasks()
	defer s.Metrics.DecrementActiveTasks()
	defer s.markLoopExited(task.ID)

	agent := worldstructure.NewAgent(task.NovelID, s.LLMClient)
	if overrides, err := s.Store.ListOverrides(task.NovelID); err == nil {
		agent.LoadOverrides(overridesToKindMap(overrides))
	} else {
		logger.Warn("task %s: load overrides: %v", task.ID, err)
	}

	for chapter := task.CurrentChapter + 1; chapter <= task.TotalChapters; chapter++ {
		switch s.desiredStatus(task.ID) {
		case domain.TaskPaused:
			return
		case domain.TaskCancelled:
			return
		}

		if opts.ExcludeChapters[chapter] {
			continue
		}
		if !opts.Force {
			if _, err := s.Store.GetChapterFact(task.NovelID, chapter); err == nil {
				task.CurrentChapter = chapter
				continue
			}
		}

		start := time.Now()
		err := s.processChapter(ctx, &task, agent, chapter)
		s.Metrics.RecordChapterProcessed(task.NovelID, chapterOutcome(err), time.Since(start))
		if err != nil {
			task.Status = domain.TaskFailed
			task.Error = err.Error()
			if saveErr := s.Store.SaveTask(task); saveErr != nil {
				logger.Error("task %s: save failed status: %v", task.ID, saveErr)
			}
			s.publishTaskStatus(task)
			logger.Error("task %s: chapter %d: %v", task.ID, chapter, err)
			return
		}

		task.CurrentChapter = chapter
		task.Status = s.desiredStatus(task.ID)
		if err := s.Store.SaveTask(task); err != nil {
			logger.Error("task %s: save progress: %v", task.ID, err)
		}
		s.layouts.invalidateNovel(task.NovelID)
		s.publishChapterDone(task, chapter, broadcast.ChapterCompleted, "")
	}

	if s.desiredStatus(task.ID) == domain.TaskCancelled {
		return
	}
	task.Status = domain.TaskCompleted
	if err := s.Store.SaveTask(task); err != nil {
		logger.Error("task %s: save completed status: %v", task.ID, err)
	}
	s.publishTaskStatus(task)
}

// processChapter runs one iteration of the per-chapter sequence from spec
// §4.10: build context, extract, validate, run the world-structure agent,
// persist.
func (s *AnalysisService) processChapter(ctx context.Context, task *domain.AnalysisTask, agent *worldstructure.Agent, chapterNum int) error {
	chapterText, err := s.Store.GetChapter(task.NovelID, chapterNum)
	if err != nil {
		return fmt.Errorf("load chapter: %w", err)
	}

	facts, err := s.Store.ListChapterFacts(task.NovelID)
	if err != nil {
		return fmt.Errorf("list prior facts: %w", err)
	}
	contextSummary := extract.BuildContext(facts, chapterNum, s.ContextBudgetChars)

	entities, err := s.Store.ListEntities(task.NovelID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	entityExcerpt := buildEntityExcerpt(entities, entityExcerptCap)

	fact, err := s.Extractor.Extract(ctx, task.NovelID, chapterNum, chapterText, entityExcerpt, contextSummary)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	fact = extract.ValidateFact(fact)

	ws, err := s.Store.GetWorldStructure(task.NovelID)
	if err != nil {
		return fmt.Errorf("load world structure: %w", err)
	}
	ws = agent.ProcessChapter(ctx, ws, chapterNum, chapterText, fact)

	if err := s.Store.SaveChapterFact(fact); err != nil {
		return fmt.Errorf("save fact: %w", err)
	}
	if err := s.Store.SaveWorldStructure(ws); err != nil {
		return fmt.Errorf("save world structure: %w", err)
	}
	return nil
}

func chapterOutcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

func (s *AnalysisService) publishChapterDone(task domain.AnalysisTask, chapter int, status broadcast.ChapterStatus, errMsg string) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(broadcast.Event{
		Type:    broadcast.EventChapterDone,
		NovelID: task.NovelID,
		TaskID:  task.ID,
		Chapter: chapter,
		Done:    task.CurrentChapter,
		Total:   task.TotalChapters,
		Status:  string(status),
		Error:   errMsg,
	})
}

// ConsolidateHierarchy runs the full HierarchyConsolidator over a novel's
// current world structure and persists the result. It is the fifth
// boundary operation of spec §6, exposed as a direct method rather than an
// HTTP endpoint.
func (s *AnalysisService) ConsolidateHierarchy(ctx context.Context, novelID string, votes *domain.ParentVote, synonyms []hierarchy.SynonymPair) error {
	ws, err := s.Store.GetWorldStructure(novelID)
	if err != nil {
		return fmt.Errorf("service: load world structure: %w", err)
	}

	result := hierarchy.Consolidate(hierarchy.Input{
		LocationParents: ws.LocationParents,
		LocationTiers:   ws.LocationTiers,
		GenreHint:       ws.NovelGenreHint,
		IsForeign:       ws.IsForeign(),
		Votes:           votes,
		SavedParents:    ws.LocationParents,
		SynonymPairs:    synonyms,
	})

	ws.LocationParents = result.LocationParents
	ws.LocationTiers = result.LocationTiers
	if err := s.Store.SaveWorldStructure(ws); err != nil {
		return fmt.Errorf("service: save world structure: %w", err)
	}
	s.layouts.invalidateNovel(novelID)
	if s.Hub != nil {
		s.Hub.Publish(broadcast.Event{
			Type:                  broadcast.EventProgress,
			NovelID:               novelID,
			WorldStructureUpdated: true,
		})
	}
	return nil
}

// overridesToKindMap flattens the store's location->field->value shape
// into the field->[]locationName shape worldstructure.Agent.LoadOverrides
// expects.
func overridesToKindMap(overrides map[string]map[string]json.RawMessage) map[string][]string {
	out := make(map[string][]string)
	for location, fields := range overrides {
		for field := range fields {
			out[field] = append(out[field], location)
		}
	}
	return out
}

// buildEntityExcerpt renders a compact "name (type)" listing of the known
// entity dictionary, capped to budget characters, for inclusion in the
// extraction prompt.
func buildEntityExcerpt(entities []domain.EntityDictEntry, budget int) string {
	var b strings.Builder
	for _, e := range entities {
		line := fmt.Sprintf("%s(%s) ", e.Name, e.EntityType)
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}
