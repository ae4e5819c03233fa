// Package store persists novels, chapters, extracted facts, world
// structures, and the entity dictionary to a single-file SQLite database.
// Schema and pragma conventions are adapted from the donor's local sqlite
// store: a single *sql.DB, WAL journaling, foreign keys on, and JSON-blob
// columns for the nested structures that don't warrant their own tables.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"novelpipe/internal/domain"
	"novelpipe/internal/logging"

	_ "modernc.org/sqlite"
)

var logger = logging.NewComponentLogger("store")

// Store is the single persistence boundary for the pipeline.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or reuses) the sqlite file at path, applies pragmas, and
// runs schema migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("failed to apply %q: %v", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS novels (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	genre_hint TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
	novel_id TEXT NOT NULL,
	chapter_num INTEGER NOT NULL,
	raw_text TEXT NOT NULL,
	char_count INTEGER NOT NULL,
	PRIMARY KEY (novel_id, chapter_num),
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chapter_facts (
	novel_id TEXT NOT NULL,
	chapter_num INTEGER NOT NULL,
	fact_json TEXT NOT NULL,
	is_truncated INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (novel_id, chapter_num),
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS world_structures (
	novel_id TEXT PRIMARY KEY,
	structure_json TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS world_structure_overrides (
	novel_id TEXT NOT NULL,
	location_name TEXT NOT NULL,
	field TEXT NOT NULL,
	value_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (novel_id, location_name, field),
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS entity_dictionary (
	novel_id TEXT NOT NULL,
	name TEXT NOT NULL,
	entry_json TEXT NOT NULL,
	PRIMARY KEY (novel_id, name),
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS analysis_tasks (
	id TEXT PRIMARY KEY,
	novel_id TEXT NOT NULL,
	status TEXT NOT NULL,
	current_chapter INTEGER NOT NULL DEFAULT 0,
	total_chapters INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY (novel_id) REFERENCES novels(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_analysis_tasks_novel ON analysis_tasks(novel_id);
CREATE INDEX IF NOT EXISTS idx_chapter_facts_novel ON chapter_facts(novel_id);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// UpsertNovel creates the novel row if absent, otherwise touches updated_at.
func (s *Store) UpsertNovel(id, title, genreHint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO novels (id, title, genre_hint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
	`, id, title, genreHint, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert novel: %w", err)
	}
	return nil
}

// SaveChapter stores the raw chapter text, keyed by (novelID, chapterNum).
func (s *Store) SaveChapter(novelID string, chapterNum int, rawText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO chapters (novel_id, chapter_num, raw_text, char_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(novel_id, chapter_num) DO UPDATE SET raw_text = excluded.raw_text, char_count = excluded.char_count
	`, novelID, chapterNum, rawText, len([]rune(rawText)))
	if err != nil {
		return fmt.Errorf("store: save chapter: %w", err)
	}
	return nil
}

// GetChapter returns the raw text for a single chapter.
func (s *Store) GetChapter(novelID string, chapterNum int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var text string
	err := s.db.QueryRow(`SELECT raw_text FROM chapters WHERE novel_id = ? AND chapter_num = ?`, novelID, chapterNum).Scan(&text)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: chapter %d not found for novel %s", chapterNum, novelID)
	}
	if err != nil {
		return "", fmt.Errorf("store: get chapter: %w", err)
	}
	return text, nil
}

// MaxChapterNum returns the highest stored chapter number for a novel, or
// 0 if none exist.
func (s *Store) MaxChapterNum(novelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(chapter_num) FROM chapters WHERE novel_id = ?`, novelID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: max chapter: %w", err)
	}
	return int(max.Int64), nil
}

// SaveChapterFact persists the extracted fact for one chapter.
func (s *Store) SaveChapterFact(fact domain.ChapterFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("store: marshal fact: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO chapter_facts (novel_id, chapter_num, fact_json, is_truncated, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(novel_id, chapter_num) DO UPDATE SET fact_json = excluded.fact_json, is_truncated = excluded.is_truncated
	`, fact.NovelID, fact.ChapterNum, string(blob), boolToInt(fact.IsTruncated), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: save chapter fact: %w", err)
	}
	return nil
}

// GetChapterFact loads the extracted fact for one chapter.
func (s *Store) GetChapterFact(novelID string, chapterNum int) (domain.ChapterFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blob string
	err := s.db.QueryRow(`SELECT fact_json FROM chapter_facts WHERE novel_id = ? AND chapter_num = ?`, novelID, chapterNum).Scan(&blob)
	if err == sql.ErrNoRows {
		return domain.ChapterFact{}, fmt.Errorf("store: fact for chapter %d not found", chapterNum)
	}
	if err != nil {
		return domain.ChapterFact{}, fmt.Errorf("store: get chapter fact: %w", err)
	}
	var fact domain.ChapterFact
	if err := json.Unmarshal([]byte(blob), &fact); err != nil {
		return domain.ChapterFact{}, fmt.Errorf("store: unmarshal fact: %w", err)
	}
	return fact, nil
}

// ListChapterFacts loads every chapter fact for a novel, ordered by
// chapter number ascending.
func (s *Store) ListChapterFacts(novelID string) ([]domain.ChapterFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT fact_json FROM chapter_facts WHERE novel_id = ? ORDER BY chapter_num ASC`, novelID)
	if err != nil {
		return nil, fmt.Errorf("store: list chapter facts: %w", err)
	}
	defer rows.Close()

	var out []domain.ChapterFact
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("store: scan chapter fact: %w", err)
		}
		var fact domain.ChapterFact
		if err := json.Unmarshal([]byte(blob), &fact); err != nil {
			return nil, fmt.Errorf("store: unmarshal fact: %w", err)
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

// SaveWorldStructure persists the current WorldStructure, running the
// cycle-breaker check as a last safety net before writing (spec §9: a
// LocationParents edge that would create a cycle must never reach disk).
func (s *Store) SaveWorldStructure(ws domain.WorldStructure) error {
	for child := range ws.LocationParents {
		if ws.HasCycle(child) {
			return fmt.Errorf("store: refusing to save world structure: cycle reachable from %q", child)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("store: marshal world structure: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO world_structures (novel_id, structure_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(novel_id) DO UPDATE SET structure_json = excluded.structure_json, updated_at = excluded.updated_at
	`, ws.NovelID, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: save world structure: %w", err)
	}
	return nil
}

// GetWorldStructure loads the WorldStructure for a novel, or a fresh
// default skeleton if none has been saved yet.
func (s *Store) GetWorldStructure(novelID string) (domain.WorldStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blob string
	err := s.db.QueryRow(`SELECT structure_json FROM world_structures WHERE novel_id = ?`, novelID).Scan(&blob)
	if err == sql.ErrNoRows {
		return domain.NewWorldStructure(novelID), nil
	}
	if err != nil {
		return domain.WorldStructure{}, fmt.Errorf("store: get world structure: %w", err)
	}
	var ws domain.WorldStructure
	if err := json.Unmarshal([]byte(blob), &ws); err != nil {
		return domain.WorldStructure{}, fmt.Errorf("store: unmarshal world structure: %w", err)
	}
	return ws, nil
}

// SaveOverride records a user's manual field override for a location,
// which later takes precedence over both heuristics and LLM output.
func (s *Store) SaveOverride(novelID, locationName, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal override value: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO world_structure_overrides (novel_id, location_name, field, value_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(novel_id, location_name, field) DO UPDATE SET value_json = excluded.value_json
	`, novelID, locationName, field, string(blob), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: save override: %w", err)
	}
	return nil
}

// ListOverrides returns every override recorded for a novel as
// field -> raw JSON value, grouped by location name.
func (s *Store) ListOverrides(novelID string) (map[string]map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT location_name, field, value_json FROM world_structure_overrides WHERE novel_id = ?`, novelID)
	if err != nil {
		return nil, fmt.Errorf("store: list overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]json.RawMessage)
	for rows.Next() {
		var loc, field, value string
		if err := rows.Scan(&loc, &field, &value); err != nil {
			return nil, fmt.Errorf("store: scan override: %w", err)
		}
		if out[loc] == nil {
			out[loc] = make(map[string]json.RawMessage)
		}
		out[loc][field] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// UpsertEntity adds or replaces an entity dictionary entry.
func (s *Store) UpsertEntity(novelID string, entry domain.EntityDictEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal entity: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO entity_dictionary (novel_id, name, entry_json)
		VALUES (?, ?, ?)
		ON CONFLICT(novel_id, name) DO UPDATE SET entry_json = excluded.entry_json
	`, novelID, entry.Name, string(blob))
	if err != nil {
		return fmt.Errorf("store: upsert entity: %w", err)
	}
	return nil
}

// ListEntities returns the full entity dictionary for a novel.
func (s *Store) ListEntities(novelID string) ([]domain.EntityDictEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT entry_json FROM entity_dictionary WHERE novel_id = ?`, novelID)
	if err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	var out []domain.EntityDictEntry
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("store: scan entity: %w", err)
		}
		var entry domain.EntityDictEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return nil, fmt.Errorf("store: unmarshal entity: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveTask creates or updates an analysis task row.
func (s *Store) SaveTask(task domain.AnalysisTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO analysis_tasks (id, novel_id, status, current_chapter, total_chapters, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_chapter = excluded.current_chapter,
			total_chapters = excluded.total_chapters,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, task.ID, task.NovelID, string(task.Status), task.CurrentChapter, task.TotalChapters, nullableString(task.Error), now, now)
	if err != nil {
		return fmt.Errorf("store: save task: %w", err)
	}
	return nil
}

// GetTask loads a single task by ID.
func (s *Store) GetTask(taskID string) (domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.scanTask(s.db.QueryRow(`
		SELECT id, novel_id, status, current_chapter, total_chapters, COALESCE(error, '')
		FROM analysis_tasks WHERE id = ?
	`, taskID))
	if err == sql.ErrNoRows {
		return domain.AnalysisTask{}, fmt.Errorf("store: task %s not found", taskID)
	}
	if err != nil {
		return domain.AnalysisTask{}, fmt.Errorf("store: get task: %w", err)
	}
	return task, nil
}

// GetActiveTaskForNovel returns the running or paused task for a novel, if
// any, enforcing the one-active-task-per-novel invariant.
func (s *Store) GetActiveTaskForNovel(novelID string) (domain.AnalysisTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`
		SELECT id, novel_id, status, current_chapter, total_chapters, COALESCE(error, '')
		FROM analysis_tasks
		WHERE novel_id = ? AND status IN ('running', 'paused')
		ORDER BY updated_at DESC LIMIT 1
	`, novelID)
	task, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return domain.AnalysisTask{}, false, nil
	}
	if err != nil {
		return domain.AnalysisTask{}, false, err
	}
	return task, true, nil
}

// ListTasksForNovel returns every task recorded for a novel, most recent first.
func (s *Store) ListTasksForNovel(novelID string) ([]domain.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT id, novel_id, status, current_chapter, total_chapters, COALESCE(error, '')
		FROM analysis_tasks WHERE novel_id = ? ORDER BY updated_at DESC
	`, novelID)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalysisTask
	for rows.Next() {
		var t domain.AnalysisTask
		var status, errStr string
		if err := rows.Scan(&t.ID, &t.NovelID, &status, &t.CurrentChapter, &t.TotalChapters, &errStr); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		t.Status = domain.TaskStatus(status)
		t.Error = errStr
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) scanTask(row *sql.Row) (domain.AnalysisTask, error) {
	var t domain.AnalysisTask
	var status, errStr string
	err := row.Scan(&t.ID, &t.NovelID, &status, &t.CurrentChapter, &t.TotalChapters, &errStr)
	if err != nil {
		return domain.AnalysisTask{}, err
	}
	t.Status = domain.TaskStatus(status)
	t.Error = errStr
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
