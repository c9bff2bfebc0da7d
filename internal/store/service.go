// Package store provides the durable sqlite store for engine state:
// self-questions, lens sessions, knowledge entries, task progress,
// diary entries, and the task CRUD contract.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	// Best-effort migration for databases created before tags/notes existed.
	_, _ = db.Exec(`ALTER TABLE tasks ADD COLUMN tags TEXT NOT NULL DEFAULT '[]'`)
	_, _ = db.Exec(`ALTER TABLE tasks ADD COLUMN notes TEXT NOT NULL DEFAULT ''`)
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	var out []string
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func unmarshalStringMap(raw string) map[string]string {
	var out map[string]string
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// ---------------------------------------------------------------------------
// Self-questions
// ---------------------------------------------------------------------------

// InsertQuestion adds a question to the pool.
func (s *Store) InsertQuestion(q *SelfQuestion) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO self_questions (id, session_id, text, category, use_count, last_used, effectiveness, created_at, retired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SessionID, q.Text, q.Category, q.UseCount, q.LastUsed, q.Effectiveness, q.CreatedAt, q.RetiredAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// ListQuestions returns the pool for a session, oldest first.
// Retired entries are included only when includeRetired is set.
func (s *Store) ListQuestions(sessionID string, includeRetired bool) ([]SelfQuestion, error) {
	query := `
		SELECT id, session_id, text, category, use_count, last_used, effectiveness, created_at, retired_at
		FROM self_questions WHERE session_id = ?`
	if !includeRetired {
		query += ` AND retired_at IS NULL`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []SelfQuestion
	for rows.Next() {
		var q SelfQuestion
		var lastUsed, retired sql.NullTime
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Text, &q.Category, &q.UseCount, &lastUsed, &q.Effectiveness, &q.CreatedAt, &retired); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			q.LastUsed = &t
		}
		if retired.Valid {
			t := retired.Time
			q.RetiredAt = &t
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// CountActiveQuestions returns the number of non-retired questions.
func (s *Store) CountActiveQuestions(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM self_questions WHERE session_id = ? AND retired_at IS NULL`, sessionID).Scan(&n)
	return n, err
}

// RecordQuestionUse increments useCount and stamps lastUsed for one question.
func (s *Store) RecordQuestionUse(id string, usedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE self_questions SET use_count = use_count + 1, last_used = ? WHERE id = ?`, usedAt, id)
	if err != nil {
		return fmt.Errorf("record question use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("question not found: %s", id)
	}
	return nil
}

// RetireQuestion soft-deletes a question.
func (s *Store) RetireQuestion(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE self_questions SET retired_at = ? WHERE id = ? AND retired_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("retire question: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Lens sessions
// ---------------------------------------------------------------------------

// SaveLensSession persists a completed lens session. Single insert; partial
// sessions are never written.
func (s *Store) SaveLensSession(ls *LensSession) error {
	_, err := s.db.Exec(`
		INSERT INTO lens_sessions (id, session_id, trigger_text, frame_step, reframe_step, meta_lens_step, recursive_step, closure_step,
			generated_tasks, generated_kb_entries, generated_research, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ls.ID, ls.SessionID, ls.Trigger, ls.FrameStep, ls.ReframeStep, ls.MetaLensStep, ls.RecursiveStep, ls.ClosureStep,
		marshalJSON(ls.GeneratedTasks), marshalJSON(ls.GeneratedKB), marshalJSON(ls.GeneratedResearch), ls.CompletedAt)
	if err != nil {
		return fmt.Errorf("save lens session: %w", err)
	}
	return nil
}

// GetLensSession returns a lens session by id, or nil if absent.
func (s *Store) GetLensSession(id string) (*LensSession, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, trigger_text, frame_step, reframe_step, meta_lens_step, recursive_step, closure_step,
			generated_tasks, generated_kb_entries, generated_research, completed_at
		FROM lens_sessions WHERE id = ?`, id)

	var ls LensSession
	var tasks, kb, research string
	err := row.Scan(&ls.ID, &ls.SessionID, &ls.Trigger, &ls.FrameStep, &ls.ReframeStep, &ls.MetaLensStep, &ls.RecursiveStep, &ls.ClosureStep,
		&tasks, &kb, &research, &ls.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lens session: %w", err)
	}
	ls.GeneratedTasks = unmarshalStrings(tasks)
	ls.GeneratedKB = unmarshalStrings(kb)
	ls.GeneratedResearch = unmarshalStrings(research)
	return &ls, nil
}

// ---------------------------------------------------------------------------
// Knowledge entries
// ---------------------------------------------------------------------------

// InsertKnowledgeEntry appends a knowledge entry.
func (s *Store) InsertKnowledgeEntry(e *KnowledgeEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_entries (id, session_id, lens_session_id, timestamp, source, topic, content, tags, derived_tasks, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.LensSessionID, e.Timestamp, e.Source, e.Topic, e.Content,
		marshalJSON(e.Tags), marshalJSON(e.DerivedTasks), marshalJSON(e.Metadata))
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}
	return nil
}

// ListKnowledgeEntries returns the newest entries for a session.
func (s *Store) ListKnowledgeEntries(sessionID string, limit int) ([]KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, lens_session_id, timestamp, source, topic, content, tags, derived_tasks, metadata
		FROM knowledge_entries WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list knowledge entries: %w", err)
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		var tags, derived, meta string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.LensSessionID, &e.Timestamp, &e.Source, &e.Topic, &e.Content, &tags, &derived, &meta); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		e.Tags = unmarshalStrings(tags)
		e.DerivedTasks = unmarshalStrings(derived)
		e.Metadata = unmarshalStringMap(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountKnowledgeEntries returns the entry count for a session.
func (s *Store) CountKnowledgeEntries(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_entries WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Task progress
// ---------------------------------------------------------------------------

// GetTaskProgress returns the progress row for a task, or nil if absent.
func (s *Store) GetTaskProgress(taskID string) (*TaskProgress, error) {
	row := s.db.QueryRow(`
		SELECT task_id, session_id, stages, overall_completion, created_at, updated_at
		FROM task_progress WHERE task_id = ?`, taskID)

	var tp TaskProgress
	var stages string
	err := row.Scan(&tp.TaskID, &tp.SessionID, &stages, &tp.OverallCompletion, &tp.CreatedAt, &tp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task progress: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &tp.Stages); err != nil {
		return nil, fmt.Errorf("decode stages for %s: %w", taskID, err)
	}
	return &tp, nil
}

// SaveTaskProgress upserts a progress row.
func (s *Store) SaveTaskProgress(tp *TaskProgress) error {
	tp.UpdatedAt = time.Now()
	if tp.CreatedAt.IsZero() {
		tp.CreatedAt = tp.UpdatedAt
	}
	_, err := s.db.Exec(`
		INSERT INTO task_progress (task_id, session_id, stages, overall_completion, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			session_id = excluded.session_id,
			stages = excluded.stages,
			overall_completion = excluded.overall_completion,
			updated_at = excluded.updated_at`,
		tp.TaskID, tp.SessionID, marshalJSON(tp.Stages), tp.OverallCompletion, tp.CreatedAt, tp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task progress: %w", err)
	}
	return nil
}

// ListIncompleteProgress returns progress rows below 100% for a session.
func (s *Store) ListIncompleteProgress(sessionID string) ([]TaskProgress, error) {
	rows, err := s.db.Query(`
		SELECT task_id, session_id, stages, overall_completion, created_at, updated_at
		FROM task_progress WHERE session_id = ? AND overall_completion < 100
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list incomplete progress: %w", err)
	}
	defer rows.Close()

	var out []TaskProgress
	for rows.Next() {
		var tp TaskProgress
		var stages string
		if err := rows.Scan(&tp.TaskID, &tp.SessionID, &stages, &tp.OverallCompletion, &tp.CreatedAt, &tp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task progress: %w", err)
		}
		if err := json.Unmarshal([]byte(stages), &tp.Stages); err != nil {
			return nil, fmt.Errorf("decode stages for %s: %w", tp.TaskID, err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// CountIncompleteProgress returns the number of tracked tasks below 100%.
func (s *Store) CountIncompleteProgress(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM task_progress WHERE session_id = ? AND overall_completion < 100`, sessionID).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Diary entries
// ---------------------------------------------------------------------------

// InsertDiaryEntry appends a diary entry.
func (s *Store) InsertDiaryEntry(d *DiaryEntry) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO diary_entries (id, session_id, timestamp, kind, title, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Timestamp, d.Kind, d.Title, d.Content, marshalJSON(d.Metadata))
	if err != nil {
		return fmt.Errorf("insert diary entry: %w", err)
	}
	return nil
}

// ListDiaryEntries returns the newest diary entries for a session.
func (s *Store) ListDiaryEntries(sessionID string, limit int) ([]DiaryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, timestamp, kind, title, content, metadata
		FROM diary_entries WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list diary entries: %w", err)
	}
	defer rows.Close()

	var out []DiaryEntry
	for rows.Next() {
		var d DiaryEntry
		var meta string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Timestamp, &d.Kind, &d.Title, &d.Content, &meta); err != nil {
			return nil, fmt.Errorf("scan diary entry: %w", err)
		}
		d.Metadata = unmarshalStringMap(meta)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Tasks (CRUD contract)
// ---------------------------------------------------------------------------

// CreateTask inserts a task.
func (s *Store) CreateTask(t *Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, session_id, title, status, tags, notes, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Title, t.Status, marshalJSON(t.Tags), t.Notes, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns a task by id, or nil if absent.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, title, status, tags, notes, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?`, id)

	var t Task
	var tags string
	var completed sql.NullTime
	err := row.Scan(&t.ID, &t.SessionID, &t.Title, &t.Status, &tags, &t.Notes, &t.CreatedAt, &t.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Tags = unmarshalStrings(tags)
	if completed.Valid {
		c := completed.Time
		t.CompletedAt = &c
	}
	return &t, nil
}

// UpdateTaskStatus sets status, stamps completion when terminal.
func (s *Store) UpdateTaskStatus(id, status string) error {
	now := time.Now()
	var completed *time.Time
	if status == TaskStatusDone {
		completed = &now
	}
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		status, now, completed, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// AppendTaskNote appends a line to the task's notes.
func (s *Store) AppendTaskNote(id, note string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END, updated_at = ?
		WHERE id = ?`, note, note, time.Now(), id)
	if err != nil {
		return fmt.Errorf("append task note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ListTasks returns tasks for a session filtered by status ("" = all).
func (s *Store) ListTasks(sessionID, status string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, session_id, title, status, tags, notes, created_at, updated_at, completed_at
		FROM tasks WHERE session_id = ?`
	args := []any{sessionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var tags string
		var completed sql.NullTime
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Status, &tags, &t.Notes, &t.CreatedAt, &t.UpdatedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Tags = unmarshalStrings(tags)
		if completed.Valid {
			c := completed.Time
			t.CompletedAt = &c
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetSetting writes a session-scoped key/value pair.
func (s *Store) SetSetting(sessionID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		sessionID, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSetting reads a session-scoped value. ok is false when the key is
// absent.
func (s *Store) GetSetting(sessionID, key string) (value string, ok bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM settings WHERE session_id = ? AND key = ?`, sessionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}
