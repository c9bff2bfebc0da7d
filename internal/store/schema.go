package store

// Schema is applied on open. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS self_questions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	text TEXT NOT NULL,
	category TEXT DEFAULT '',
	use_count INTEGER NOT NULL DEFAULT 0,
	last_used DATETIME,
	effectiveness REAL NOT NULL DEFAULT 5,
	created_at DATETIME NOT NULL,
	retired_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_questions_session ON self_questions(session_id);
CREATE INDEX IF NOT EXISTS idx_questions_active ON self_questions(session_id, retired_at);

CREATE TABLE IF NOT EXISTS lens_sessions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	trigger_text TEXT NOT NULL,
	frame_step TEXT NOT NULL,
	reframe_step TEXT NOT NULL,
	meta_lens_step TEXT NOT NULL,
	recursive_step TEXT NOT NULL,
	closure_step TEXT NOT NULL,
	generated_tasks TEXT NOT NULL DEFAULT '[]',
	generated_kb_entries TEXT NOT NULL DEFAULT '[]',
	generated_research TEXT NOT NULL DEFAULT '[]',
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lens_sessions_session ON lens_sessions(session_id);

CREATE TABLE IF NOT EXISTS knowledge_entries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	lens_session_id TEXT DEFAULT '',
	timestamp DATETIME NOT NULL,
	source TEXT NOT NULL,
	topic TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	derived_tasks TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_knowledge_session ON knowledge_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_timestamp ON knowledge_entries(timestamp);

CREATE TABLE IF NOT EXISTS task_progress (
	task_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	stages TEXT NOT NULL,
	overall_completion INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_session ON task_progress(session_id);
CREATE INDEX IF NOT EXISTS idx_progress_completion ON task_progress(session_id, overall_completion);

CREATE TABLE IF NOT EXISTS diary_entries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	kind TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_diary_session ON diary_entries(session_id, timestamp);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	tags TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_session_status ON tasks(session_id, status);

CREATE TABLE IF NOT EXISTS settings (
	session_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, key)
);
`
