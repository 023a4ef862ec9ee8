package sqlite

const schemaDDL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS projects (
	id                   TEXT PRIMARY KEY,
	subject              TEXT NOT NULL,
	target_length        REAL NOT NULL DEFAULT 0,
	status                TEXT NOT NULL CHECK (status IN ('created','in_progress','completed','failed','cancelled')),
	config_json          TEXT NOT NULL DEFAULT '{}',
	output_summary_json  TEXT NOT NULL DEFAULT '{}',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	step_number    INTEGER NOT NULL,
	step_name      TEXT NOT NULL,
	status         TEXT NOT NULL CHECK (status IN ('pending','running','completed','failed','skipped','cancelled')),
	started_at     TEXT,
	completed_at   TEXT,
	input_data_json  TEXT NOT NULL DEFAULT '{}',
	output_data_json TEXT NOT NULL DEFAULT '{}',
	error_message  TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(project_id, step_name)
);

CREATE TABLE IF NOT EXISTS project_files (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id     TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	file_type      TEXT NOT NULL CHECK (file_type IN ('script','audio','video','image','subtitle','thumbnail','config','metadata')),
	file_category  TEXT NOT NULL DEFAULT 'other',
	file_path      TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	file_size      INTEGER NOT NULL DEFAULT 0,
	mime_type      TEXT NOT NULL DEFAULT '',
	metadata_json  TEXT NOT NULL DEFAULT '{}',
	is_temporary   INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_steps_project ON workflow_steps(project_id);
CREATE INDEX IF NOT EXISTS idx_project_files_project ON project_files(project_id);
`

// DefaultPipelineOrder is the hard-coded production step ordering the
// distilled repository used to resolve GetStepInput: the previous step in
// this list supplies the next one's input. Position in the slice is
// 0-indexed; the distilled source's step_order mapped these to 1..13.
var DefaultPipelineOrder = []string{
	"theme_selection",
	"script_generation",
	"title_generation",
	"tts_generation",
	"character_synthesis",
	"background_generation",
	"background_animation",
	"subtitle_generation",
	"video_composition",
	"audio_enhancement",
	"illustration_insertion",
	"final_encoding",
	"youtube_upload",
}
