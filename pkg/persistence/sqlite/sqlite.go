// Package sqlite is the metadata repository: a transactional store for
// projects, their workflow step records, and their registered file
// references, backed by the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yukkuri-studio/workflow-core/pkg/project"
	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
	"github.com/yukkuri-studio/workflow-core/pkg/workflow"
)

// Repository is the metadata store. The underlying *sql.DB is a pool, but
// SQLite's own file locking (plus WAL mode) serializes writers; all
// mutating operations run inside explicit transactions.
type Repository struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path, applies
// the WAL/busy-timeout/synchronous/foreign-keys/cache-size pragma set, and
// ensures the schema exists.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dataAccessError("open", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -2000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, dataAccessError("configure", err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, dataAccessError("migrate", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

func dataAccessError(op string, cause error) *taxonomy.Error {
	return taxonomy.Wrap("PROJECT_DATA_ACCESS_ERROR", taxonomy.CategoryIO, cause, "project data access failed during %s", op)
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProject inserts a new project record, rejecting a duplicate id.
func (r *Repository) CreateProject(ctx context.Context, id, subject string, targetLength float64, config map[string]any, status project.Status) (bool, error) {
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&exists); err == nil {
		return false, dataAccessError("create_project", fmt.Errorf("project %q already exists", id))
	} else if err != sql.ErrNoRows {
		return false, dataAccessError("create_project", err)
	}

	configJSON, err := marshalJSON(config)
	if err != nil {
		return false, dataAccessError("create_project", err)
	}
	if status == "" {
		status = project.StatusCreated
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, dataAccessError("create_project", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, subject, target_length, status, config_json, output_summary_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '{}', ?, ?)`,
		id, subject, targetLength, string(status), configJSON, now, now)
	if err != nil {
		return false, dataAccessError("create_project", err)
	}
	if err := tx.Commit(); err != nil {
		return false, dataAccessError("create_project", err)
	}
	return true, nil
}

// GetProject returns the full project record, or nil if absent.
func (r *Repository) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject, target_length, status, config_json, output_summary_json, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var (
		p                                    project.Project
		status, configJSON, summaryJSON      string
		createdAt, updatedAt                 string
	)
	if err := row.Scan(&p.ID, &p.Subject, &p.TargetLengthMin, &status, &configJSON, &summaryJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dataAccessError("get_project", err)
	}

	p.Status = project.Status(status)
	var err error
	if p.Config, err = unmarshalJSON(configJSON); err != nil {
		return nil, dataAccessError("get_project", err)
	}
	if p.OutputSummary, err = unmarshalJSON(summaryJSON); err != nil {
		return nil, dataAccessError("get_project", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// updatableProjectFields whitelists what UpdateProject accepts, mirroring
// the distilled repository's allowed-fields set.
var updatableProjectFields = map[string]bool{
	"subject": true, "target_length_minutes": true, "status": true,
	"config": true, "output_summary": true,
}

// UpdateProject applies a whitelisted subset of fields; config/output_summary
// are JSON-serialized. Rejects an unknown project id.
func (r *Repository) UpdateProject(ctx context.Context, id string, fields map[string]any) error {
	existing, err := r.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return dataAccessError("update_project", fmt.Errorf("project %q not found", id))
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(time.RFC3339)}

	for k, v := range fields {
		if !updatableProjectFields[k] {
			continue
		}
		switch k {
		case "subject":
			sets = append(sets, "subject = ?")
			args = append(args, v)
		case "target_length_minutes":
			sets = append(sets, "target_length = ?")
			args = append(args, v)
		case "status":
			sets = append(sets, "status = ?")
			args = append(args, fmt.Sprintf("%v", v))
		case "config":
			m, _ := v.(map[string]any)
			j, jerr := marshalJSON(m)
			if jerr != nil {
				return dataAccessError("update_project", jerr)
			}
			sets = append(sets, "config_json = ?")
			args = append(args, j)
		case "output_summary":
			m, _ := v.(map[string]any)
			j, jerr := marshalJSON(m)
			if jerr != nil {
				return dataAccessError("update_project", jerr)
			}
			sets = append(sets, "output_summary_json = ?")
			args = append(args, j)
		}
	}

	args = append(args, id)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("update_project", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`UPDATE projects SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return dataAccessError("update_project", err)
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("update_project", err)
	}
	return nil
}

// DeleteProject removes the project; child rows cascade via FK.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("delete_project", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return dataAccessError("delete_project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dataAccessError("delete_project", fmt.Errorf("project %q not found", id))
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("delete_project", err)
	}
	return nil
}

// CreateWorkflowStep inserts a per-project-per-step record. inputData must
// be a (possibly empty) map.
func (r *Repository) CreateWorkflowStep(ctx context.Context, projectID string, stepNumber int, stepName string, status workflow.StepStatus, inputData map[string]any) error {
	if inputData == nil {
		return dataAccessError("create_workflow_step", fmt.Errorf("invalid data format: input_data must be a dictionary"))
	}
	inputJSON, err := marshalJSON(inputData)
	if err != nil {
		return dataAccessError("create_workflow_step", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("create_workflow_step", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_steps (project_id, step_number, step_name, status, input_data_json, output_data_json)
		VALUES (?, ?, ?, ?, ?, '{}')`,
		projectID, stepNumber, stepName, string(status), inputJSON)
	if err != nil {
		return dataAccessError("create_workflow_step", err)
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("create_workflow_step", err)
	}
	return nil
}

func scanWorkflowStep(row *sql.Row) (*workflow.WorkflowStepRecord, error) {
	var (
		rec                          workflow.WorkflowStepRecord
		status                       string
		startedAt, completedAt       sql.NullString
		inputJSON, outputJSON        string
	)
	if err := row.Scan(&rec.StepNumber, &rec.StepName, &status, &startedAt, &completedAt, &inputJSON, &outputJSON, &rec.ErrorMessage, &rec.RetryCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dataAccessError("get_workflow_step", err)
	}
	rec.Status = workflow.StepStatus(status)
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			rec.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	var err error
	if rec.InputData, err = unmarshalJSON(inputJSON); err != nil {
		return nil, dataAccessError("get_workflow_step", err)
	}
	if rec.OutputData, err = unmarshalJSON(outputJSON); err != nil {
		return nil, dataAccessError("get_workflow_step", err)
	}
	return &rec, nil
}

// GetWorkflowStep returns the step record, or nil if absent.
func (r *Repository) GetWorkflowStep(ctx context.Context, projectID, stepName string) (*workflow.WorkflowStepRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT step_number, step_name, status, started_at, completed_at, input_data_json, output_data_json, error_message, retry_count
		FROM workflow_steps WHERE project_id = ? AND step_name = ?`, projectID, stepName)
	return scanWorkflowStep(row)
}

// UpdateWorkflowStepStatus transitions a step's status, stamping started_at
// on entry to running and completed_at on any terminal status.
func (r *Repository) UpdateWorkflowStepStatus(ctx context.Context, projectID, stepName string, status workflow.StepStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	sets := []string{"status = ?", "error_message = ?"}
	args := []any{string(status), errMsg}

	if status == workflow.StatusRunning {
		sets = append(sets, "started_at = ?")
		args = append(args, now)
	}
	if isTerminalStatus(status) {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	args = append(args, projectID, stepName)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("update_workflow_step_status", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`UPDATE workflow_steps SET %s WHERE project_id = ? AND step_name = ?`, strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return dataAccessError("update_workflow_step_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dataAccessError("update_workflow_step_status", fmt.Errorf("step %q not found for project %q", stepName, projectID))
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("update_workflow_step_status", err)
	}
	return nil
}

func isTerminalStatus(s workflow.StepStatus) bool {
	switch s {
	case workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusSkipped, workflow.StatusCancelled:
		return true
	default:
		return false
	}
}

// SaveStepResult marks a step terminal (status) and persists its output data.
func (r *Repository) SaveStepResult(ctx context.Context, projectID, stepName string, outputData map[string]any, status workflow.StepStatus) error {
	outputJSON, err := marshalJSON(outputData)
	if err != nil {
		return dataAccessError("save_step_result", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("save_step_result", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_steps SET output_data_json = ?, status = ?, completed_at = ?
		WHERE project_id = ? AND step_name = ?`,
		outputJSON, string(status), now, projectID, stepName)
	if err != nil {
		return dataAccessError("save_step_result", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dataAccessError("save_step_result", fmt.Errorf("step %q not found for project %q", stepName, projectID))
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("save_step_result", err)
	}
	return nil
}

// GetStepInput resolves the previous step in DefaultPipelineOrder and
// returns its output data. Generic callers of the engine pass the merged
// phase input explicitly instead of relying on this fixed ordering.
func (r *Repository) GetStepInput(ctx context.Context, projectID, stepName string) (map[string]any, error) {
	idx := -1
	for i, name := range DefaultPipelineOrder {
		if name == stepName {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return map[string]any{}, nil
	}
	prevName := DefaultPipelineOrder[idx-1]

	var outputJSON string
	err := r.db.QueryRowContext(ctx, `
		SELECT output_data_json FROM workflow_steps
		WHERE project_id = ? AND step_name = ? AND status = 'completed'`, projectID, prevName).Scan(&outputJSON)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, dataAccessError("get_step_input", err)
	}
	out, err := unmarshalJSON(outputJSON)
	if err != nil {
		return nil, dataAccessError("get_step_input", err)
	}
	return out, nil
}

// GetWorkflowSteps returns every step record for a project, ordered by
// step_number, with JSON fields deserialized.
func (r *Repository) GetWorkflowSteps(ctx context.Context, projectID string) ([]workflow.WorkflowStepRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT step_number, step_name, status, started_at, completed_at, input_data_json, output_data_json, error_message, retry_count
		FROM workflow_steps WHERE project_id = ? ORDER BY step_number`, projectID)
	if err != nil {
		return nil, dataAccessError("get_workflow_steps", err)
	}
	defer rows.Close()

	var out []workflow.WorkflowStepRecord
	for rows.Next() {
		var (
			rec                    workflow.WorkflowStepRecord
			status                 string
			startedAt, completedAt sql.NullString
			inputJSON, outputJSON  string
		)
		if err := rows.Scan(&rec.StepNumber, &rec.StepName, &status, &startedAt, &completedAt, &inputJSON, &outputJSON, &rec.ErrorMessage, &rec.RetryCount); err != nil {
			return nil, dataAccessError("get_workflow_steps", err)
		}
		rec.Status = workflow.StepStatus(status)
		if startedAt.Valid {
			if t, terr := time.Parse(time.RFC3339, startedAt.String); terr == nil {
				rec.StartedAt = &t
			}
		}
		if completedAt.Valid {
			if t, terr := time.Parse(time.RFC3339, completedAt.String); terr == nil {
				rec.CompletedAt = &t
			}
		}
		if rec.InputData, err = unmarshalJSON(inputJSON); err != nil {
			return nil, dataAccessError("get_workflow_steps", err)
		}
		if rec.OutputData, err = unmarshalJSON(outputJSON); err != nil {
			return nil, dataAccessError("get_workflow_steps", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegisterFileReference inserts a file reference, returning its generated id.
func (r *Repository) RegisterFileReference(ctx context.Context, projectID string, fileType project.FileType, category project.FileCategory, filePath, fileName string, fileSize int64, mimeType string, metadata map[string]any, isTemporary bool) (int64, error) {
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return 0, dataAccessError("register_file_reference", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dataAccessError("register_file_reference", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO project_files (project_id, file_type, file_category, file_path, file_name, file_size, mime_type, metadata_json, is_temporary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, string(fileType), string(category), filePath, fileName, fileSize, mimeType, metaJSON, boolToInt(isTemporary), now)
	if err != nil {
		return 0, dataAccessError("register_file_reference", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dataAccessError("register_file_reference", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, dataAccessError("register_file_reference", err)
	}
	return id, nil
}

// DeleteFileReference removes one file reference by id.
func (r *Repository) DeleteFileReference(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("delete_file_reference", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM project_files WHERE id = ?`, id)
	if err != nil {
		return dataAccessError("delete_file_reference", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dataAccessError("delete_file_reference", fmt.Errorf("file reference %d not found", id))
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("delete_file_reference", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanFileReference(row *sql.Row) (*project.FileReference, error) {
	var (
		f                    project.FileReference
		fileType, category   string
		metaJSON             string
		isTemp               int
		createdAt            string
	)
	if err := row.Scan(&f.ID, &f.ProjectID, &fileType, &category, &f.FilePath, &f.FileName, &f.FileSize, &f.MimeType, &metaJSON, &isTemp, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, dataAccessError("get_file_reference", err)
	}
	f.FileType = project.FileType(fileType)
	f.FileCategory = project.FileCategory(category)
	f.IsTemporary = isTemp != 0
	var err error
	if f.Metadata, err = unmarshalJSON(metaJSON); err != nil {
		return nil, dataAccessError("get_file_reference", err)
	}
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

// GetFileReference returns one file reference by id, or nil if absent.
func (r *Repository) GetFileReference(ctx context.Context, id int64) (*project.FileReference, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_type, file_category, file_path, file_name, file_size, mime_type, metadata_json, is_temporary, created_at
		FROM project_files WHERE id = ?`, id)
	return scanFileReference(row)
}

// FileQuery narrows GetFilesByQuery; zero-value fields are not filtered on.
type FileQuery struct {
	FileType     project.FileType
	FileCategory project.FileCategory
	IsTemporary  *bool
}

// GetFilesByQuery returns file references for a project, optionally
// narrowed by type, category, and temporary flag.
func (r *Repository) GetFilesByQuery(ctx context.Context, projectID string, q FileQuery) ([]project.FileReference, error) {
	clauses := []string{"project_id = ?"}
	args := []any{projectID}

	if q.FileType != "" {
		clauses = append(clauses, "file_type = ?")
		args = append(args, string(q.FileType))
	}
	if q.FileCategory != "" {
		clauses = append(clauses, "file_category = ?")
		args = append(args, string(q.FileCategory))
	}
	if q.IsTemporary != nil {
		clauses = append(clauses, "is_temporary = ?")
		args = append(args, boolToInt(*q.IsTemporary))
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, file_type, file_category, file_path, file_name, file_size, mime_type, metadata_json, is_temporary, created_at
		FROM project_files WHERE %s ORDER BY created_at`, strings.Join(clauses, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dataAccessError("get_files_by_query", err)
	}
	defer rows.Close()

	var out []project.FileReference
	for rows.Next() {
		var (
			f                  project.FileReference
			fileType, category string
			metaJSON           string
			isTemp             int
			createdAt          string
		)
		if err := rows.Scan(&f.ID, &f.ProjectID, &fileType, &category, &f.FilePath, &f.FileName, &f.FileSize, &f.MimeType, &metaJSON, &isTemp, &createdAt); err != nil {
			return nil, dataAccessError("get_files_by_query", err)
		}
		f.FileType = project.FileType(fileType)
		f.FileCategory = project.FileCategory(category)
		f.IsTemporary = isTemp != 0
		if f.Metadata, err = unmarshalJSON(metaJSON); err != nil {
			return nil, dataAccessError("get_files_by_query", err)
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFileMetadata applies scalar column updates (currently just
// file_size) plus a metadata map replacement.
func (r *Repository) UpdateFileMetadata(ctx context.Context, id int64, updates map[string]any, metadata map[string]any) error {
	sets := []string{}
	args := []any{}

	if size, ok := updates["file_size"]; ok {
		sets = append(sets, "file_size = ?")
		args = append(args, size)
	}
	metaJSON, err := marshalJSON(metadata)
	if err != nil {
		return dataAccessError("update_file_metadata", err)
	}
	sets = append(sets, "metadata_json = ?")
	args = append(args, metaJSON)
	args = append(args, id)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dataAccessError("update_file_metadata", err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`UPDATE project_files SET %s WHERE id = ?`, strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return dataAccessError("update_file_metadata", err)
	}
	if err := tx.Commit(); err != nil {
		return dataAccessError("update_file_metadata", err)
	}
	return nil
}

// ProjectStatus is the joint project + steps + files view GetProjectStatus
// returns.
type ProjectStatus struct {
	Project *project.Project
	Steps   []workflow.WorkflowStepRecord
	Files   []project.FileReference
}

// GetProjectStatus returns the project record together with its ordered
// step list and file list.
func (r *Repository) GetProjectStatus(ctx context.Context, projectID string) (*ProjectStatus, error) {
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	steps, err := r.GetWorkflowSteps(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files, err := r.GetFilesByQuery(ctx, projectID, FileQuery{})
	if err != nil {
		return nil, err
	}
	return &ProjectStatus{Project: p, Steps: steps, Files: files}, nil
}
