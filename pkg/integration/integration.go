// Package integration reconciles the metadata repository against the
// filesystem manager: bidirectional sync, integrity checking, automatic
// repair, and ZIP-based project backup/restore.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/filesystem"
	"github.com/yukkuri-studio/workflow-core/pkg/logger"
	"github.com/yukkuri-studio/workflow-core/pkg/persistence/sqlite"
	"github.com/yukkuri-studio/workflow-core/pkg/project"
	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
)

// Direction names a sync's data flow.
type Direction string

const (
	DirectionMetadataToFiles Direction = "metadata_to_files"
	DirectionFilesToMetadata Direction = "files_to_metadata"
	DirectionBidirectional   Direction = "bidirectional"
)

// Status is a sync or repair operation's outcome.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartial        Status = "partial"
	StatusFailed         Status = "failed"
	StatusNoRepairNeeded Status = "no_repair_needed"
)

// ConflictType classifies a discrepancy the sync reconciler found between
// a registered file reference and the file it describes.
type ConflictType string

const (
	ConflictSizeMismatch      ConflictType = "size_mismatch"
	ConflictTimestampMismatch ConflictType = "timestamp_mismatch"
	ConflictMetadataMismatch  ConflictType = "metadata_mismatch"
)

// Conflict records one discrepancy found while reconciling a single file.
type Conflict struct {
	FilePath string
	Type     ConflictType
	DBInfo   map[string]any
	FSInfo   map[string]any
}

// SyncReport summarizes one sync invocation.
type SyncReport struct {
	ProjectID    string
	Direction    Direction
	Status       Status
	Timestamp    time.Time
	Conflicts    []Conflict
	FilesSynced  int
	FilesUpdated int
	FilesAdded   int
	FilesRemoved int
	Errors       []string
}

// Manager reconciles projectRepository against fsManager, serializing
// concurrent sync/repair operations per project via an in-memory lock.
type Manager struct {
	repo      *sqlite.Repository
	fs        *filesystem.Manager
	locks     sync.Map // project id -> *sync.Mutex
	reportMu  sync.RWMutex
	lastSync  map[string]*SyncReport
}

// New builds a reconciler over repo and fs.
func New(repo *sqlite.Repository, fs *filesystem.Manager) *Manager {
	return &Manager{repo: repo, fs: fs, lastSync: make(map[string]*SyncReport)}
}

func integrationError(msg string) *taxonomy.Error {
	return taxonomy.New("DATA_INTEGRATION_ERROR", taxonomy.CategoryIO, msg).
		WithSuggested(taxonomy.ActionRetry, taxonomy.ActionManualIntervention)
}

// AcquireOperationLock returns true if projectID was not already locked,
// locking it for the caller; false if another operation holds it.
func (m *Manager) AcquireOperationLock(projectID string) bool {
	lock, _ := m.locks.LoadOrStore(projectID, &sync.Mutex{})
	return lock.(*sync.Mutex).TryLock()
}

// ReleaseOperationLock releases projectID's operation lock.
func (m *Manager) ReleaseOperationLock(projectID string) {
	if lock, ok := m.locks.Load(projectID); ok {
		lock.(*sync.Mutex).Unlock()
	}
}

func newReport(projectID string, dir Direction) *SyncReport {
	return &SyncReport{ProjectID: projectID, Direction: dir, Status: StatusSuccess, Timestamp: time.Now()}
}

// SyncMetadataToFiles reconciles the repository's file references against
// the filesystem, synthesizing missing output files and recording
// conflicts for present-but-divergent ones.
func (m *Manager) SyncMetadataToFiles(ctx context.Context, projectID string) (bool, error) {
	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil {
		return false, integrationError(err.Error())
	}
	if p == nil {
		return false, integrationError("Project not found")
	}
	if !m.AcquireOperationLock(projectID) {
		return false, integrationError(fmt.Sprintf("Project %s is already being processed", projectID))
	}
	defer m.ReleaseOperationLock(projectID)

	report := newReport(projectID, DirectionMetadataToFiles)
	ok := m.syncMetadataToFilesInternal(ctx, projectID, report)
	m.storeReport(report)
	return ok, nil
}

// SyncFilesToMetadata registers filesystem files unknown to the repository
// and refreshes metadata for ones whose size has diverged.
func (m *Manager) SyncFilesToMetadata(ctx context.Context, projectID string) (bool, error) {
	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil {
		return false, integrationError(err.Error())
	}
	if p == nil {
		return false, integrationError(fmt.Sprintf("Project %s not found", projectID))
	}
	if !m.AcquireOperationLock(projectID) {
		return false, integrationError(fmt.Sprintf("Project %s is already being processed", projectID))
	}
	defer m.ReleaseOperationLock(projectID)

	report := newReport(projectID, DirectionFilesToMetadata)
	ok := m.syncFilesToMetadataInternal(ctx, projectID, report)
	m.storeReport(report)
	return ok, nil
}

// SyncBidirectional runs files-to-metadata then metadata-to-files under a
// single lock acquisition and a single combined report.
func (m *Manager) SyncBidirectional(ctx context.Context, projectID string) bool {
	if !m.AcquireOperationLock(projectID) {
		logger.ErrorS(ctx, "bidirectional sync failed", "project_id", projectID, "error", "already being processed")
		return false
	}
	defer m.ReleaseOperationLock(projectID)

	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil || p == nil {
		logger.ErrorS(ctx, "bidirectional sync failed", "project_id", projectID, "error", "project not found")
		return false
	}

	report := newReport(projectID, DirectionBidirectional)
	filesToMetaOK := m.syncFilesToMetadataInternal(ctx, projectID, report)
	metaToFilesOK := m.syncMetadataToFilesInternal(ctx, projectID, report)

	if !filesToMetaOK || !metaToFilesOK {
		if report.FilesSynced+report.FilesAdded+report.FilesUpdated > 0 {
			report.Status = StatusPartial
		} else {
			report.Status = StatusFailed
		}
	}
	m.storeReport(report)

	logger.InfoS(ctx, "bidirectional sync completed", "project_id", projectID, "status", string(report.Status),
		"conflicts", len(report.Conflicts), "errors", len(report.Errors))
	return report.Status == StatusSuccess || report.Status == StatusPartial
}

func (m *Manager) syncFilesToMetadataInternal(ctx context.Context, projectID string, report *SyncReport) bool {
	fsFiles, err := m.fs.ListFiles(projectID, "*")
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Status = StatusFailed
		return false
	}

	dbFiles, err := m.repo.GetFilesByQuery(ctx, projectID, sqlite.FileQuery{})
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Status = StatusFailed
		return false
	}
	byPath := make(map[string]project.FileReference, len(dbFiles))
	for _, f := range dbFiles {
		byPath[f.FilePath] = f
	}

	for _, fsFile := range fsFiles {
		dbFile, known := byPath[fsFile.RelativePath]
		if known {
			if dbFile.FileSize != fsFile.Size {
				meta := dbFile.Metadata
				if meta == nil {
					meta = map[string]any{}
				}
				meta["last_fs_sync"] = time.Now().Format(time.RFC3339)
				if err := m.repo.UpdateFileMetadata(ctx, dbFile.ID, map[string]any{"file_size": fsFile.Size}, meta); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("failed to sync file %s: %s", fsFile.RelativePath, err.Error()))
					continue
				}
				report.FilesUpdated++
			} else {
				report.FilesSynced++
			}
			continue
		}

		if err := m.registerNewFile(ctx, projectID, fsFile); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to sync file %s: %s", fsFile.RelativePath, err.Error()))
			continue
		}
		report.FilesAdded++
	}

	if len(report.Errors) > 0 {
		if report.FilesSynced+report.FilesAdded+report.FilesUpdated > 0 {
			report.Status = StatusPartial
		} else {
			report.Status = StatusFailed
		}
	}
	return report.Status == StatusSuccess || report.Status == StatusPartial
}

func (m *Manager) syncMetadataToFilesInternal(ctx context.Context, projectID string, report *SyncReport) bool {
	dbFiles, err := m.repo.GetFilesByQuery(ctx, projectID, sqlite.FileQuery{})
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		report.Status = StatusFailed
		return false
	}

	for _, dbFile := range dbFiles {
		full, pathErr := m.fs.GetProjectFilePath(projectID, dbFile.FilePath)
		if pathErr != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to sync file %s: %s", dbFile.FilePath, pathErr.Error()))
			continue
		}
		if !fileExists(full) {
			if dbFile.FileCategory == project.CategoryOutput {
				if err := m.createFileFromMetadata(ctx, projectID, dbFile); err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("failed to sync file %s: %s", dbFile.FilePath, err.Error()))
					continue
				}
				report.FilesAdded++
			} else {
				logger.WarnS(ctx, "missing file", "project_id", projectID, "path", dbFile.FilePath)
			}
			continue
		}

		conflicts := m.checkFileIntegrity(projectID, dbFile)
		report.Conflicts = append(report.Conflicts, conflicts...)
		if len(conflicts) == 0 {
			report.FilesSynced++
		}
	}

	if len(report.Errors) > 0 {
		if report.FilesSynced > 0 {
			report.Status = StatusPartial
		} else {
			report.Status = StatusFailed
		}
	}
	return report.Status == StatusSuccess || report.Status == StatusPartial
}

func (m *Manager) checkFileIntegrity(projectID string, dbFile project.FileReference) []Conflict {
	full, err := m.fs.GetProjectFilePath(projectID, dbFile.FilePath)
	if err != nil {
		return nil
	}
	meta, err := m.fs.GetFileMetadata(projectID, dbFile.FilePath)
	if err != nil {
		return nil
	}
	if meta.Size != dbFile.FileSize {
		return []Conflict{{
			FilePath: dbFile.FilePath,
			Type:     ConflictSizeMismatch,
			DBInfo:   map[string]any{"size": dbFile.FileSize},
			FSInfo:   map[string]any{"size": meta.Size},
		}}
	}
	_ = full
	return nil
}

func (m *Manager) createFileFromMetadata(ctx context.Context, projectID string, dbFile project.FileReference) error {
	var content string
	if dbFile.FileType == project.FileTypeScript {
		content = fmt.Sprintf(`{"title":"Generated Script","segments":[],"created_from_metadata":true,"created_at":%q}`, time.Now().Format(time.RFC3339))
	}
	if err := m.fs.CreateFile(ctx, projectID, dbFile.FilePath, []byte(content)); err != nil {
		return err
	}
	logger.InfoS(ctx, "created file from metadata", "project_id", projectID, "path", dbFile.FilePath)
	return nil
}

func (m *Manager) registerNewFile(ctx context.Context, projectID string, fsFile filesystem.FileInfo) error {
	fileType := project.InferFileType(filepath.Ext(fsFile.RelativePath))
	category := project.InferFileCategory(fsFile.RelativePath)
	meta := map[string]any{
		"auto_registered": true,
		"registered_at":   time.Now().Format(time.RFC3339),
	}
	_, err := m.repo.RegisterFileReference(ctx, projectID, fileType, category,
		fsFile.RelativePath, filepath.Base(fsFile.RelativePath), fsFile.Size, "", meta, category == project.CategoryTemp)
	if err != nil {
		return err
	}
	logger.InfoS(ctx, "registered new file", "project_id", projectID, "path", fsFile.RelativePath)
	return nil
}

func (m *Manager) storeReport(r *SyncReport) {
	m.reportMu.Lock()
	defer m.reportMu.Unlock()
	m.lastSync[r.ProjectID] = r
}

// GetLastSyncReport returns the most recent sync report for projectID, if any.
func (m *Manager) GetLastSyncReport(projectID string) *SyncReport {
	m.reportMu.RLock()
	defer m.reportMu.RUnlock()
	return m.lastSync[projectID]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
