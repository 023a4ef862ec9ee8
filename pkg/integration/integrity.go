package integration

import (
	"context"
	"fmt"

	"github.com/yukkuri-studio/workflow-core/pkg/persistence/sqlite"
	"github.com/yukkuri-studio/workflow-core/pkg/project"
)

// InconsistencyType classifies one integrity-check finding.
type InconsistencyType string

const (
	InconsistencyMissingFile  InconsistencyType = "missing_file"
	InconsistencyOrphanedFile InconsistencyType = "orphaned_file"
	InconsistencySizeMismatch InconsistencyType = "size_mismatch"
)

// Inconsistency is one finding from CheckIntegrity.
type Inconsistency struct {
	Type        InconsistencyType
	FilePath    string
	Description string
	DBSize      int64
	FSSize      int64
}

// OrphanedFile is a file present on disk but unknown to the repository.
type OrphanedFile struct {
	FilePath     string
	FileSize     int64
	ModifiedTime string
}

// IntegrityResult is CheckIntegrity's report.
type IntegrityResult struct {
	Status          Status
	TotalFiles      int
	ConsistentFiles int
	Inconsistencies []Inconsistency
	OrphanedFiles   []OrphanedFile
	Error           string
}

// CheckIntegrity compares the repository's registered file references
// against what the filesystem actually holds, classifying every
// discrepancy as a missing file, an orphaned file, or a size mismatch.
func (m *Manager) CheckIntegrity(ctx context.Context, projectID string) IntegrityResult {
	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil || p == nil {
		return IntegrityResult{Status: StatusFailed, Error: fmt.Sprintf("Project %s not found", projectID)}
	}

	dbFiles, err := m.repo.GetFilesByQuery(ctx, projectID, sqlite.FileQuery{})
	if err != nil {
		return IntegrityResult{Status: StatusFailed, Error: err.Error()}
	}
	fsFiles, err := m.fs.ListFiles(projectID, "*")
	if err != nil {
		return IntegrityResult{Status: StatusFailed, Error: err.Error()}
	}

	dbByPath := make(map[string]project.FileReference, len(dbFiles))
	for _, f := range dbFiles {
		dbByPath[f.FilePath] = f
	}
	fsByPath := make(map[string]int64, len(fsFiles))
	for _, f := range fsFiles {
		fsByPath[f.RelativePath] = f.Size
	}

	allPaths := make(map[string]bool, len(dbByPath)+len(fsByPath))
	for p := range dbByPath {
		allPaths[p] = true
	}
	for p := range fsByPath {
		allPaths[p] = true
	}

	var inconsistencies []Inconsistency
	var orphaned []OrphanedFile
	consistent := 0

	for path := range allPaths {
		dbFile, inDB := dbByPath[path]
		fsSize, onDisk := fsByPath[path]

		switch {
		case inDB && !onDisk:
			inconsistencies = append(inconsistencies, Inconsistency{
				Type:        InconsistencyMissingFile,
				FilePath:    path,
				Description: fmt.Sprintf("File registered in database but not found in filesystem: %s", path),
			})
		case !inDB && onDisk:
			orphaned = append(orphaned, OrphanedFile{FilePath: path, FileSize: fsSize})
		case dbFile.FileSize != fsSize:
			inconsistencies = append(inconsistencies, Inconsistency{
				Type:     InconsistencySizeMismatch,
				FilePath: path,
				DBSize:   dbFile.FileSize,
				FSSize:   fsSize,
			})
		default:
			consistent++
		}
	}

	status := StatusSuccess
	if len(inconsistencies) > 0 || len(orphaned) > 0 {
		status = "inconsistent"
	}

	return IntegrityResult{
		Status:          status,
		TotalFiles:      len(allPaths),
		ConsistentFiles: consistent,
		Inconsistencies: inconsistencies,
		OrphanedFiles:   orphaned,
	}
}

// RepairAction describes one repair step taken by AutoRepairIntegrity.
type RepairAction string

// RepairReport is AutoRepairIntegrity's outcome.
type RepairReport struct {
	ProjectID      string
	Status         Status
	IssuesFound    int
	IssuesRepaired int
	Actions        []RepairAction
}

// AutoRepairIntegrity runs CheckIntegrity and repairs what it can: missing
// file references are dropped, orphaned files are registered.
func (m *Manager) AutoRepairIntegrity(ctx context.Context, projectID string) RepairReport {
	result := m.CheckIntegrity(ctx, projectID)
	if result.Status == StatusSuccess {
		return RepairReport{ProjectID: projectID, Status: StatusNoRepairNeeded}
	}

	report := RepairReport{
		ProjectID:   projectID,
		Status:      "completed",
		IssuesFound: len(result.Inconsistencies) + len(result.OrphanedFiles),
	}

	dbFiles, _ := m.repo.GetFilesByQuery(ctx, projectID, sqlite.FileQuery{})
	idByPath := make(map[string]int64, len(dbFiles))
	for _, f := range dbFiles {
		idByPath[f.FilePath] = f.ID
	}

	for _, inc := range result.Inconsistencies {
		if inc.Type != InconsistencyMissingFile {
			continue
		}
		id, known := idByPath[inc.FilePath]
		if !known {
			report.Status = StatusPartial
			continue
		}
		if err := m.repo.DeleteFileReference(ctx, id); err != nil {
			report.Status = StatusPartial
			continue
		}
		report.Actions = append(report.Actions, RepairAction("Removed missing file reference: "+inc.FilePath))
		report.IssuesRepaired++
	}

	for _, orphan := range result.OrphanedFiles {
		fileType := project.InferFileType(extOf(orphan.FilePath))
		category := project.InferFileCategory(orphan.FilePath)
		_, err := m.repo.RegisterFileReference(ctx, projectID, fileType, category,
			orphan.FilePath, baseOf(orphan.FilePath), orphan.FileSize, "", map[string]any{"auto_registered": true}, false)
		if err != nil {
			report.Status = StatusPartial
			continue
		}
		report.Actions = append(report.Actions, RepairAction("Registered orphaned file: "+orphan.FilePath))
		report.IssuesRepaired++
	}

	switch {
	case report.IssuesRepaired == report.IssuesFound:
		report.Status = "completed"
	case report.IssuesRepaired > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusFailed
	}
	return report
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func baseOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
