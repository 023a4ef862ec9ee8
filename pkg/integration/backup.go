package integration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/persistence/sqlite"
	"github.com/yukkuri-studio/workflow-core/pkg/project"
)

// backupInfo is the JSON schema written as backup_info.json.
type backupInfo struct {
	ProjectID   string          `json:"project_id"`
	BackupType  string          `json:"backup_type"`
	Timestamp   string          `json:"timestamp"`
	ProjectData backupProjectData `json:"project_data,omitempty"`
	BaseBackup  string          `json:"base_backup,omitempty"`
}

type backupProjectData struct {
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	Status              string  `json:"status"`
	TargetLengthMinutes float64 `json:"target_length_minutes"`
}

// fileMetadataEntry is one element of files_metadata.json.
type fileMetadataEntry struct {
	FileType     string         `json:"file_type"`
	FileCategory string         `json:"file_category"`
	FilePath     string         `json:"file_path"`
	FileSize     int64          `json:"file_size"`
	Metadata     map[string]any `json:"metadata"`
}

// CreateProjectBackup writes a full ZIP backup of projectID to backupPath:
// backup_info.json, every project file at its relative path, and
// files_metadata.json. backupPath must end in .zip.
func (m *Manager) CreateProjectBackup(ctx context.Context, projectID, backupPath string) error {
	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}
	if p == nil {
		return integrationError(fmt.Sprintf("Project backup failed: Project %s not found", projectID))
	}
	if !strings.HasSuffix(backupPath, ".zip") {
		return integrationError(fmt.Sprintf("Project backup failed: Invalid backup path: %s", backupPath))
	}
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}

	f, err := os.Create(backupPath)
	if err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	info := backupInfo{
		ProjectID:  projectID,
		BackupType: "full",
		Timestamp:  time.Now().Format(time.RFC3339),
		ProjectData: backupProjectData{
			Title:               p.Subject,
			Status:              string(p.Status),
			TargetLengthMinutes: p.TargetLengthMin,
		},
	}
	if err := writeJSONEntry(zw, "backup_info.json", info); err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}

	projectDir, err := m.fs.GetProjectDirectory(projectID)
	if err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}
	if err := addDirToZip(zw, projectDir); err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}

	files, err := m.repo.GetFilesByQuery(ctx, projectID, sqlite.FileQuery{})
	if err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}
	if err := writeJSONEntry(zw, "files_metadata.json", toMetadataEntries(files)); err != nil {
		return integrationError(fmt.Sprintf("Project backup failed: %s", err.Error()))
	}

	return nil
}

// CreateIncrementalBackup writes a ZIP containing only files modified
// since basePath's mtime (or the last hour, with no base). If nothing
// changed, a no_changes.txt sentinel is written instead.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, projectID, backupPath, basePath string) error {
	p, err := m.repo.GetProject(ctx, projectID)
	if err != nil || p == nil {
		return integrationError(fmt.Sprintf("Incremental backup failed: Project %s not found", projectID))
	}
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
	}

	f, err := os.Create(backupPath)
	if err != nil {
		return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	info := backupInfo{ProjectID: projectID, BackupType: "incremental", Timestamp: time.Now().Format(time.RFC3339), BaseBackup: basePath}
	if err := writeJSONEntry(zw, "backup_info.json", info); err != nil {
		return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
	}

	cutoff := time.Now().Add(-1 * time.Hour)
	if basePath != "" {
		if st, err := os.Stat(basePath); err == nil {
			cutoff = st.ModTime()
		}
	}

	projectDir, err := m.fs.GetProjectDirectory(projectID)
	if err != nil {
		return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
	}

	added := 0
	if _, statErr := os.Stat(projectDir); statErr == nil {
		err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			info, infoErr := d.Info()
			if infoErr != nil {
				return nil
			}
			if info.ModTime().After(cutoff) {
				rel, relErr := filepath.Rel(projectDir, path)
				if relErr != nil {
					return nil
				}
				if zerr := addFileToZip(zw, path, filepath.ToSlash(rel)); zerr != nil {
					return zerr
				}
				added++
			}
			return nil
		})
		if err != nil {
			return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
		}
	}

	if added == 0 {
		w, err := zw.Create("no_changes.txt")
		if err != nil {
			return integrationError(fmt.Sprintf("Incremental backup failed: %s", err.Error()))
		}
		io.WriteString(w, "No files changed since last backup")
	}
	return nil
}

// RestoreProjectFromBackup reads backupPath, creates targetProjectID (or
// the backup's original project id if empty), extracts every non-metadata
// member into the target project directory, and re-registers file
// references from files_metadata.json, correcting file_type by extension
// when the stored value is not one of the valid enum values.
func (m *Manager) RestoreProjectFromBackup(ctx context.Context, backupPath, targetProjectID string) error {
	zr, err := zip.OpenReader(backupPath)
	if err != nil {
		return integrationError(fmt.Sprintf("Failed to restore from backup: %s", err.Error()))
	}
	defer zr.Close()

	var info backupInfo
	infoFile, err := zr.Open("backup_info.json")
	if err != nil {
		return integrationError(fmt.Sprintf("Failed to restore from backup: Backup info file not found: %s", backupPath))
	}
	decodeErr := json.NewDecoder(infoFile).Decode(&info)
	infoFile.Close()
	if decodeErr != nil {
		return integrationError(fmt.Sprintf("Failed to restore from backup: Corrupted backup info: %s", decodeErr.Error()))
	}

	restoreID := targetProjectID
	if restoreID == "" {
		restoreID = info.ProjectID
	}

	if info.ProjectData.Title != "" {
		status := project.Status(info.ProjectData.Status)
		if status == "" {
			status = project.StatusCreated
		}
		if _, err := m.repo.CreateProject(ctx, restoreID, info.ProjectData.Title, info.ProjectData.TargetLengthMinutes, nil, status); err != nil {
			return integrationError(fmt.Sprintf("Failed to restore from backup: %s", err.Error()))
		}
	}

	if err := m.fs.CreateProjectDirectory(ctx, restoreID); err != nil {
		return integrationError(fmt.Sprintf("Failed to restore from backup: %s", err.Error()))
	}

	for _, zf := range zr.File {
		if zf.Name == "backup_info.json" || zf.Name == "files_metadata.json" {
			continue
		}
		if err := extractZipEntry(ctx, m, restoreID, zf); err != nil {
			continue
		}
	}

	metaFile, err := zr.Open("files_metadata.json")
	if err == nil {
		var entries []fileMetadataEntry
		if decErr := json.NewDecoder(metaFile).Decode(&entries); decErr == nil {
			for _, entry := range entries {
				fileType := project.FileType(entry.FileType)
				if !project.ValidFileTypes[fileType] {
					fileType = project.InferFileType(extOf(entry.FilePath))
				}
				category := project.FileCategory(entry.FileCategory)
				if category == "" {
					category = project.CategoryOther
				}
				if _, regErr := m.repo.RegisterFileReference(ctx, restoreID, fileType, category,
					entry.FilePath, baseOf(entry.FilePath), entry.FileSize, "", entry.Metadata, false); regErr != nil {
					continue
				}
			}
		}
		metaFile.Close()
	}

	return nil
}

func extractZipEntry(ctx context.Context, m *Manager, projectID string, zf *zip.File) error {
	if zf.FileInfo().IsDir() {
		return nil
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return m.fs.CreateFile(ctx, projectID, filepath.ToSlash(zf.Name), data)
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addDirToZip(zw *zip.Writer, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		return addFileToZip(zw, path, filepath.ToSlash(rel))
	})
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func toMetadataEntries(files []project.FileReference) []fileMetadataEntry {
	out := make([]fileMetadataEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileMetadataEntry{
			FileType:     string(f.FileType),
			FileCategory: string(f.FileCategory),
			FilePath:     f.FilePath,
			FileSize:     f.FileSize,
			Metadata:     f.Metadata,
		})
	}
	return out
}
