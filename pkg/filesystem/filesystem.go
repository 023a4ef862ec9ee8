// Package filesystem manages the on-disk layout of a project: a fixed
// subdirectory skeleton, safe file CRUD scoped under the project root, and
// temp/aged cleanup.
package filesystem

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yukkuri-studio/workflow-core/pkg/logger"
	"github.com/yukkuri-studio/workflow-core/pkg/taxonomy"
)

// subdirectories is pre-created under every project root.
var subdirectories = []string{
	"files/audio",
	"files/video",
	"files/images",
	"files/scripts",
	"files/metadata",
	"files/temp",
	"files/final",
	"files/backup",
	"files/original",
	"logs",
	"cache",
}

var tempFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*\.(tmp|temp|cache)$`),
	regexp.MustCompile(`(?i)^cache/.*`),
	regexp.MustCompile(`(?i)^files/temp/.*`),
}

var unsafeIDChars = regexp.MustCompile(`\.\.|[/\\<>:"|?*]`)

// FileInfo describes one file under a project root.
type FileInfo struct {
	RelativePath string
	AbsolutePath string
	Size         int64
	ModifiedTime time.Time
}

// Metadata is the detail view returned by GetFileMetadata.
type Metadata struct {
	Size        int64
	ModifiedTime time.Time
	MimeType     string
	IsDirectory  bool
	Permissions  string
}

// Manager roots every operation under baseDirectory/<project id>.
type Manager struct {
	baseDirectory string
}

// New ensures baseDirectory exists and returns a manager rooted there.
func New(baseDirectory string) (*Manager, error) {
	if err := os.MkdirAll(baseDirectory, 0o755); err != nil {
		return nil, taxonomy.Wrap("FS_BASE_DIR_FAILED", taxonomy.CategoryIO, err, "failed to create base directory %q", baseDirectory)
	}
	return &Manager{baseDirectory: baseDirectory}, nil
}

func validateProjectID(projectID string) error {
	if projectID == "" {
		return fsError("invalid project ID: empty string")
	}
	if unsafeIDChars.MatchString(projectID) {
		return fsError("invalid project ID: contains unsafe characters: " + projectID)
	}
	return nil
}

func validateRelativePath(relPath string) error {
	if filepath.IsAbs(relPath) {
		return fsError("invalid file path: absolute path not allowed: " + relPath)
	}
	if strings.Contains(relPath, "..") {
		return fsError("invalid file path: parent directory reference not allowed: " + relPath)
	}
	return nil
}

func fsError(msg string) error {
	return taxonomy.New("FILESYSTEM_ERROR", taxonomy.CategoryIO, msg).
		WithSuggested(taxonomy.ActionManualIntervention)
}

// GetProjectDirectory returns projectID's root path without touching disk.
func (m *Manager) GetProjectDirectory(projectID string) (string, error) {
	if err := validateProjectID(projectID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDirectory, projectID), nil
}

// GetProjectFilePath resolves relPath under projectID's root, rejecting any
// path that would escape it once resolved.
func (m *Manager) GetProjectFilePath(projectID, relPath string) (string, error) {
	if err := validateProjectID(projectID); err != nil {
		return "", err
	}
	if err := validateRelativePath(relPath); err != nil {
		return "", err
	}

	projectDir, _ := m.GetProjectDirectory(projectID)
	full := filepath.Join(projectDir, filepath.FromSlash(relPath))

	resolvedFull, err := filepath.Abs(full)
	if err != nil {
		return "", taxonomy.Wrap("FS_PATH_RESOLVE_FAILED", taxonomy.CategoryIO, err, "failed to resolve path %q", relPath)
	}
	resolvedRoot, err := filepath.Abs(projectDir)
	if err != nil {
		return "", taxonomy.Wrap("FS_PATH_RESOLVE_FAILED", taxonomy.CategoryIO, err, "failed to resolve project root")
	}
	if !strings.HasPrefix(resolvedFull, resolvedRoot) {
		return "", fsError("path traversal detected: " + relPath)
	}
	return resolvedFull, nil
}

// CreateProjectDirectory creates projectID's root and its full subdirectory
// skeleton.
func (m *Manager) CreateProjectDirectory(ctx context.Context, projectID string) error {
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return taxonomy.Wrap("FS_MKDIR_FAILED", taxonomy.CategoryIO, err, "failed to create project directory %q", projectID)
	}
	for _, sub := range subdirectories {
		if err := os.MkdirAll(filepath.Join(projectDir, sub), 0o755); err != nil {
			return taxonomy.Wrap("FS_MKDIR_FAILED", taxonomy.CategoryIO, err, "failed to create subdirectory %q", sub)
		}
	}
	logger.InfoS(ctx, "project directory created", "project_id", projectID, "path", projectDir)
	return nil
}

// DeleteProjectDirectory removes projectID's entire tree, if present.
func (m *Manager) DeleteProjectDirectory(ctx context.Context, projectID string) error {
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(projectDir); err != nil {
		return taxonomy.Wrap("FS_RMDIR_FAILED", taxonomy.CategoryIO, err, "failed to delete project directory %q", projectID)
	}
	logger.InfoS(ctx, "project directory deleted", "project_id", projectID)
	return nil
}

// CreateFile writes content (text or bytes) to relPath under projectID,
// creating parent directories as needed.
func (m *Manager) CreateFile(ctx context.Context, projectID, relPath string, content []byte) error {
	full, err := m.GetProjectFilePath(projectID, relPath)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(filepath.Dir(full)); os.IsNotExist(statErr) {
		projectDir, _ := m.GetProjectDirectory(projectID)
		if _, err := os.Stat(projectDir); os.IsNotExist(err) {
			return fsError("project directory not found: " + projectID)
		}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return taxonomy.Wrap("FS_MKDIR_FAILED", taxonomy.CategoryIO, err, "failed to create parent directory for %q", relPath)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return taxonomy.Wrap("FS_WRITE_FAILED", taxonomy.CategoryIO, err, "failed to create file %q", relPath)
	}
	logger.DebugS(ctx, "file created", "project_id", projectID, "path", relPath)
	return nil
}

// ReadFile returns relPath's contents as UTF-8 text.
func (m *Manager) ReadFile(projectID, relPath string) (string, error) {
	full, err := m.GetProjectFilePath(projectID, relPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fsError("file not found: " + relPath)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", taxonomy.Wrap("FS_READ_FAILED", taxonomy.CategoryIO, err, "failed to read file %q", relPath)
	}
	return string(data), nil
}

// DeleteFile removes relPath, if present.
func (m *Manager) DeleteFile(ctx context.Context, projectID, relPath string) error {
	full, err := m.GetProjectFilePath(projectID, relPath)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(full); statErr == nil {
		if err := os.Remove(full); err != nil {
			return taxonomy.Wrap("FS_DELETE_FAILED", taxonomy.CategoryIO, err, "failed to delete file %q", relPath)
		}
		logger.DebugS(ctx, "file deleted", "project_id", projectID, "path", relPath)
	}
	return nil
}

// MoveFile relocates srcPath to dstPath within projectID, creating the
// destination's parent directory if needed.
func (m *Manager) MoveFile(ctx context.Context, projectID, srcPath, dstPath string) error {
	srcFull, err := m.GetProjectFilePath(projectID, srcPath)
	if err != nil {
		return err
	}
	dstFull, err := m.GetProjectFilePath(projectID, dstPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcFull); err != nil {
		return fsError("source file not found: " + srcPath)
	}
	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return taxonomy.Wrap("FS_MKDIR_FAILED", taxonomy.CategoryIO, err, "failed to create destination directory for %q", dstPath)
	}
	if err := os.Rename(srcFull, dstFull); err != nil {
		return taxonomy.Wrap("FS_MOVE_FAILED", taxonomy.CategoryIO, err, "failed to move %q to %q", srcPath, dstPath)
	}
	logger.DebugS(ctx, "file moved", "project_id", projectID, "from", srcPath, "to", dstPath)
	return nil
}

// CopyFile duplicates srcPath to dstPath within projectID.
func (m *Manager) CopyFile(ctx context.Context, projectID, srcPath, dstPath string) error {
	srcFull, err := m.GetProjectFilePath(projectID, srcPath)
	if err != nil {
		return err
	}
	dstFull, err := m.GetProjectFilePath(projectID, dstPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(srcFull)
	if err != nil {
		return fsError("source file not found: " + srcPath)
	}
	if err := os.MkdirAll(filepath.Dir(dstFull), 0o755); err != nil {
		return taxonomy.Wrap("FS_MKDIR_FAILED", taxonomy.CategoryIO, err, "failed to create destination directory for %q", dstPath)
	}
	if err := os.WriteFile(dstFull, data, 0o644); err != nil {
		return taxonomy.Wrap("FS_COPY_FAILED", taxonomy.CategoryIO, err, "failed to copy %q to %q", srcPath, dstPath)
	}
	logger.DebugS(ctx, "file copied", "project_id", projectID, "from", srcPath, "to", dstPath)
	return nil
}

// GetDirectorySize sums the size of every regular file under projectID.
func (m *Manager) GetDirectorySize(projectID string) (int64, error) {
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return 0, err
	}
	if _, statErr := os.Stat(projectDir); os.IsNotExist(statErr) {
		return 0, nil
	}

	var total int64
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, taxonomy.Wrap("FS_SIZE_FAILED", taxonomy.CategoryIO, err, "failed to calculate directory size for %q", projectID)
	}
	return total, nil
}

// ListFiles returns every regular file under projectID matching pattern
// (a filepath.Match glob applied to the file's base name), sorted by
// relative path with forward slashes regardless of host OS.
func (m *Manager) ListFiles(projectID, pattern string) ([]FileInfo, error) {
	if pattern == "" {
		pattern = "*"
	}
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(projectDir); os.IsNotExist(statErr) {
		return nil, nil
	}

	var out []FileInfo
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matched, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if !matched {
			return nil
		}
		rel, relErr := filepath.Rel(projectDir, path)
		if relErr != nil {
			return relErr
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		out = append(out, FileInfo{
			RelativePath: filepath.ToSlash(rel),
			AbsolutePath: path,
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, taxonomy.Wrap("FS_LIST_FAILED", taxonomy.CategoryIO, err, "failed to list files for %q", projectID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

// GetProjectFileList is ListFiles with the default "every file" pattern.
func (m *Manager) GetProjectFileList(projectID string) ([]FileInfo, error) {
	return m.ListFiles(projectID, "*")
}

// GetAvailableDiskSpace reports free bytes on the filesystem holding the
// base directory; 0 on failure.
func (m *Manager) GetAvailableDiskSpace() int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.baseDirectory, &stat); err != nil {
		return 0
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}

// CheckDiskSpace reports whether at least requiredSize bytes are free.
func (m *Manager) CheckDiskSpace(requiredSize int64) bool {
	return m.GetAvailableDiskSpace() >= requiredSize
}

// CleanupTemporaryFiles deletes every file under projectID whose
// project-relative path matches one of the temp file patterns, skipping
// (and warning about) files it cannot remove.
func (m *Manager) CleanupTemporaryFiles(ctx context.Context, projectID string) (int, error) {
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return 0, err
	}
	if _, statErr := os.Stat(projectDir); os.IsNotExist(statErr) {
		return 0, nil
	}

	cleaned := 0
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(projectDir, path)
		if relErr != nil {
			return relErr
		}
		relSlash := filepath.ToSlash(rel)
		for _, pattern := range tempFilePatterns {
			if pattern.MatchString(relSlash) {
				if rmErr := os.Remove(path); rmErr != nil {
					logger.WarnS(ctx, "failed to delete temp file", "path", relSlash, "error", rmErr)
				} else {
					cleaned++
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return cleaned, taxonomy.Wrap("FS_CLEANUP_FAILED", taxonomy.CategoryIO, err, "failed to cleanup temporary files for %q", projectID)
	}
	logger.InfoS(ctx, "temporary files cleanup completed", "project_id", projectID, "removed", cleaned)
	return cleaned, nil
}

// CleanupOldFiles deletes every file under projectID whose modification
// time is older than days ago.
func (m *Manager) CleanupOldFiles(ctx context.Context, projectID string, days int) (int, error) {
	projectDir, err := m.GetProjectDirectory(projectID)
	if err != nil {
		return 0, err
	}
	if _, statErr := os.Stat(projectDir); os.IsNotExist(statErr) {
		return 0, nil
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	cleaned := 0
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			logger.WarnS(ctx, "failed to stat file during aged cleanup", "path", path, "error", infoErr)
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				logger.WarnS(ctx, "failed to delete old file", "path", path, "error", rmErr)
			} else {
				cleaned++
			}
		}
		return nil
	})
	if err != nil {
		return cleaned, taxonomy.Wrap("FS_CLEANUP_FAILED", taxonomy.CategoryIO, err, "failed to cleanup old files for %q", projectID)
	}
	logger.InfoS(ctx, "old files cleanup completed", "project_id", projectID, "removed", cleaned)
	return cleaned, nil
}

// GetFileMetadata reports size/mtime/mime/permission details for relPath.
func (m *Manager) GetFileMetadata(projectID, relPath string) (Metadata, error) {
	full, err := m.GetProjectFilePath(projectID, relPath)
	if err != nil {
		return Metadata{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return Metadata{}, fsError("file not found: " + relPath)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(full))
	return Metadata{
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
		MimeType:     mimeType,
		IsDirectory:  info.IsDir(),
		Permissions:  strconv.FormatInt(int64(info.Mode().Perm()), 8),
	}, nil
}
