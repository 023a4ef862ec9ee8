package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yukkuri-studio/workflow-core/pkg/filesystem"
	"github.com/yukkuri-studio/workflow-core/pkg/persistence/sqlite"
	"github.com/yukkuri-studio/workflow-core/pkg/project"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.Repository, *filesystem.Manager, context.Context) {
	t.Helper()
	dir := t.TempDir()
	repo, err := sqlite.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	fs, err := filesystem.New(filepath.Join(dir, "projects"))
	if err != nil {
		t.Fatalf("filesystem.New: %v", err)
	}
	ctx := context.Background()
	return New(repo, fs), repo, fs, ctx
}

func TestSyncFilesToMetadataRegistersNewFiles(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-1", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-1")
	fs.CreateFile(ctx, "proj-1", "files/scripts/a.json", []byte(`{"a":1}`))

	ok, err := m.SyncFilesToMetadata(ctx, "proj-1")
	if err != nil || !ok {
		t.Fatalf("SyncFilesToMetadata: ok=%v err=%v", ok, err)
	}

	files, err := repo.GetFilesByQuery(ctx, "proj-1", sqlite.FileQuery{})
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one registered file, got %+v/%v", files, err)
	}
	if files[0].FileType != project.FileTypeScript {
		t.Fatalf("unexpected inferred file_type: %v", files[0].FileType)
	}
}

func TestCheckIntegrityDetectsMissingAndOrphaned(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-2", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-2")

	repo.RegisterFileReference(ctx, "proj-2", project.FileTypeScript, project.CategoryOutput, "files/scripts/missing.json", "missing.json", 10, "", nil, false)
	fs.CreateFile(ctx, "proj-2", "files/scripts/orphan.json", []byte(`{}`))

	result := m.CheckIntegrity(ctx, "proj-2")
	if result.Status != "inconsistent" {
		t.Fatalf("expected inconsistent status, got %v", result.Status)
	}
	if len(result.Inconsistencies) != 1 || result.Inconsistencies[0].Type != InconsistencyMissingFile {
		t.Fatalf("expected one missing_file inconsistency, got %+v", result.Inconsistencies)
	}
	if len(result.OrphanedFiles) != 1 {
		t.Fatalf("expected one orphaned file, got %+v", result.OrphanedFiles)
	}
}

func TestAutoRepairIntegrityRegistersOrphans(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-3", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-3")
	fs.CreateFile(ctx, "proj-3", "files/scripts/orphan.json", []byte(`{}`))

	report := m.AutoRepairIntegrity(ctx, "proj-3")
	if report.IssuesRepaired != 1 {
		t.Fatalf("expected one repaired issue, got %+v", report)
	}

	files, _ := repo.GetFilesByQuery(ctx, "proj-3", sqlite.FileQuery{})
	if len(files) != 1 {
		t.Fatalf("expected orphan to be registered, got %+v", files)
	}
}

func TestAutoRepairIntegrityDropsMissingFileReference(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-missing", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-missing")

	repo.RegisterFileReference(ctx, "proj-missing", project.FileTypeScript, project.CategoryOutput, "files/scripts/missing.json", "missing.json", 10, "", nil, false)

	report := m.AutoRepairIntegrity(ctx, "proj-missing")
	if report.IssuesRepaired != 1 {
		t.Fatalf("expected one repaired issue, got %+v", report)
	}

	files, _ := repo.GetFilesByQuery(ctx, "proj-missing", sqlite.FileQuery{})
	if len(files) != 0 {
		t.Fatalf("expected the dangling reference to be dropped, got %+v", files)
	}

	if result := m.CheckIntegrity(ctx, "proj-missing"); result.Status != StatusSuccess {
		t.Fatalf("expected integrity check to succeed after repair, got %+v", result)
	}
}

func TestAutoRepairIntegrityNoRepairNeeded(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-4", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-4")

	report := m.AutoRepairIntegrity(ctx, "proj-4")
	if report.Status != StatusNoRepairNeeded {
		t.Fatalf("expected no_repair_needed, got %v", report.Status)
	}
}

func TestOperationLockPreventsConcurrentSync(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-5", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-5")

	if !m.AcquireOperationLock("proj-5") {
		t.Fatal("expected first lock acquisition to succeed")
	}
	if m.AcquireOperationLock("proj-5") {
		t.Fatal("expected second lock acquisition to fail while held")
	}
	m.ReleaseOperationLock("proj-5")
	if !m.AcquireOperationLock("proj-5") {
		t.Fatal("expected lock to be re-acquirable after release")
	}
	m.ReleaseOperationLock("proj-5")
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-6", "A cat video", 3, nil, project.StatusCompleted)
	fs.CreateProjectDirectory(ctx, "proj-6")
	fs.CreateFile(ctx, "proj-6", "files/scripts/script.json", []byte(`{"ok":true}`))
	repo.RegisterFileReference(ctx, "proj-6", project.FileTypeScript, project.CategoryOutput, "files/scripts/script.json", "script.json", 11, "application/json", nil, false)

	backupDir := t.TempDir()
	backupPath := filepath.Join(backupDir, "proj-6_full.zip")

	if err := m.CreateProjectBackup(ctx, "proj-6", backupPath); err != nil {
		t.Fatalf("CreateProjectBackup: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}

	if err := m.RestoreProjectFromBackup(ctx, backupPath, "proj-6-restored"); err != nil {
		t.Fatalf("RestoreProjectFromBackup: %v", err)
	}

	restored, err := repo.GetProject(ctx, "proj-6-restored")
	if err != nil || restored == nil || restored.Subject != "A cat video" {
		t.Fatalf("unexpected restored project: %+v/%v", restored, err)
	}

	content, err := fs.ReadFile("proj-6-restored", "files/scripts/script.json")
	if err != nil || content != `{"ok":true}` {
		t.Fatalf("unexpected restored file content: %q/%v", content, err)
	}

	files, err := repo.GetFilesByQuery(ctx, "proj-6-restored", sqlite.FileQuery{})
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one restored file reference, got %+v/%v", files, err)
	}
}

func TestCreateIncrementalBackupWritesSentinelWhenNoChanges(t *testing.T) {
	m, repo, fs, ctx := newTestManager(t)
	repo.CreateProject(ctx, "proj-7", "x", 1, nil, project.StatusCreated)
	fs.CreateProjectDirectory(ctx, "proj-7")

	backupPath := filepath.Join(t.TempDir(), "incremental.zip")
	if err := m.CreateIncrementalBackup(ctx, "proj-7", backupPath, ""); err != nil {
		t.Fatalf("CreateIncrementalBackup: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("expected incremental backup file to exist: %v", err)
	}
}
