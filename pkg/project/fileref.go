package project

import "time"

// FileType is the enumerated kind of a registered project file.
type FileType string

const (
	FileTypeScript    FileType = "script"
	FileTypeAudio     FileType = "audio"
	FileTypeVideo     FileType = "video"
	FileTypeImage     FileType = "image"
	FileTypeSubtitle  FileType = "subtitle"
	FileTypeThumbnail FileType = "thumbnail"
	FileTypeConfig    FileType = "config"
	FileTypeMetadata  FileType = "metadata"
)

// ValidFileTypes is the complete enum, used for check-constraint style
// validation and for restore-time type correction.
var ValidFileTypes = map[FileType]bool{
	FileTypeScript: true, FileTypeAudio: true, FileTypeVideo: true,
	FileTypeImage: true, FileTypeSubtitle: true, FileTypeThumbnail: true,
	FileTypeConfig: true, FileTypeMetadata: true,
}

// FileCategory is the enumerated role a file plays in the pipeline.
type FileCategory string

const (
	CategoryInput        FileCategory = "input"
	CategoryIntermediate FileCategory = "intermediate"
	CategoryOutput       FileCategory = "output"
	CategoryTemp         FileCategory = "temp"
	CategoryOther        FileCategory = "other"
)

// FileReference is a registered project file: the repository's record of
// a file the filesystem manager may or may not currently hold.
type FileReference struct {
	ID           int64
	ProjectID    string
	FileType     FileType
	FileCategory FileCategory
	FilePath     string
	FileName     string
	FileSize     int64
	MimeType     string
	Metadata     map[string]any
	IsTemporary  bool
	CreatedAt    time.Time
}

// InferFileType guesses a FileType from a file's extension, mirroring the
// restore/sync inference rules: .json/.txt -> script, .wav/.mp3 -> audio,
// .mp4/.avi -> video, .png/.jpg/.jpeg -> image, else config.
func InferFileType(ext string) FileType {
	switch ext {
	case ".json", ".txt":
		return FileTypeScript
	case ".wav", ".mp3":
		return FileTypeAudio
	case ".mp4", ".avi":
		return FileTypeVideo
	case ".png", ".jpg", ".jpeg":
		return FileTypeImage
	default:
		return FileTypeConfig
	}
}

// InferFileCategory guesses a FileCategory from a project-relative path's
// directory components: temp/ -> temp, final/ -> output, original/ ->
// input, else intermediate.
func InferFileCategory(relPath string) FileCategory {
	switch {
	case containsSegment(relPath, "temp"):
		return CategoryTemp
	case containsSegment(relPath, "final"):
		return CategoryOutput
	case containsSegment(relPath, "original"):
		return CategoryInput
	default:
		return CategoryIntermediate
	}
}

func containsSegment(path, segment string) bool {
	for _, part := range splitPath(path) {
		if part == segment {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' || path[i] == '\\' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		parts = append(parts, path[start:])
	}
	return parts
}
