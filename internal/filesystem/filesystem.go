package filesystem

import (
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"filedrop/internal/errors"
)

// Permissions for directories and files created by the server
const (
	DirPerms  = 0755
	FilePerms = 0644
)

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	IsFile   bool
	Modified time.Time
}

// reservedNames can never be used as a destination
var reservedNames = []string{"", ".", ".."}

// GetFileInfo returns information about a local file
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		IsFile:   stat.Mode().IsRegular(),
		Modified: stat.ModTime(),
	}, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}
	return nil
}

// BaseName returns the final path component of an untrusted name. Both '/'
// and '\' count as separators whatever the host OS is.
func BaseName(raw string) string {
	name := strings.TrimRight(raw, `/\`)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// ResolveDestination maps an untrusted file name onto a path directly inside
// root. Only the final path component is kept; names that reduce to nothing
// usable are rejected.
func ResolveDestination(root, raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", errors.NewValidationError("name", raw, "name is not valid UTF-8")
	}
	if strings.ContainsRune(raw, 0) {
		return "", errors.NewValidationError("name", raw, "name contains a NUL byte")
	}

	name := BaseName(raw)
	if lo.Contains(reservedNames, name) || strings.TrimSpace(name) == "" {
		return "", errors.NewValidationError("name", raw, "name does not resolve to a file")
	}
	if filepath.VolumeName(name) != "" {
		return "", errors.NewValidationError("name", raw, "name carries a volume prefix")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewFileSystemError("resolve_root", root, err)
	}
	target := filepath.Join(absRoot, name)

	// Join cleans the path, so containment is checked on the final result
	if filepath.Dir(target) != filepath.Clean(absRoot) {
		return "", errors.NewValidationError("name", raw, "name resolves outside the uploads root")
	}

	return target, nil
}

// CreateExclusive creates path for writing and fails if anything already
// exists under that name. The check and the create are one atomic operation.
func CreateExclusive(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePerms)
	if err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return nil, errors.NewDestinationConflictError(path, err)
		}
		return nil, errors.NewFileSystemError("create", path, err)
	}
	return file, nil
}

// Finalize flushes file contents to stable storage and closes the file
func Finalize(file *os.File) error {
	syncErr := file.Sync()
	closeErr := file.Close()
	if syncErr != nil {
		return errors.NewFileSystemError("sync", file.Name(), syncErr)
	}
	if closeErr != nil {
		return errors.NewFileSystemError("close", file.Name(), closeErr)
	}
	return nil
}

// RemovePartial deletes a destination that was not completed. A missing file
// is not an error; any other failure is logged and returned.
func RemovePartial(path string, log *slog.Logger) error {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		log.Error("Failed to remove partial file", "path", path, "error", err)
		return errors.NewFileSystemError("remove_partial", path, err)
	}
	return nil
}

// DetectContentType sniffs the MIME type of a stored file
func DetectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "unknown"
	}
	return mt.String()
}
