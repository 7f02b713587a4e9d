package files

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/BioHazard786/warpmesh/internal/filetransfer"
)

// MaxFileSize bounds what /send loads into memory.
const MaxFileSize = 512 * 1024 * 1024

// FileInfo describes a file about to be sent.
type FileInfo struct {
	Path string
	Name string
	Size int64
	Type string
}

// Validate checks that path is a readable regular file within
// MaxFileSize and detects its MIME type from the extension.
func Validate(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() > MaxFileSize {
		return FileInfo{}, fmt.Errorf("%s: larger than %d bytes", path, MaxFileSize)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(absPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: mimeType,
	}, nil
}

// Load validates path and reads it into a transfer-ready File.
func Load(path string) (filetransfer.File, error) {
	info, err := Validate(path)
	if err != nil {
		return filetransfer.File{}, err
	}
	data, err := os.ReadFile(info.Path)
	if err != nil {
		return filetransfer.File{}, fmt.Errorf("%s: read failed: %w", path, err)
	}
	return filetransfer.File{Name: info.Name, Type: info.Type, Data: data}, nil
}

// Save writes a received file into dir under a unique, sanitized name and
// returns the path written.
func Save(dir string, f filetransfer.File, unique func(dir, name string) string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := unique(dir, f.Name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
