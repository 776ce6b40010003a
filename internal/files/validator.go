package files

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

const defaultType = "application/octet-stream"

// FileInfo describes a file about to be offered.
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the base name announced to peers
	Name string

	Size int64

	// Type is the MIME type, from the extension or sniffed from content
	Type string
}

// Inspect checks that path is a readable regular file and describes it.
// Empty files are allowed.
func Inspect(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	defer f.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: detectType(absPath, f),
	}, nil
}

// Open inspects path and returns it opened for reading.
func Open(path string) (*os.File, FileInfo, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, info, nil
}

func detectType(path string, r io.Reader) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	if n == 0 {
		return defaultType
	}
	return http.DetectContentType(head[:n])
}

// DetectBytes returns the MIME type for an in-memory file.
func DetectBytes(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	if len(data) == 0 {
		return defaultType
	}
	return http.DetectContentType(data)
}
