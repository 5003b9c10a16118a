// Package intake turns raw file selections into validated image files and
// owns the preview handles created for them.
package intake

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/embedlink/embedlink/internal/constants"
)

// File is one selected image. Either Data holds the content in memory
// (console uploads) or Path points at it on disk (CLI arguments).
type File struct {
	Name string
	Size int64
	Path string
	Data []byte
}

// FromPath stats path and returns a File backed by it.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{Name: filepath.Base(path), Size: info.Size(), Path: path}, nil
}

// FromBytes returns an in-memory File.
func FromBytes(name string, data []byte) File {
	return File{Name: name, Size: int64(len(data)), Data: data}
}

// Open returns a reader over the file content. The caller closes it.
func (f File) Open() (io.ReadCloser, error) {
	if f.Data != nil || f.Path == "" {
		return io.NopCloser(bytes.NewReader(f.Data)), nil
	}
	return os.Open(f.Path)
}

// ReadAll returns the whole content.
func (f File) ReadAll() ([]byte, error) {
	if f.Data != nil || f.Path == "" {
		return f.Data, nil
	}
	return os.ReadFile(f.Path)
}

// Extension returns the lowercase extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// IsAllowed reports whether name carries an accepted image extension.
// The comparison is case-insensitive.
func IsAllowed(name string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	for _, allowed := range constants.AllowedImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// AllowedList renders the allow-list for user messages, e.g. "png, jpg".
func AllowedList() string {
	return strings.Join(constants.AllowedImageExtensions, ", ")
}

// AcceptFilter renders the allow-list as a file-picker accept attribute,
// e.g. ".png,.jpg".
func AcceptFilter() string {
	exts := make([]string, len(constants.AllowedImageExtensions))
	for i, ext := range constants.AllowedImageExtensions {
		exts[i] = "." + ext
	}
	return strings.Join(exts, ",")
}

// Partition splits a selection into accepted and rejected files, keeping
// the selection order in both.
func Partition(files []File) (accepted, rejected []File) {
	for _, f := range files {
		if IsAllowed(f.Name) {
			accepted = append(accepted, f)
		} else {
			rejected = append(rejected, f)
		}
	}
	return accepted, rejected
}

// FormatSize renders a byte count as Bytes, KB, MB or GB with up to two
// decimals, trailing zeros dropped.
func FormatSize(size int64) string {
	if size <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	s := fmt.Sprintf("%.2f", value)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + " " + units[i]
}

// FormatKB renders a byte count in kilobytes with two decimals.
func FormatKB(size int64) string {
	return fmt.Sprintf("%.2f KB", float64(size)/1024)
}
