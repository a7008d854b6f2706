// Package storage is the path-safe file-system layer used for Markdown
// import and export.
package storage

import "time"

// FileInfo describes one file under the root.
type FileInfo struct {
	// Path is relative to the root, with forward slashes.
	Path      string
	Checksum  string
	Size      int64
	UpdatedAt time.Time
}

// Provider is the interface for file operations relative to a root directory.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// List returns every file under dir matching at least one doublestar
	// pattern. Hidden files and directories are skipped.
	List(dir string, patterns []string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
