// Package storage defines the inbox file-system abstraction.
package storage

import "github.com/starford/refdraft/internal/models"

// Provider is the interface for inbox file operations.
type Provider interface {
	// List returns metadata for every .md file directly inside dir (relative
	// to the inbox root). Subdirectories are not descended into.
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path (relative to inbox root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to inbox root).
	Write(path string, content []byte) error
	// Move renames oldPath to newPath (both relative to inbox root).
	Move(oldPath, newPath string) error
	// Exists reports whether path exists.
	Exists(path string) bool
}
