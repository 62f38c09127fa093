// Package paths translates between portable relative storage paths and the
// device's current absolute storage root. The absolute root can change
// across reinstalls, so persisted paths are always relative.
package paths

import (
	"path"
	"path/filepath"
	"strings"
)

// AudioDir is the directory under the storage root that holds audio files.
const AudioDir = "audio"

// Resolver resolves relative storage paths against a storage root.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver for the given absolute storage root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: filepath.Clean(root)}
}

// Root returns the current absolute storage root.
func (r *Resolver) Root() string {
	return r.root
}

// IsRelative reports whether p is a relative storage path.
func (r *Resolver) IsRelative(p string) bool {
	return p != "" && !filepath.IsAbs(p)
}

// ToAbsolute resolves a storage path to an absolute path under the current
// root. Already-absolute paths are returned cleaned, so the call is
// idempotent.
func (r *Resolver) ToAbsolute(p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.root, filepath.FromSlash(p))
}

// ToRelative converts an absolute path under the current root back to a
// portable relative path. Already-relative paths are returned normalized, so
// the call is idempotent. Absolute paths outside the recognized root degrade
// to a filename-based extraction under the audio directory rather than
// failing; entries written before a path-format change carry such paths.
func (r *Resolver) ToRelative(p string) string {
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		return path.Clean(filepath.ToSlash(p))
	}
	cleaned := filepath.Clean(p)
	if rel, err := filepath.Rel(r.root, cleaned); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path.Join(AudioDir, filepath.Base(cleaned))
}
