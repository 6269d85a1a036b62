// Package fileguard enforces the directory allow-list for local file
// fetching. Every path is resolved (symlinks included) before checking, so
// traversal through links or ".." segments cannot escape the allowed roots.
// Validation failures fail closed; callers must never fall back to another
// strategy on a fileguard error.
package fileguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultMaxFileSize bounds how large a local file may be before it is
// rejected.
const DefaultMaxFileSize int64 = 32 << 20 // 32 MiB

// Validation failure sentinels, checked with errors.Is.
var (
	ErrOutsideAllowList = errors.New("path outside allowed directories")
	ErrNotRegularFile   = errors.New("path is not a regular file")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
)

// Guard validates local file paths against an explicit allow-list of
// directories and optional glob patterns.
type Guard struct {
	allowedDirs []string
	patterns    []glob.Glob
	maxFileSize int64
}

// NewGuard creates a guard allowing access under the given directories.
// Directories are resolved to absolute, symlink-evaluated paths. maxFileSize
// of zero or less falls back to DefaultMaxFileSize.
func NewGuard(allowedDirs []string, maxFileSize int64) (*Guard, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	g := &Guard{maxFileSize: maxFileSize}
	for _, dir := range allowedDirs {
		if err := g.AddAllowedDir(dir); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddAllowedDir adds a directory to the allow-list.
func (g *Guard) AddAllowedDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("allowed directory cannot be empty")
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve allowed directory %q: %w", dir, err)
	}

	resolved := resolveSymlinks(absPath)

	for _, existing := range g.allowedDirs {
		if existing == resolved {
			return nil
		}
	}
	g.allowedDirs = append(g.allowedDirs, resolved)
	return nil
}

// AddPattern adds a glob pattern matched against resolved absolute paths,
// e.g. "/srv/corpus/**/*.txt". A path matching any pattern is allowed even
// when it is outside the allowed directories.
func (g *Guard) AddPattern(pattern string) error {
	compiled, err := glob.Compile(pattern, '/')
	if err != nil {
		return fmt.Errorf("invalid allow-list pattern %q: %w", pattern, err)
	}
	g.patterns = append(g.patterns, compiled)
	return nil
}

// MaxFileSize returns the configured file size bound.
func (g *Guard) MaxFileSize() int64 {
	return g.maxFileSize
}

// Validate checks path against the allow-list and file constraints and
// returns the resolved absolute path on success. The returned error wraps
// one of the package sentinels.
func (g *Guard) Validate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty: %w", ErrOutsideAllowList)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", path, err)
	}
	resolved := resolveSymlinks(absPath)

	if !g.isAllowed(resolved) {
		return "", fmt.Errorf("%q: %w", path, ErrOutsideAllowList)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%q: %w", path, ErrNotRegularFile)
	}
	if info.Size() > g.maxFileSize {
		return "", fmt.Errorf("%q is %d bytes (limit %d): %w", path, info.Size(), g.maxFileSize, ErrFileTooLarge)
	}

	return resolved, nil
}

func (g *Guard) isAllowed(resolved string) bool {
	for _, dir := range g.allowedDirs {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return true
		}
	}
	for _, pattern := range g.patterns {
		if pattern.Match(resolved) {
			return true
		}
	}
	return false
}

// resolveSymlinks evaluates symlinks in path, walking up through
// non-existent components so paths that will be created later still resolve
// consistently.
func resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		components = append(components, filepath.Base(current))
		current = parent
	}
}
